package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPConfig configures the Secret Manager source.
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

type accessFunc func(ctx context.Context, resource string) ([]byte, error)

// GCP reads the latest version of secrets from Google Secret Manager.
type GCP struct {
	projectID string
	access    accessFunc
	close     func() error
}

// NewGCP creates a Secret Manager backed source.
func NewGCP(ctx context.Context, cfg GCPConfig) (*GCP, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("secrets: gcp project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}

	return &GCP{
		projectID: cfg.ProjectID,
		access: func(ctx context.Context, resource string) ([]byte, error) {
			resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
			if err != nil {
				return nil, err
			}
			return resp.GetPayload().GetData(), nil
		},
		close: client.Close,
	}, nil
}

// Get returns the latest version of the named secret.
func (g *GCP) Get(ctx context.Context, name string) (string, error) {
	resource := name
	if !strings.HasPrefix(name, "projects/") {
		resource = fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, name)
	}

	data, err := g.access(ctx, resource)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("access secret %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Close releases the client connection.
func (g *GCP) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}
