package app

import (
	"context"
	"fmt"

	"github.com/bissquit/market-courier/internal/config"
	"github.com/bissquit/market-courier/internal/pkg/secrets"
)

// secretsSource is the cached secrets backend with its release hook.
type secretsSource struct {
	secrets.Source
	close func() error
}

func openSecrets(ctx context.Context, cfg config.SecretsConfig) (*secretsSource, error) {
	var (
		src     secrets.Source
		closeFn = func() error { return nil }
	)

	switch cfg.Provider {
	case config.SecretsGCP:
		gcp, err := secrets.NewGCP(ctx, secrets.GCPConfig{
			ProjectID:       cfg.GCPProjectID,
			CredentialsFile: cfg.GCPCredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("open secret manager: %w", err)
		}
		src, closeFn = gcp, gcp.Close
	default:
		src = secrets.Static(cfg.Static)
	}

	return &secretsSource{
		Source: secrets.Cached(src, cfg.CacheTTL),
		close:  closeFn,
	}, nil
}

func (s *secretsSource) signingKeys(cfg config.SignatureConfig) secrets.SigningKeys {
	return secrets.SigningKeys{
		Source:      s.Source,
		CurrentName: cfg.CurrentKeyName,
		NextName:    cfg.NextKeyName,
	}
}

// Close releases the underlying client.
func (s *secretsSource) Close() error {
	return s.close()
}
