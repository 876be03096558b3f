package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/market-courier/internal/pkg/signature"
)

// SigningKeys adapts a Source to signature.KeyProvider.
// The next key is optional and only present during rotation.
type SigningKeys struct {
	Source      Source
	CurrentName string
	NextName    string
}

// SigningKeys loads the current and next delivery signing keys.
func (k SigningKeys) SigningKeys(ctx context.Context) (signature.Keys, error) {
	current, err := k.Source.Get(ctx, k.CurrentName)
	if err != nil {
		return signature.Keys{}, fmt.Errorf("load %s: %w", k.CurrentName, err)
	}

	var next string
	if k.NextName != "" {
		next, err = k.Source.Get(ctx, k.NextName)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return signature.Keys{}, fmt.Errorf("load %s: %w", k.NextName, err)
		}
	}

	return signature.Keys{Current: current, Next: next}, nil
}
