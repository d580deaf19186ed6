// Package secrets resolves the feed API token. When Vault is configured
// the token comes from a KV v2 secret; otherwise the value already loaded
// from config and environment is used as is.
package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
)

// Provider fetches secrets from Vault with a config fallback.
type Provider struct {
	cfg    config.VaultConfig
	client *api.Client
	logger zerolog.Logger
}

// NewProvider builds the Vault client when enabled. A disabled provider is
// valid and always serves fallbacks.
func NewProvider(cfg config.VaultConfig, logger zerolog.Logger) (*Provider, error) {
	log := logger.With().Str("component", "secrets").Logger()

	if !cfg.Enabled {
		return &Provider{cfg: cfg, logger: log}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	log.Info().Str("address", cfg.Address).Msg("Vault secrets enabled")
	return &Provider{cfg: cfg, client: client, logger: log}, nil
}

// FeedToken returns the feed API token. With Vault disabled the fallback is
// returned untouched; with Vault enabled a failed lookup is an error, never
// a silent downgrade to the fallback.
func (p *Provider) FeedToken(ctx context.Context, fallback string) (string, error) {
	if p.client == nil {
		return fallback, nil
	}

	path := fmt.Sprintf("%s/data/%s", p.cfg.MountPath, p.cfg.SecretPath)
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret at %s: %w", path, err)
	}

	token, err := extractField(secret, p.cfg.TokenField)
	if err != nil {
		return "", fmt.Errorf("secret at %s: %w", path, err)
	}

	p.logger.Info().Str("path", path).Msg("Feed token loaded from Vault")
	return token, nil
}

// extractField digs the named field out of a KV v2 secret, where the
// payload sits under a nested "data" map.
func extractField(secret *api.Secret, field string) (string, error) {
	if secret == nil {
		return "", fmt.Errorf("secret not found")
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected secret shape, want kv v2")
	}
	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("field %q is missing or empty", field)
	}
	return value, nil
}
