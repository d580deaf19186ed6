package secrets

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
)

// TestDisabledProviderServesFallback returns the config token untouched
// when Vault is off.
func TestDisabledProviderServesFallback(t *testing.T) {
	provider, err := NewProvider(config.VaultConfig{Enabled: false}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}

	token, err := provider.FeedToken(context.Background(), "env-token")
	if err != nil {
		t.Fatalf("FeedToken returned error: %v", err)
	}
	if token != "env-token" {
		t.Errorf("token = %q, want the fallback", token)
	}
}

// TestExtractField digs through the KV v2 data nesting.
func TestExtractField(t *testing.T) {
	secret := &api.Secret{
		Data: map[string]interface{}{
			"data": map[string]interface{}{
				"token": "vault-token",
				"count": 3,
			},
		},
	}

	token, err := extractField(secret, "token")
	if err != nil {
		t.Fatalf("extractField returned error: %v", err)
	}
	if token != "vault-token" {
		t.Errorf("token = %q, want vault-token", token)
	}

	if _, err := extractField(secret, "missing"); err == nil {
		t.Error("expected an error for an absent field")
	}
	if _, err := extractField(secret, "count"); err == nil {
		t.Error("expected an error for a non-string field")
	}
}

// TestExtractFieldRejectsBadShapes handles nil secrets and KV v1 payloads.
func TestExtractFieldRejectsBadShapes(t *testing.T) {
	if _, err := extractField(nil, "token"); err == nil {
		t.Error("expected an error for a nil secret")
	}

	flat := &api.Secret{Data: map[string]interface{}{"token": "old-style"}}
	if _, err := extractField(flat, "token"); err == nil {
		t.Error("expected an error for a kv v1 shaped secret")
	}
}
