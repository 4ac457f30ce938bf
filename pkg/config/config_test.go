// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != "memory" {
		t.Fatalf("want default store backend memory, got %s", cfg.StoreBackend)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("want default idempotency ttl 24h, got %v", cfg.IdempotencyTTL)
	}
}

func TestValidate_RequiresSignerKeyRegistryAndJWTSecret(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want validation error with no signer key registry path or jwt secret")
	}

	cfg.SignerKeyRegistryPath = "/etc/nooterra/keys.json"
	cfg.JWTSecret = "a-sufficiently-long-randomly-generated-secret-value"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("want valid config, got %v", err)
	}
}

func TestValidate_RejectsPostgresBackendWithoutURL(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.StoreBackend = "postgres"
	cfg.SignerKeyRegistryPath = "/etc/nooterra/keys.json"
	cfg.JWTSecret = "a-sufficiently-long-randomly-generated-secret-value"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want validation error for postgres backend with no POSTGRES_URL")
	}
}

func TestLoadPolicyConfig_SubstitutesEnvVars(t *testing.T) {
	if err := os.Setenv("NOOTERRA_TEST_PANEL_SIZE", "7"); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	defer os.Unsetenv("NOOTERRA_TEST_PANEL_SIZE")

	path := writeTempFile(t, `
environment: test
version: v1
arbitration:
  panel_size: ${NOOTERRA_TEST_PANEL_SIZE}
  threshold_fraction: 0.667
dispute:
  default_window: 72h
x402:
  default_binding_mode: strict
wallet:
  reserve_currency: USD
`)

	cfg, err := LoadPolicyConfig(path)
	if err != nil {
		t.Fatalf("LoadPolicyConfig: %v", err)
	}
	if cfg.Arbitration.PanelSize != 7 {
		t.Fatalf("want panel size 7 substituted from env, got %d", cfg.Arbitration.PanelSize)
	}
	if cfg.Dispute.DefaultWindow.Duration() != 72*time.Hour {
		t.Fatalf("want 72h default window, got %v", cfg.Dispute.DefaultWindow.Duration())
	}
}

func TestLoadPolicyConfigWithDefaults_FillsUnsetFields(t *testing.T) {
	path := writeTempFile(t, `
environment: test
version: v1
`)
	cfg, err := LoadPolicyConfigWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadPolicyConfigWithDefaults: %v", err)
	}
	if err := cfg.ValidatePolicyConfig(); err != nil {
		t.Fatalf("want defaulted config to validate, got %v", err)
	}
	if cfg.GetArbitrationThresholdCount() != 4 {
		t.Fatalf("want threshold count 4 for panel size 5 at 0.667, got %d", cfg.GetArbitrationThresholdCount())
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "policy-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return f.Name()
}
