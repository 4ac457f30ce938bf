// Copyright 2025 Certen Protocol
//
// Policy Configuration Loader
//
// Loads the engine's domain-policy knobs (dispute windows, x402 defaults,
// arbitration panel sizing, wallet reserve settings) from a YAML file, with
// ${VAR_NAME} / ${VAR_NAME:-default} environment variable substitution.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyConfig holds the nested domain-policy configuration for one engine
// deployment.
type PolicyConfig struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Dispute     DisputeSettings     `yaml:"dispute"`
	X402        X402Settings        `yaml:"x402"`
	Arbitration ArbitrationSettings `yaml:"arbitration"`
	Wallet      WalletSettings      `yaml:"wallet"`
	Monitoring  MonitoringSettings  `yaml:"monitoring"`
}

// DisputeSettings configures the dispute/arbitration escalation ladder.
type DisputeSettings struct {
	DefaultWindow        Duration `yaml:"default_window"`
	CounterpartyDeadline Duration `yaml:"counterparty_deadline"`
	ArbiterDeadline      Duration `yaml:"arbiter_deadline"`
	MaxOpenPerRun        int      `yaml:"max_open_per_run"`
}

// X402Settings configures default gate behavior.
type X402Settings struct {
	DefaultBindingMode string   `yaml:"default_binding_mode"` // "strict" or "open"
	QuoteTTL           Duration `yaml:"quote_ttl"`
	IntentExpiryLeeway Duration `yaml:"intent_expiry_leeway"`
}

// ArbitrationSettings configures the l3_external BLS arbiter panel.
type ArbitrationSettings struct {
	PanelSize            int     `yaml:"panel_size"`
	ThresholdFraction    float64 `yaml:"threshold_fraction"`
	BLSDomainAttestation string  `yaml:"bls_domain_attestation"`
}

// WalletSettings configures the double-entry ledger's reserve currency and
// hold behavior.
type WalletSettings struct {
	ReserveCurrency string   `yaml:"reserve_currency"`
	MinHoldCents    int64    `yaml:"min_hold_cents"`
	HoldExpiry      Duration `yaml:"hold_expiry"`
}

// MonitoringSettings configures the metrics/health endpoints.
type MonitoringSettings struct {
	Metrics MetricsSettings `yaml:"metrics"`
	Health  HealthSettings  `yaml:"health"`
	Logging LoggingSettings `yaml:"logging"`
}

type MetricsSettings struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

type HealthSettings struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadPolicyConfig loads policy configuration from a YAML file. Environment
// variables in the form ${VAR_NAME} or ${VAR_NAME:-default} are substituted
// before parsing.
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg PolicyConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse policy config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadPolicyConfigWithDefaults loads a policy config and fills in any
// unset fields with production-safe defaults.
func LoadPolicyConfigWithDefaults(path string) (*PolicyConfig, error) {
	cfg, err := LoadPolicyConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *PolicyConfig) applyDefaults() {
	if c.Dispute.DefaultWindow == 0 {
		c.Dispute.DefaultWindow = Duration(72 * time.Hour)
	}
	if c.Dispute.CounterpartyDeadline == 0 {
		c.Dispute.CounterpartyDeadline = Duration(24 * time.Hour)
	}
	if c.Dispute.ArbiterDeadline == 0 {
		c.Dispute.ArbiterDeadline = Duration(48 * time.Hour)
	}
	if c.Dispute.MaxOpenPerRun == 0 {
		c.Dispute.MaxOpenPerRun = 1
	}

	if c.X402.DefaultBindingMode == "" {
		c.X402.DefaultBindingMode = "strict"
	}
	if c.X402.QuoteTTL == 0 {
		c.X402.QuoteTTL = Duration(5 * time.Minute)
	}
	if c.X402.IntentExpiryLeeway == 0 {
		c.X402.IntentExpiryLeeway = Duration(30 * time.Second)
	}

	if c.Arbitration.PanelSize == 0 {
		c.Arbitration.PanelSize = 5
	}
	if c.Arbitration.ThresholdFraction == 0 {
		c.Arbitration.ThresholdFraction = 0.667
	}
	if c.Arbitration.BLSDomainAttestation == "" {
		c.Arbitration.BLSDomainAttestation = "NOOTERRA_ARBITRATION_V1"
	}

	if c.Wallet.ReserveCurrency == "" {
		c.Wallet.ReserveCurrency = "USD"
	}
	if c.Wallet.HoldExpiry == 0 {
		c.Wallet.HoldExpiry = Duration(7 * 24 * time.Hour)
	}

	if c.Monitoring.Metrics.Port == 0 {
		c.Monitoring.Metrics.Port = 9090
	}
	if c.Monitoring.Metrics.Path == "" {
		c.Monitoring.Metrics.Path = "/metrics"
	}
	if c.Monitoring.Health.Port == 0 {
		c.Monitoring.Health.Port = 8081
	}
	if c.Monitoring.Health.Path == "" {
		c.Monitoring.Health.Path = "/health"
	}
	if c.Monitoring.Logging.Level == "" {
		c.Monitoring.Logging.Level = "info"
	}
	if c.Monitoring.Logging.Format == "" {
		c.Monitoring.Logging.Format = "json"
	}
	if c.Monitoring.Logging.Output == "" {
		c.Monitoring.Logging.Output = "stdout"
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ValidatePolicyConfig validates the policy configuration for production use.
func (c *PolicyConfig) ValidatePolicyConfig() error {
	var errs []string

	if c.Dispute.DefaultWindow <= 0 {
		errs = append(errs, "dispute.default_window must be positive")
	}
	if c.X402.DefaultBindingMode != "strict" && c.X402.DefaultBindingMode != "open" {
		errs = append(errs, "x402.default_binding_mode must be 'strict' or 'open'")
	}
	if c.Arbitration.PanelSize < 1 {
		errs = append(errs, "arbitration.panel_size must be at least 1")
	}
	if c.Arbitration.ThresholdFraction <= 0 || c.Arbitration.ThresholdFraction > 1 {
		errs = append(errs, "arbitration.threshold_fraction must be in (0, 1]")
	}
	if c.Wallet.ReserveCurrency == "" {
		errs = append(errs, "wallet.reserve_currency is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("policy configuration validation failed: %v", errs)
	}
	return nil
}

// GetArbitrationThresholdCount returns the minimum number of panel
// signatures required for quorum, rounding up from ThresholdFraction.
func (c *PolicyConfig) GetArbitrationThresholdCount() int {
	count := int(float64(c.Arbitration.PanelSize)*c.Arbitration.ThresholdFraction + 0.999)
	if count < 1 {
		count = 1
	}
	if count > c.Arbitration.PanelSize {
		count = c.Arbitration.PanelSize
	}
	return count
}
