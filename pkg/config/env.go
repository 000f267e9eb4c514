package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvLedgerPath      = "GOVERNANCE_LEDGER_PATH"
	EnvStateDir        = "GOVERNANCE_STATE_DIR"
	EnvConstitution    = "CONSTITUTION_PATH"
	EnvFactsPath       = "GOVERNANCE_FACTS_PATH"
	EnvInterval        = "VALIDATION_INTERVAL"
	EnvLogLevel        = "LOG_LEVEL"
	EnvAlerting        = "ALERTING_ENABLED"
	EnvWebhookURL      = "ALERT_WEBHOOK_URL"
	EnvMode            = "GOVERNANCE_MODE"
	EnvDebug           = "DEBUG"
	EnvQuorumSecret    = "GOVERNANCE_QUORUM_SECRET"
	EnvTelemetry       = "OTEL_ENABLED"
	EnvTelemetryTarget = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// ApplyEnv overlays environment values. lookup is os.LookupEnv in production.
// A state dir override relocates the ledger and PID file unless they are set
// explicitly as well.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get(EnvStateDir); ok && v != "" {
		c.StateDir = v
		c.Ledger.Path = filepath.Join(v, "governance_ledger.ndjson")
		c.PIDPath = filepath.Join(v, "govkernel.pid")
	}
	if v, ok := get(EnvLedgerPath); ok && v != "" {
		c.Ledger.Path = v
	}
	if v, ok := get(EnvConstitution); ok && v != "" {
		c.ConstitutionPath = v
	}
	if v, ok := get(EnvFactsPath); ok {
		c.FactsPath = v
	}
	if v, ok := get(EnvInterval); ok && v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvInterval, err)
		}
		c.Validation.Interval = Duration(d)
	}
	if v, ok := get(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvAlerting); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAlerting, err)
		}
		c.Alerting.Enabled = b
	}
	if v, ok := get(EnvWebhookURL); ok {
		c.Alerting.WebhookURL = v
	}
	if v, ok := get(EnvMode); ok && v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v, ok := get(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Debug = b
	}
	if v, ok := get(EnvQuorumSecret); ok {
		c.Quorum.Secret = v
	}
	if v, ok := get(EnvTelemetry); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelemetry, err)
		}
		c.Telemetry.Enabled = b
	}
	if v, ok := get(EnvTelemetryTarget); ok && v != "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

// parseInterval accepts whole seconds ("30") or a Go duration ("30s").
func parseInterval(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
