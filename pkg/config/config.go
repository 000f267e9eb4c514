// Package config loads kernel configuration: defaults, then a YAML or TOML file,
// then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger/archive"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
)

// SchemaVersion is written by this build; SupportedSchemas is what it accepts.
const (
	SchemaVersion    = "1.0.0"
	SupportedSchemas = ">= 1.0.0, < 2.0.0"
)

// Modes.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
	ModeTest        = "test"
)

// Config holds kernel configuration.
type Config struct {
	SchemaVersion string `yaml:"schema_version" toml:"schema_version"`
	Mode          string `yaml:"mode" toml:"mode"`
	Debug         bool   `yaml:"debug" toml:"debug"`

	StateDir string `yaml:"state_dir" toml:"state_dir"`
	PIDPath  string `yaml:"pid_path" toml:"pid_path"`

	ConstitutionPath         string `yaml:"constitution_path" toml:"constitution_path"`
	ExpectedConstitutionHash string `yaml:"expected_constitution_hash" toml:"expected_constitution_hash"`
	ConstraintDir            string `yaml:"constraint_dir" toml:"constraint_dir"`
	WatchConstraints         bool   `yaml:"watch_constraints" toml:"watch_constraints"`
	FactsPath                string `yaml:"facts_path" toml:"facts_path"`
	ManifestPath             string `yaml:"manifest_path" toml:"manifest_path"`
	ManifestRoot             string `yaml:"manifest_root" toml:"manifest_root"`

	Ledger     LedgerConfig     `yaml:"ledger" toml:"ledger"`
	Validation ValidationConfig `yaml:"validation" toml:"validation"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Alerting   AlertingConfig   `yaml:"alerting" toml:"alerting"`
	Quorum     QuorumConfig     `yaml:"quorum" toml:"quorum"`
	HUG        HUGConfig        `yaml:"hug" toml:"hug"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

type LedgerConfig struct {
	Path           string        `yaml:"path" toml:"path"`
	Algorithm      string        `yaml:"algorithm" toml:"algorithm"`
	Sync           bool          `yaml:"sync" toml:"sync"`
	RotateMaxBytes int64         `yaml:"rotate_max_bytes" toml:"rotate_max_bytes"`
	RotateInterval Duration      `yaml:"rotate_interval" toml:"rotate_interval"`
	Mirror         MirrorConfig  `yaml:"mirror" toml:"mirror"`
	Archive        ArchiveConfig `yaml:"archive" toml:"archive"`
}

// MirrorConfig selects an optional SQL copy of the chain. Driver is "sqlite" or
// "postgres"; empty disables mirroring.
type MirrorConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

type ArchiveConfig struct {
	Type     string `yaml:"type" toml:"type"`
	Dir      string `yaml:"dir" toml:"dir"`
	Bucket   string `yaml:"bucket" toml:"bucket"`
	Region   string `yaml:"region" toml:"region"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// Archive converts to the archive package configuration.
func (a ArchiveConfig) Archive() archive.Config {
	return archive.Config{
		Type:     archive.Type(a.Type),
		Dir:      a.Dir,
		Bucket:   a.Bucket,
		Region:   a.Region,
		Endpoint: a.Endpoint,
		Prefix:   a.Prefix,
	}
}

type ValidationConfig struct {
	Interval              Duration `yaml:"interval" toml:"interval"`
	MaxFailuresBeforeHalt int      `yaml:"max_failures_before_halt" toml:"max_failures_before_halt"`
	HaltOnCritical        bool     `yaml:"halt_on_critical" toml:"halt_on_critical"`
	// VerifyEvery replays the full chain every N cycles. 0 disables periodic replay.
	VerifyEvery int      `yaml:"verify_every" toml:"verify_every"`
	Disabled    []string `yaml:"disabled" toml:"disabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Path   string `yaml:"path" toml:"path"`
}

type AlertingConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	WebhookURL     string   `yaml:"webhook_url" toml:"webhook_url"`
	WebhookTimeout Duration `yaml:"webhook_timeout" toml:"webhook_timeout"`
	RedisAddr      string   `yaml:"redis_addr" toml:"redis_addr"`
	RedisChannel   string   `yaml:"redis_channel" toml:"redis_channel"`
	RatePerMinute  int      `yaml:"rate_per_minute" toml:"rate_per_minute"`
	Burst          int      `yaml:"burst" toml:"burst"`
}

// QuorumConfig enables token-based quorum checks. An empty secret disables them and
// callers must assert quorum_satisfied themselves.
type QuorumConfig struct {
	Secret    string `yaml:"secret" toml:"secret"`
	Threshold int    `yaml:"threshold" toml:"threshold"`
}

type HUGConfig struct {
	SensitiveKeywords []string `yaml:"sensitive_keywords" toml:"sensitive_keywords"`
	ApprovalMarkers   []string `yaml:"approval_markers" toml:"approval_markers"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" toml:"sample_rate"`
	Environment string  `yaml:"environment" toml:"environment"`
}

// Default returns production defaults.
func Default() *Config {
	return &Config{
		SchemaVersion:    SchemaVersion,
		Mode:             ModeProduction,
		StateDir:         "/var/lib/govkernel",
		PIDPath:          "/var/run/govkernel/govkernel.pid",
		ConstitutionPath: "/etc/govkernel/constitution.yaml",
		ConstraintDir:    "/etc/govkernel",
		Ledger: LedgerConfig{
			Path:      "/var/lib/govkernel/governance_ledger.ndjson",
			Algorithm: string(canonicalize.SHA256),
			Sync:      true,
		},
		Validation: ValidationConfig{
			Interval:              Duration(30 * time.Second),
			MaxFailuresBeforeHalt: 3,
			HaltOnCritical:        true,
			VerifyEvery:           10,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Alerting: AlertingConfig{
			Enabled:        true,
			WebhookTimeout: Duration(5 * time.Second),
			RedisChannel:   "govkernel:alerts",
			RatePerMinute:  30,
			Burst:          10,
		},
		Quorum: QuorumConfig{Threshold: 2},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: ModeProduction,
		},
	}
}

// ForTesting returns a configuration rooted at dir with a short interval.
func ForTesting(dir string) *Config {
	cfg := Default()
	cfg.Mode = ModeTest
	cfg.Debug = true
	cfg.StateDir = dir
	cfg.PIDPath = filepath.Join(dir, "govkernel.pid")
	cfg.ConstitutionPath = filepath.Join(dir, "constitution.yaml")
	cfg.ConstraintDir = dir
	cfg.Ledger.Path = filepath.Join(dir, "governance_ledger.ndjson")
	cfg.Ledger.Sync = false
	cfg.Validation.Interval = Duration(5 * time.Second)
	cfg.Logging.Level = "debug"
	cfg.Telemetry.Environment = ModeTest
	return cfg
}

// Load reads path (when non-empty) over the defaults and applies the process
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parse config %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// CheckSchemaVersion accepts any version inside SupportedSchemas.
func CheckSchemaVersion(v string) error {
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("schema_version %q: %w", v, err)
	}
	c, err := semver.NewConstraint(SupportedSchemas)
	if err != nil {
		return err
	}
	if !c.Check(ver) {
		return fmt.Errorf("schema_version %s is not supported (want %s)", v, SupportedSchemas)
	}
	return nil
}

// StatusPath is where the daemon publishes its status snapshot, under StateDir.
func (c *Config) StatusPath() string {
	if c.StateDir == "" {
		return ""
	}
	return filepath.Join(c.StateDir, "daemon_status.json")
}

// Validate rejects configurations the kernel cannot run safely.
func (c *Config) Validate() error {
	if err := CheckSchemaVersion(c.SchemaVersion); err != nil {
		return err
	}
	switch c.Mode {
	case ModeProduction, ModeDevelopment, ModeTest:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if _, err := canonicalize.ParseAlgorithm(c.Ledger.Algorithm); err != nil {
		return err
	}
	if c.Ledger.RotateMaxBytes < 0 || c.Ledger.RotateInterval < 0 {
		return fmt.Errorf("ledger rotation limits must not be negative")
	}
	switch c.Ledger.Mirror.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown ledger.mirror.driver %q", c.Ledger.Mirror.Driver)
	}
	if c.Ledger.Mirror.Driver != "" && c.Ledger.Mirror.DSN == "" {
		return fmt.Errorf("ledger.mirror.dsn is required for driver %s", c.Ledger.Mirror.Driver)
	}
	switch archive.Type(c.Ledger.Archive.Type) {
	case archive.TypeNone, archive.TypeFS, archive.TypeS3, archive.TypeGCS:
	default:
		return fmt.Errorf("unknown ledger.archive.type %q", c.Ledger.Archive.Type)
	}
	if c.Validation.Interval <= 0 {
		return fmt.Errorf("validation.interval must be positive")
	}
	if c.Validation.MaxFailuresBeforeHalt < 1 {
		return fmt.Errorf("validation.max_failures_before_halt must be at least 1")
	}
	if c.Validation.VerifyEvery < 0 {
		return fmt.Errorf("validation.verify_every must not be negative")
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if c.Quorum.Threshold < 1 {
		return fmt.Errorf("quorum.threshold must be at least 1")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1]")
	}
	return nil
}
