package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/govkernel/pkg/config"
	"github.com/Mindburn-Labs/govkernel/pkg/daemon"
	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/hug"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger/archive"
	"github.com/Mindburn-Labs/govkernel/pkg/loudfail"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
	"github.com/Mindburn-Labs/govkernel/pkg/quorum"

	_ "github.com/lib/pq"  // Postgres driver for the ledger mirror
	_ "modernc.org/sqlite" // SQLite driver for the ledger mirror
)

// kernel is the fully wired governance stack for one process.
type kernel struct {
	cfg       *config.Config
	logger    *slog.Logger
	ledger    *ledger.Ledger
	daemon    *daemon.Daemon
	telemetry *observability.Provider

	closers []func() error
}

// loadConfig reads the config file named by --config or GOVERNANCE_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("GOVERNANCE_CONFIG")
	}
	return config.Load(path)
}

// newLogger builds the process logger. Logs go to stderr unless logging.path is set.
func newLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	w, closeFn := stderr, func() error { return nil }
	if cfg.Logging.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.Path), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Logging.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closeFn = f, f.Close
	}
	logger, err := observability.NewLogger(w, level, cfg.Logging.Format)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

// openKernel wires every subsystem from cfg. The caller must Close the kernel.
func openKernel(ctx context.Context, cfg *config.Config, stderr io.Writer) (k *kernel, err error) {
	k = &kernel{cfg: cfg}
	defer func() {
		if err != nil {
			_ = k.Close(context.WithoutCancel(ctx))
			k = nil
		}
	}()

	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return k, err
	}
	k.logger = logger
	k.closers = append(k.closers, closeLog)

	tel, err := observability.New(ctx, &observability.Config{
		ServiceName:    "govkernel",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		BatchTimeout:   observability.DefaultConfig().BatchTimeout,
		MetricInterval: observability.DefaultConfig().MetricInterval,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return k, fmt.Errorf("telemetry: %w", err)
	}
	k.telemetry = tel
	metrics, err := observability.NewMetrics(tel.Meter())
	if err != nil {
		return k, fmt.Errorf("metrics: %w", err)
	}

	alg, err := canonicalize.ParseAlgorithm(cfg.Ledger.Algorithm)
	if err != nil {
		return k, err
	}

	var sinks []ledger.Sink
	if cfg.Ledger.Mirror.Driver != "" {
		db, err := sql.Open(cfg.Ledger.Mirror.Driver, cfg.Ledger.Mirror.DSN)
		if err != nil {
			return k, fmt.Errorf("open ledger mirror: %w", err)
		}
		k.closers = append(k.closers, db.Close)
		mirror := ledger.NewSQLMirror(db)
		if err := mirror.Init(ctx); err != nil {
			return k, fmt.Errorf("init ledger mirror: %w", err)
		}
		sinks = append(sinks, mirror)
	}

	l, err := ledger.Open(ledger.Options{
		Path:           cfg.Ledger.Path,
		Algorithm:      alg,
		Sync:           cfg.Ledger.Sync,
		RotateMaxBytes: cfg.Ledger.RotateMaxBytes,
		RotateInterval: cfg.Ledger.RotateInterval.Std(),
		Sinks:          sinks,
		Logger:         logger,
	})
	if err != nil {
		return k, err
	}
	k.ledger = l
	k.closers = append(k.closers, l.Close)

	provider, err := facts.NewRuntime(facts.RuntimeOptions{
		ConstitutionPath:         cfg.ConstitutionPath,
		ExpectedConstitutionHash: cfg.ExpectedConstitutionHash,
		ConstraintDir:            cfg.ConstraintDir,
		DeclaredPath:             cfg.FactsPath,
		ManifestPath:             cfg.ManifestPath,
		ManifestRoot:             cfg.ManifestRoot,
		Algorithm:                alg,
		AlertingEnabled:          cfg.Alerting.Enabled,
		Logger:                   logger,
	})
	if err != nil {
		return k, fmt.Errorf("facts provider: %w", err)
	}

	matrix, err := haltmatrix.Default()
	if err != nil {
		return k, fmt.Errorf("halt matrix: %w", err)
	}

	handlerOpts := []loudfail.Option{loudfail.WithLogger(logger), loudfail.WithMetrics(metrics)}
	if alerter := k.alerter(); alerter != nil {
		handlerOpts = append(handlerOpts, loudfail.WithAlerter(alerter))
	}

	var verifier *quorum.Verifier
	if cfg.Quorum.Secret != "" {
		if verifier, err = quorum.NewVerifier([]byte(cfg.Quorum.Secret), cfg.Quorum.Threshold); err != nil {
			return k, fmt.Errorf("quorum: %w", err)
		}
	}

	archiver, err := archive.New(ctx, cfg.Ledger.Archive.Archive())
	if err != nil {
		return k, fmt.Errorf("archive: %w", err)
	}

	auditOpts := []hug.Option{hug.WithLogger(logger)}
	if len(cfg.HUG.SensitiveKeywords) > 0 {
		auditOpts = append(auditOpts, hug.WithKeywords(cfg.HUG.SensitiveKeywords))
	}
	if len(cfg.HUG.ApprovalMarkers) > 0 {
		auditOpts = append(auditOpts, hug.WithMarkers(cfg.HUG.ApprovalMarkers))
	}

	k.daemon, err = daemon.New(daemon.Options{
		Registry:         invariant.DefaultRegistry(invariant.WithLogger(logger)),
		Ledger:           l,
		Provider:         provider,
		Matrix:           matrix,
		Handler:          loudfail.New(l, handlerOpts...),
		Audit:            hug.New(l, auditOpts...),
		Quorum:           verifier,
		Archiver:         archiver,
		Telemetry:        tel,
		Metrics:          metrics,
		Validation:       cfg.Validation,
		PIDPath:          cfg.PIDPath,
		StatusPath:       cfg.StatusPath(),
		ConstraintDir:    cfg.ConstraintDir,
		WatchConstraints: cfg.WatchConstraints,
		Logger:           logger,
	})
	if err != nil {
		return k, err
	}
	return k, nil
}

// alerter composes the configured alert channels behind one rate limiter.
func (k *kernel) alerter() loudfail.Alerter {
	a := k.cfg.Alerting
	if !a.Enabled {
		return nil
	}
	var multi loudfail.Multi
	if a.WebhookURL != "" {
		multi = append(multi, loudfail.NewWebhookAlerter(a.WebhookURL, a.WebhookTimeout.Std()))
	}
	if a.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.RedisAddr})
		k.closers = append(k.closers, client.Close)
		multi = append(multi, loudfail.NewRedisAlerter(client, a.RedisChannel))
	}
	if len(multi) == 0 {
		return nil
	}
	return loudfail.NewRateLimited(multi, a.RatePerMinute, a.Burst)
}

// Close releases subsystems in reverse order of acquisition.
func (k *kernel) Close(ctx context.Context) error {
	var errs []error
	for i := len(k.closers) - 1; i >= 0; i-- {
		if err := k.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	if k.telemetry != nil {
		if err := k.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
