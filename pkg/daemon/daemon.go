// Package daemon runs the governance loop: it validates every registered
// invariant on an interval, records the outcomes in the evidence ledger and
// escalates to an emergency halt when the system can no longer be trusted.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/config"
	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/hug"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger/archive"
	"github.com/Mindburn-Labs/govkernel/pkg/loudfail"
	"github.com/Mindburn-Labs/govkernel/pkg/observability"
	"github.com/Mindburn-Labs/govkernel/pkg/quorum"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrHalted is returned by every cycle after an emergency halt.
	ErrHalted = errors.New("daemon: emergency halt in effect")

	// ErrEmergencyHalt is returned by the cycle that triggered the halt.
	ErrEmergencyHalt = errors.New("daemon: emergency halt")

	ErrAlreadyRunning = errors.New("daemon: already running")
)

// Options wires a Daemon. Registry, Ledger, Provider and Matrix are required.
type Options struct {
	Registry *invariant.Registry
	Ledger   *ledger.Ledger
	Provider facts.Provider
	Matrix   *haltmatrix.Matrix

	// Handler defaults to a loudfail.Handler writing to Ledger.
	Handler *loudfail.Handler
	// Audit defaults to a hug.Protocol writing to Ledger.
	Audit *hug.Protocol
	// Quorum, when set, makes approval tokens the only source of quorum.
	Quorum    *quorum.Verifier
	Archiver  archive.Archiver
	Telemetry *observability.Provider
	Metrics   *observability.Metrics

	Validation       config.ValidationConfig
	PIDPath          string
	ConstraintDir    string
	WatchConstraints bool
	// StatusPath, when set, receives a JSON Status snapshot after every cycle.
	StatusPath string

	Clock  func() time.Time
	Logger *slog.Logger
}

// watchAware is implemented by providers that report constraint watching.
type watchAware interface {
	MarkWatching(active bool)
	RecordWatchEvent(at time.Time)
}

// Daemon is the governance orchestrator. Its methods are safe for concurrent use;
// cycles themselves are serialized.
type Daemon struct {
	registry  *invariant.Registry
	ledger    *ledger.Ledger
	provider  facts.Provider
	matrix    *haltmatrix.Matrix
	handler   *loudfail.Handler
	audit     *hug.Protocol
	quorum    *quorum.Verifier
	archiver  archive.Archiver
	telemetry *observability.Provider
	metrics   *observability.Metrics

	validation       config.ValidationConfig
	pidPath          string
	statusPath       string
	constraintDir    string
	watchConstraints bool

	clock  func() time.Time
	logger *slog.Logger

	// cycleMu serializes validation cycles.
	cycleMu sync.Mutex
	trigger chan struct{}

	mu                  sync.RWMutex
	running             bool
	halted              bool
	haltReason          string
	severity            haltmatrix.Severity
	cycles              uint64
	consecutiveFailures int
	lastCycleID         string
	lastCycleAt         time.Time
	lastFailures        []string
	verification        *ledger.Verification
	verifiedAt          time.Time
	pendingArchive      []string
}

// New validates opts and returns an idle daemon at severity info.
func New(opts Options) (*Daemon, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("daemon: registry is required")
	case opts.Ledger == nil:
		return nil, errors.New("daemon: ledger is required")
	case opts.Provider == nil:
		return nil, errors.New("daemon: facts provider is required")
	case opts.Matrix == nil:
		return nil, errors.New("daemon: halt matrix is required")
	}
	if opts.Validation.Interval <= 0 {
		opts.Validation.Interval = config.Duration(30 * time.Second)
	}
	if opts.Validation.MaxFailuresBeforeHalt < 1 {
		opts.Validation.MaxFailuresBeforeHalt = 3
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.MustMetrics()
	}
	if opts.Handler == nil {
		opts.Handler = loudfail.New(opts.Ledger,
			loudfail.WithLogger(opts.Logger),
			loudfail.WithMetrics(opts.Metrics),
			loudfail.WithClock(opts.Clock))
	}
	if opts.Audit == nil {
		opts.Audit = hug.New(opts.Ledger, hug.WithLogger(opts.Logger), hug.WithClock(opts.Clock))
	}

	for _, id := range opts.Validation.Disabled {
		if err := opts.Registry.Disable(id); err != nil {
			return nil, fmt.Errorf("daemon: disable %s: %w", id, err)
		}
	}

	return &Daemon{
		registry:         opts.Registry,
		ledger:           opts.Ledger,
		provider:         opts.Provider,
		matrix:           opts.Matrix,
		handler:          opts.Handler,
		audit:            opts.Audit,
		quorum:           opts.Quorum,
		archiver:         opts.Archiver,
		telemetry:        opts.Telemetry,
		metrics:          opts.Metrics,
		validation:       opts.Validation,
		pidPath:          opts.PIDPath,
		statusPath:       opts.StatusPath,
		constraintDir:    opts.ConstraintDir,
		watchConstraints: opts.WatchConstraints,
		clock:            opts.Clock,
		logger:           opts.Logger.With("component", "daemon"),
		trigger:          make(chan struct{}, 1),
		severity:         haltmatrix.SeverityInfo,
	}, nil
}

// Run records DAEMON_START, validates immediately and then on every interval until
// ctx is cancelled or an emergency halt occurs. A constraint-file change triggers an
// early cycle. DAEMON_STOP is recorded on the way out.
func (d *Daemon) Run(ctx context.Context) (err error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.saveStatus(context.WithoutCancel(ctx))
	}()

	if d.pidPath != "" {
		if err := writePIDFile(d.pidPath); err != nil {
			return err
		}
		defer func() {
			if rmErr := removePIDFile(d.pidPath); rmErr != nil {
				d.logger.Warn("failed to remove pid file", "path", d.pidPath, "error", rmErr)
			}
		}()
	}

	if _, err := d.ledger.AppendEvent(ctx, ledger.TypeDaemonStart, map[string]interface{}{
		"pid":         os.Getpid(),
		"invariants":  d.registry.Len(),
		"interval":    d.validation.Interval.String(),
		"matrix_hash": d.matrix.Hash(),
	}); err != nil {
		return fmt.Errorf("record daemon start: %w", err)
	}
	d.logger.InfoContext(ctx, "governance daemon started",
		"interval", d.validation.Interval.String(),
		"invariants", d.registry.Len(),
		"ledger", d.ledger.Path())

	if d.watchConstraints && d.constraintDir != "" {
		w, werr := facts.NewWatcher(d.constraintDir, d.onConstraintChange)
		if werr != nil {
			d.logger.ErrorContext(ctx, "constraint watcher unavailable", "error", werr)
		} else if werr = w.Start(ctx); werr != nil {
			d.logger.ErrorContext(ctx, "constraint watcher unavailable", "error", werr)
			_ = w.Stop()
		} else {
			d.markWatching(true)
			defer func() {
				d.markWatching(false)
				_ = w.Stop()
			}()
		}
	}

	stopReason := "shutdown"
	defer func() {
		payload := map[string]interface{}{
			"reason": stopReason,
			"cycles": d.Cycles(),
		}
		stopCtx := context.WithoutCancel(ctx)
		if _, recErr := d.ledger.AppendEvent(stopCtx, ledger.TypeDaemonStop, payload); recErr != nil {
			d.logger.ErrorContext(stopCtx, "failed to record daemon stop", "error", recErr)
			err = errors.Join(err, fmt.Errorf("record daemon stop: %w", recErr))
		}
		d.logger.InfoContext(stopCtx, "governance daemon stopped", "reason", stopReason)
	}()

	ticker := time.NewTicker(d.validation.Interval.Std())
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, cerr := d.ValidateOnce(ctx); cerr != nil {
			if errors.Is(cerr, ErrEmergencyHalt) || errors.Is(cerr, ErrHalted) {
				stopReason = "emergency_halt"
				return cerr
			}
			if ctx.Err() != nil {
				return nil
			}
			d.logger.ErrorContext(ctx, "validation cycle failed", "error", cerr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.trigger:
		}
	}
}

// Severity is the current system severity used for halt-matrix decisions.
func (d *Daemon) Severity() haltmatrix.Severity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.severity
}

// Halted reports whether an emergency halt is in effect.
func (d *Daemon) Halted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.halted
}

func (d *Daemon) Cycles() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cycles
}

// LedgerStatus summarizes the evidence ledger.
type LedgerStatus struct {
	Path         string    `json:"path"`
	Sequence     uint64    `json:"sequence"`
	Head         string    `json:"head"`
	ChainValid   bool      `json:"chain_valid"`
	Verified     bool      `json:"verified"`
	LastVerified time.Time `json:"last_verified,omitempty"`
}

// Status is a point-in-time view of the daemon. The first six fields are the
// orchestrator status surface; the rest add detail.
type Status struct {
	Running             bool           `json:"running"`
	ValidationCount     uint64         `json:"validation_count"`
	LastValidationTime  time.Time      `json:"last_validation_time"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	FailureStats        loudfail.Stats `json:"failure_stats"`
	LedgerChainValid    bool           `json:"ledger_chain_valid"`

	Halted       bool                `json:"halted"`
	HaltReason   string              `json:"halt_reason,omitempty"`
	Severity     haltmatrix.Severity `json:"severity"`
	LastCycleID  string              `json:"last_cycle_id,omitempty"`
	LastFailures []string            `json:"last_failures,omitempty"`
	MatrixHash   string              `json:"matrix_hash"`
	Ledger       LedgerStatus        `json:"ledger"`
	Invariants   []invariant.Info    `json:"invariants"`
}

// Status reports the daemon's state without running a cycle.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.RLock()
	s := Status{
		Running:             d.running,
		ValidationCount:     d.cycles,
		LastValidationTime:  d.lastCycleAt,
		ConsecutiveFailures: d.consecutiveFailures,
		Halted:              d.halted,
		HaltReason:          d.haltReason,
		Severity:            d.severity,
		LastCycleID:         d.lastCycleID,
		LastFailures:        append([]string(nil), d.lastFailures...),
		MatrixHash:          d.matrix.Hash(),
		Ledger: LedgerStatus{
			Path:         d.ledger.Path(),
			LastVerified: d.verifiedAt,
		},
	}
	if d.verification != nil {
		s.Ledger.Verified = true
		s.Ledger.ChainValid = d.verification.Valid
	}
	d.mu.RUnlock()

	s.LedgerChainValid = s.Ledger.ChainValid
	s.Ledger.Sequence = d.ledger.Sequence()
	s.Ledger.Head = d.ledger.LastHash()
	s.Invariants = d.registry.List()
	s.FailureStats = d.handler.Stats()
	d.logger.DebugContext(ctx, "status requested", "severity", s.Severity, "halted", s.Halted)
	return s
}

func (d *Daemon) markWatching(active bool) {
	if w, ok := d.provider.(watchAware); ok {
		w.MarkWatching(active)
	}
}

func (d *Daemon) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if d.telemetry == nil {
		return ctx, func(error) {}
	}
	return d.telemetry.TrackOperation(ctx, name, attrs...)
}
