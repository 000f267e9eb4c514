package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/govkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/govkernel/pkg/daemon"
	"github.com/Mindburn-Labs/govkernel/pkg/facts"
	"github.com/Mindburn-Labs/govkernel/pkg/haltmatrix"
	"github.com/Mindburn-Labs/govkernel/pkg/hug"
	"github.com/Mindburn-Labs/govkernel/pkg/invariant"
	"github.com/Mindburn-Labs/govkernel/pkg/ledger"
	"github.com/Mindburn-Labs/govkernel/pkg/loudfail"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func writeJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 2
	}
	return 0
}

// withKernel loads configuration and opens the kernel for one command.
func withKernel(ctx context.Context, configPath string, stderr io.Writer, fn func(*kernel) int) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	k, err := openKernel(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		if err := k.Close(context.WithoutCancel(ctx)); err != nil {
			_, _ = fmt.Fprintf(stderr, "Warning: shutdown: %v\n", err)
		}
	}()
	return fn(k)
}

// runDaemonCmd implements `govkernel daemon`. SIGINT and SIGTERM stop the loop
// after the current cycle.
func runDaemonCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("daemon", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to config file (YAML or TOML)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withKernel(ctx, *configPath, stderr, func(k *kernel) int {
		err := k.daemon.Run(ctx)
		switch {
		case err == nil:
			return 0
		case errors.Is(err, daemon.ErrEmergencyHalt), errors.Is(err, daemon.ErrHalted):
			_, _ = fmt.Fprintf(stderr, "%sEMERGENCY HALT:%s %s\n", ColorBold+ColorRed, ColorReset,
				k.daemon.Status(ctx).HaltReason)
			return 1
		default:
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	})
}

// runOnceCmd implements `govkernel once`: a single validation cycle.
func runOnceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("once", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to config file (YAML or TOML)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the cycle report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	return withKernel(ctx, configPath, stderr, func(k *kernel) int {
		report, err := k.daemon.ValidateOnce(ctx)
		halted := errors.Is(err, daemon.ErrEmergencyHalt)
		if err != nil && !halted {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}

		if jsonOutput {
			if code := writeJSON(stdout, report); code != 0 {
				return code
			}
		} else {
			printCycle(stdout, report)
		}
		if !report.Passed() {
			return 1
		}
		return 0
	})
}

func printCycle(w io.Writer, report daemon.CycleReport) {
	for _, r := range report.Results {
		color := ColorGreen
		switch r.Status {
		case invariant.StatusFail, invariant.StatusError:
			color = ColorRed
		case invariant.StatusSkip:
			color = ColorGray
		}
		_, _ = fmt.Fprintf(w, "%s%-5s%s %s %-32s %s\n", color, r.Status, ColorReset, r.InvariantID, r.Name, r.Reason)
	}
	_, _ = fmt.Fprintf(w, "\ncycle %s: %d results, %d failures, severity %s\n",
		report.ID, len(report.Results), len(report.Failures), report.Severity)
	if report.Halted {
		_, _ = fmt.Fprintf(w, "%sEMERGENCY HALT:%s %s\n", ColorBold+ColorRed, ColorReset, report.HaltReason)
	}
}

// statusReport carries the orchestrator status surface. Counters come from the
// last daemon's snapshot; chain validity comes from a fresh replay.
type statusReport struct {
	Running             bool           `json:"running"`
	ValidationCount     uint64         `json:"validation_count"`
	LastValidationTime  time.Time      `json:"last_validation_time"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	FailureStats        loudfail.Stats `json:"failure_stats"`
	LedgerChainValid    bool           `json:"ledger_chain_valid"`

	PID          int                 `json:"pid,omitempty"`
	Halted       bool                `json:"halted"`
	Ledger       string              `json:"ledger"`
	Verification ledger.Verification `json:"verification"`
	LastStart    *ledger.Entry       `json:"last_start,omitempty"`
	LastHalt     *ledger.Entry       `json:"last_halt,omitempty"`
}

// runStatusCmd implements `govkernel status`. It reads the PID file and replays the
// ledger without taking the writer lock, so it works beside a running daemon.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to config file (YAML or TOML)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	alg, err := canonicalize.ParseAlgorithm(cfg.Ledger.Algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	st := statusReport{Ledger: cfg.Ledger.Path}
	st.PID, st.Running = daemon.ProcessAlive(cfg.PIDPath)
	if path := cfg.StatusPath(); path != "" {
		snap, err := daemon.ReadStatus(path)
		switch {
		case err == nil:
			st.ValidationCount = snap.ValidationCount
			st.LastValidationTime = snap.LastValidationTime
			st.ConsecutiveFailures = snap.ConsecutiveFailures
			st.FailureStats = snap.FailureStats
		case !errors.Is(err, fs.ErrNotExist):
			_, _ = fmt.Fprintf(stderr, "Warning: status snapshot: %v\n", err)
		}
	}

	if st.Verification, err = ledger.VerifyFiles(ctx, cfg.Ledger.Path, alg); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	st.LedgerChainValid = st.Verification.Valid
	if st.LastStart, err = lastOfType(ctx, cfg.Ledger.Path, ledger.TypeDaemonStart); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if st.LastHalt, err = lastOfType(ctx, cfg.Ledger.Path, ledger.TypeEmergencyHalt); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	st.Halted = st.LastHalt != nil && (st.LastStart == nil || st.LastHalt.Sequence > st.LastStart.Sequence)

	if jsonOutput {
		if code := writeJSON(stdout, st); code != 0 {
			return code
		}
	} else {
		state := ColorGray + "stopped" + ColorReset
		if st.Running {
			state = fmt.Sprintf("%srunning%s (pid %d)", ColorGreen, ColorReset, st.PID)
		}
		_, _ = fmt.Fprintf(stdout, "Daemon:  %s\n", state)
		_, _ = fmt.Fprintf(stdout, "Cycles:  %d (consecutive failures %d, failures %d, critical %d)\n",
			st.ValidationCount, st.ConsecutiveFailures, st.FailureStats.TotalFailures, st.FailureStats.CriticalFailures)
		if !st.LastValidationTime.IsZero() {
			_, _ = fmt.Fprintf(stdout, "Last:    %s\n", st.LastValidationTime.Format(time.RFC3339))
		}
		if st.Halted {
			_, _ = fmt.Fprintf(stdout, "Halt:    %sEMERGENCY HALT%s at sequence %d\n", ColorRed, ColorReset, st.LastHalt.Sequence)
		}
		_, _ = fmt.Fprintf(stdout, "Ledger:  %s (%d entries)\n", st.Ledger, st.Verification.Entries)
		_, _ = fmt.Fprintf(stdout, "Head:    %s\n", st.Verification.Head)
		_, _ = fmt.Fprintf(stdout, "Chain:   %s\n", chainState(st.Verification))
	}
	if !st.Verification.Valid {
		return 1
	}
	return 0
}

func lastOfType(ctx context.Context, path string, typ ledger.EventType) (*ledger.Entry, error) {
	entries, err := ledger.ReadEntries(ctx, path, ledger.Filter{Type: typ, Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func chainState(v ledger.Verification) string {
	if v.Valid {
		return ColorGreen + "VALID" + ColorReset
	}
	return fmt.Sprintf("%sBROKEN%s at index %d: %s", ColorRed, ColorReset, v.BreakIndex, v.Reason)
}

// runVerifyCmd implements `govkernel verify`.
//
// Exit codes:
//
//	0 = chain valid
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath string
		ledgerPath string
		algorithm  string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to config file (YAML or TOML)")
	cmd.StringVar(&ledgerPath, "ledger", "", "Ledger path (overrides config)")
	cmd.StringVar(&algorithm, "algorithm", "", "Hash algorithm: sha256 or sha3-256 (overrides config)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ledgerPath == "" || algorithm == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if ledgerPath == "" {
			ledgerPath = cfg.Ledger.Path
		}
		if algorithm == "" {
			algorithm = cfg.Ledger.Algorithm
		}
	}
	alg, err := canonicalize.ParseAlgorithm(algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	v, err := ledger.VerifyFiles(context.Background(), ledgerPath, alg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if jsonOutput {
		if code := writeJSON(stdout, v); code != 0 {
			return code
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "%s: %d entries, head %s\n", ledgerPath, v.Entries, v.Head)
		_, _ = fmt.Fprintf(stdout, "Chain: %s\n", chainState(v))
	}
	if !v.Valid {
		return 1
	}
	return 0
}

// runEvaluateCmd implements `govkernel evaluate`. The current severity comes from a
// fresh validation cycle unless --severity is given, in which case the decision is a
// dry run and is not recorded.
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath      string
		op              string
		severity        string
		quorumAsserted  bool
		challengesClear bool
		jsonOutput      bool
		tokens          stringList
	)
	cmd.StringVar(&configPath, "config", "", "Path to config file (YAML or TOML)")
	cmd.StringVar(&op, "op", "", "Operation class (REQUIRED)")
	cmd.StringVar(&severity, "severity", "", "Evaluate at this severity without recording (dry run)")
	cmd.BoolVar(&quorumAsserted, "quorum", false, "Assert quorum is satisfied (ignored when quorum tokens are configured)")
	cmd.Var(&tokens, "token", "Quorum approval token (repeatable)")
	cmd.BoolVar(&challengesClear, "challenges-clear", false, "Assert all challenges are cleared")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the decision as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if op == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --op is required")
		cmd.Usage()
		return 2
	}
	opClass, err := haltmatrix.ParseOpClass(op)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := func(d haltmatrix.Decision, v interface{}) int {
		if jsonOutput {
			if code := writeJSON(stdout, v); code != 0 {
				return code
			}
		} else {
			color := ColorGreen
			if !d.Proceeds() {
				color = ColorRed
			}
			_, _ = fmt.Fprintf(stdout, "%s%s%s %s at %s (%s): %s\n",
				color, d.Decision, ColorReset, d.OpClass, d.Severity, d.Behavior, d.Reason)
		}
		if !d.Proceeds() {
			return 1
		}
		return 0
	}

	if severity != "" {
		sev, err := haltmatrix.ParseSeverity(severity)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		m, err := haltmatrix.Default()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		d := m.Evaluate(opClass, sev, quorumAsserted, challengesClear)
		return report(d, d)
	}

	ctx := context.Background()
	return withKernel(ctx, configPath, stderr, func(k *kernel) int {
		if _, err := k.daemon.ValidateOnce(ctx); err != nil && !errors.Is(err, daemon.ErrEmergencyHalt) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		ev, err := k.daemon.EvaluateOperation(ctx, opClass,
			daemon.Quorum{Asserted: quorumAsserted, Tokens: tokens}, challengesClear)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return report(ev.Decision, ev)
	})
}

// runHUGCmd implements `govkernel hug`. The request is JSON from --request or stdin.
func runHUGCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hug", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath  string
		requestPath string
		jsonOutput  bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to config file (YAML or TOML)")
	cmd.StringVar(&requestPath, "request", "-", "Path to the audit request JSON, or - for stdin")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the audit report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var (
		data []byte
		err  error
	)
	if requestPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(requestPath)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read request: %v\n", err)
		return 2
	}
	req, err := hug.DecodeRequest(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	return withKernel(ctx, configPath, stderr, func(k *kernel) int {
		report, err := k.daemon.RunAudit(ctx, req)
		if jsonOutput {
			if code := writeJSON(stdout, report); code != 0 {
				return code
			}
		} else if werr := report.WriteText(stdout); werr != nil {
			return 2
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if !report.Passed {
			return 1
		}
		return 0
	})
}

// runMatrixCmd implements `govkernel matrix`.
func runMatrixCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("matrix", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output entries and hash as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	m, err := haltmatrix.Default()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if *jsonOutput {
		return writeJSON(stdout, map[string]interface{}{
			"hash":    m.Hash(),
			"entries": m.Entries(),
		})
	}
	_, _ = fmt.Fprint(stdout, m.Table())
	_, _ = fmt.Fprintf(stdout, "\nmatrix hash: %s\n", m.Hash())
	return 0
}

// runSealCmd implements `govkernel seal`: hash every file under --root into an
// integrity manifest.
func runSealCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		root       string
		out        string
		algorithm  string
		jsonOutput bool
	)
	cmd.StringVar(&root, "root", "", "Directory to seal (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Manifest output path (default <root>/integrity_manifest.json)")
	cmd.StringVar(&algorithm, "algorithm", string(canonicalize.SHA256), "Hash algorithm: sha256 or sha3-256")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the manifest as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if root == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --root is required")
		cmd.Usage()
		return 2
	}
	if out == "" {
		out = filepath.Join(root, "integrity_manifest.json")
	}
	alg, err := canonicalize.ParseAlgorithm(algorithm)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var skip []string
	if rel, err := filepath.Rel(root, out); err == nil && !strings.HasPrefix(rel, "..") {
		skip = append(skip, filepath.ToSlash(rel))
	}
	m, err := facts.Seal(root, alg, time.Now(), skip...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := m.Save(out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if jsonOutput {
		return writeJSON(stdout, m)
	}
	_, _ = fmt.Fprintf(stdout, "Sealed %d files under %s\n", len(m.Files), root)
	_, _ = fmt.Fprintf(stdout, "Manifest: %s (%s)\n", out, m.ManifestHash)
	return 0
}
