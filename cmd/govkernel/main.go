package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success, PASS or PROCEED
//	1 = FAIL, BLOCKED, emergency halt or broken chain
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runDaemonCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "daemon", "run":
		return runDaemonCmd(args[2:], stdout, stderr)
	case "once", "validate":
		return runOnceCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "evaluate":
		return runEvaluateCmd(args[2:], stdout, stderr)
	case "hug", "audit":
		return runHUGCmd(args[2:], stdout, stderr)
	case "matrix":
		return runMatrixCmd(args[2:], stdout, stderr)
	case "seal":
		return runSealCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "govkernel %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runDaemonCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sgovkernel %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sInvariants hold or the system halts.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  govkernel <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "KERNEL")
	printCommand(w, "daemon", "Run the governance loop (default)")
	printCommand(w, "once", "Run one validation cycle (--json)")
	printCommand(w, "status", "Show daemon and ledger status (--json)")

	printSection(w, "EVIDENCE")
	printCommand(w, "verify", "Replay and verify the evidence chain (--ledger, --json)")
	printCommand(w, "seal", "Write an integrity manifest (--root, --out)")

	printSection(w, "DECISIONS")
	printCommand(w, "evaluate", "Decide a privileged operation (--op, --token, --challenges-clear)")
	printCommand(w, "matrix", "Print the halt matrix (--json)")
	printCommand(w, "hug", "Run the H.U.G audit (--request, --json)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Every command accepts --config (or GOVERNANCE_CONFIG) pointing at a YAML or TOML file.\n")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
