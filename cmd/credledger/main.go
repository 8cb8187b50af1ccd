package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = rejected operation or failed verification
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stdout, stderr)
	case "issue":
		return runIssueCmd(args[2:], stdout, stderr)
	case "revoke":
		return runRevokeCmd(args[2:], stdout, stderr)
	case "dispute":
		return runDisputeCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "history":
		return runHistoryCmd(args[2:], stdout, stderr)
	case "fraud", "alerts":
		return runFraudCmd(args[2:], stdout, stderr)
	case "portfolio":
		return runPortfolioCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%scredledger %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sTamper-evident ledger of non-transferable credentials.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  credledger <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the HTTP API (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "CREDENTIALS")
	printCommand(w, "issue", "Issue a token for a scored contribution")
	printCommand(w, "revoke", "Revoke a token (--token, --reason)")
	printCommand(w, "dispute", "Record a dispute against a token")
	printCommand(w, "status", "Show the current status of a token")
	printCommand(w, "history", "List a user's ledger entries")
	printCommand(w, "portfolio", "Show a user's aggregate credibility")
	printCommand(w, "fraud", "Run fraud checks for a user")

	printSection(w, "INTEGRITY & ARCHIVE")
	printCommand(w, "verify", "Verify the chain, or a bundle (--bundle)")
	printCommand(w, "export", "Export a signed archive bundle (--from, --to)")

	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
