package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/credledger/pkg/credential"
	"github.com/Mindburn-Labs/credledger/pkg/issuance"
	"github.com/Mindburn-Labs/credledger/pkg/ledger"
)

// withApp opens the service for one command and closes it afterwards.
func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) int) int {
	ctx := context.Background()
	a, err := openApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

// exitCode maps a service error to 1 for a rejected operation and 2 for a
// storage or runtime failure.
func exitCode(err error) int {
	switch {
	case errors.Is(err, credential.ErrInvalidInput),
		errors.Is(err, credential.ErrAlreadyRevoked),
		errors.Is(err, ledger.ErrStaleState),
		errors.Is(err, issuance.ErrTokenNotFound):
		return 1
	default:
		return 2
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printEntry(w io.Writer, e ledger.Entry) {
	_, _ = fmt.Fprintf(w, "%s%s%s token=%s seq=%d block=%s\n",
		ColorGreen, e.Action, ColorReset, e.Token.ID(), e.Sequence, e.BlockID)
}

// runIssueCmd implements `credledger issue`.
func runIssueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("issue", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		req        issuance.IssueRequest
		skills     string
		level      string
		orgSig     string
		jsonOutput bool
	)
	cmd.StringVar(&req.UserID, "user", "", "Holder user ID (REQUIRED)")
	cmd.StringVar(&req.Mission.ID, "mission", "", "Mission ID (REQUIRED)")
	cmd.StringVar(&req.Mission.Title, "title", "", "Mission title")
	cmd.StringVar(&req.Mission.OrganizationID, "org", "", "Issuing organization ID (REQUIRED)")
	cmd.IntVar(&req.Scoring.ImpactStrength, "impact", 0, "Impact strength, 0-100")
	cmd.StringVar(&skills, "skills", "", "Comma-separated skills")
	cmd.StringVar(&level, "level", string(credential.LevelSelfReported), "Verification level")
	cmd.StringVar(&orgSig, "org-signature", "", "Organization signature (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the ledger entry as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if skills != "" {
		req.Scoring.SkillsMastered = strings.Split(skills, ",")
	}
	req.Scoring.VerificationLevel = credential.VerificationLevel(level)
	req.OrganizationSignature = []byte(orgSig)

	return withApp(stderr, func(ctx context.Context, a *app) int {
		entry, err := a.svc.Issue(ctx, req)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: issue: %v\n", err)
			return exitCode(err)
		}
		if jsonOutput {
			printJSON(stdout, entry)
		} else {
			printEntry(stdout, entry)
		}
		return 0
	})
}

// runRevokeCmd implements `credledger revoke`.
func runRevokeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tokenID    string
		reason     string
		signature  string
		jsonOutput bool
	)
	cmd.StringVar(&tokenID, "token", "", "Token ID (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Revocation reason (REQUIRED)")
	cmd.StringVar(&signature, "signature", "", "Revoker signature (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the ledger entry as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tokenID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --token is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		entry, err := a.svc.Revoke(ctx, tokenID, reason, []byte(signature))
		if err != nil {
			if errors.Is(err, credential.ErrAlreadyRevoked) && entry.Sequence > 0 {
				_, _ = fmt.Fprintf(stderr, "Error: %v (revoked at seq %d)\n", err, entry.Sequence)
			} else {
				_, _ = fmt.Fprintf(stderr, "Error: revoke: %v\n", err)
			}
			return exitCode(err)
		}
		if jsonOutput {
			printJSON(stdout, entry)
		} else {
			printEntry(stdout, entry)
		}
		return 0
	})
}

// runDisputeCmd implements `credledger dispute`.
func runDisputeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("dispute", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tokenID    string
		reason     string
		by         string
		jsonOutput bool
	)
	cmd.StringVar(&tokenID, "token", "", "Token ID (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Dispute reason (REQUIRED)")
	cmd.StringVar(&by, "by", "", "Disputing party (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the ledger entry as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tokenID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --token is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		entry, err := a.svc.Dispute(ctx, tokenID, reason, by)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: dispute: %v\n", err)
			return exitCode(err)
		}
		if jsonOutput {
			printJSON(stdout, entry)
		} else {
			printEntry(stdout, entry)
		}
		return 0
	})
}

// runStatusCmd prints the effective status of a token, or not_found.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tokenID string
	cmd.StringVar(&tokenID, "token", "", "Token ID (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tokenID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --token is required")
		return 2
	}

	return withApp(stderr, func(_ context.Context, a *app) int {
		status := "not_found"
		if _, ok := a.svc.Query().Token(tokenID); ok {
			status = string(a.svc.Query().CurrentStatus(tokenID))
		}
		_, _ = fmt.Fprintln(stdout, status)
		return 0
	})
}

// runHistoryCmd lists a user's entries in ledger order.
func runHistoryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("history", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		userID     string
		tokenID    string
		jsonOutput bool
	)
	cmd.StringVar(&userID, "user", "", "User ID (REQUIRED)")
	cmd.StringVar(&tokenID, "token", "", "Only entries for this token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --user is required")
		return 2
	}

	return withApp(stderr, func(_ context.Context, a *app) int {
		entries := a.svc.Query().History(userID, tokenID)
		if jsonOutput {
			printJSON(stdout, entries)
			return 0
		}
		for _, e := range entries {
			printEntry(stdout, e)
		}
		return 0
	})
}

// runPortfolioCmd prints the user's aggregate as JSON.
func runPortfolioCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("portfolio", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var userID string
	cmd.StringVar(&userID, "user", "", "User ID (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --user is required")
		return 2
	}

	return withApp(stderr, func(_ context.Context, a *app) int {
		printJSON(stdout, a.svc.Query().Portfolio(userID))
		return 0
	})
}

// runFraudCmd runs the detector for one user. Alerts are advisory, so the
// exit code is 0 whether or not any were raised.
func runFraudCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("fraud", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		userID     string
		jsonOutput bool
	)
	cmd.StringVar(&userID, "user", "", "User ID (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output alerts as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --user is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		alerts := a.svc.Alerts(ctx, userID)
		if jsonOutput {
			printJSON(stdout, alerts)
			return 0
		}
		if len(alerts) == 0 {
			_, _ = fmt.Fprintf(stdout, "%sno alerts%s for %s\n", ColorGreen, ColorReset, userID)
			return 0
		}
		for _, al := range alerts {
			_, _ = fmt.Fprintf(stdout, "%s[%s]%s %s: %s (tokens: %s, action: %s)\n",
				ColorRed, al.Severity, ColorReset, al.Kind, al.Evidence,
				strings.Join(al.TokenIDs, ","), al.RecommendedAction)
		}
		return 0
	})
}
