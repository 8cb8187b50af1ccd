package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/credledger/pkg/archive"
	"github.com/Mindburn-Labs/credledger/pkg/config"
	"github.com/Mindburn-Labs/credledger/pkg/crypto"
	"github.com/Mindburn-Labs/credledger/pkg/integrity"
)

// runVerifyCmd implements `credledger verify`.
//
// Without --bundle it re-verifies the configured ledger. With --bundle it
// checks an exported archive file offline: format version, chain, merkle root
// and signature. The verifying key comes from --pubkey or, failing that, is
// derived from LEDGER_SIGNING_SECRET.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		pubKey     string
		keyID      string
		jsonOutput bool
	)
	cmd.StringVar(&bundlePath, "bundle", "", "Path to an exported bundle file")
	cmd.StringVar(&pubKey, "pubkey", "", "Hex Ed25519 public key for --bundle")
	cmd.StringVar(&keyID, "key-id", archiveKeyID, "Key ID the --pubkey is registered under")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if bundlePath != "" {
		return verifyBundleFile(bundlePath, pubKey, keyID, jsonOutput, stdout, stderr)
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		report := a.svc.VerifyChain(ctx)
		if jsonOutput {
			printJSON(stdout, struct {
				Intact bool `json:"intact"`
				integrity.Report
			}{report.Intact(), report})
		} else if report.Intact() {
			_, _ = fmt.Fprintf(stdout, "%s✓ ledger intact%s (%d entries, head %s)\n",
				ColorGreen, ColorReset, report.Entries, report.Head)
		} else {
			_, _ = fmt.Fprintf(stdout, "%s✗ ledger integrity failure%s (%d mismatches)\n",
				ColorRed, ColorReset, len(report.Mismatches))
			for _, m := range report.Mismatches {
				_, _ = fmt.Fprintf(stdout, "  [%s] %s\n", m.Kind, m.Description)
			}
		}
		if !report.Intact() {
			return 1
		}
		return 0
	})
}

func verifyBundleFile(path, pubKey, keyID string, jsonOutput bool, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	b, err := archive.Unmarshal(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	keys := crypto.NewKeyRing()
	switch {
	case pubKey != "":
		raw, err := hex.DecodeString(pubKey)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --pubkey: %v\n", err)
			return 2
		}
		if err := keys.AddKey(keyID, raw); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --pubkey: %v\n", err)
			return 2
		}
	default:
		secret := config.Load().SigningSecret
		if secret == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --pubkey or LEDGER_SIGNING_SECRET is required")
			return 2
		}
		signer, err := crypto.DeriveSigner([]byte(secret), archiveKeyID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if err := keys.AddSigner(signer); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	verr := archive.VerifyBundle(b, keys)
	if jsonOutput {
		result := map[string]any{
			"verified":      verr == nil,
			"from_sequence": b.FromSequence,
			"to_sequence":   b.ToSequence,
			"merkle_root":   b.MerkleRoot,
			"key_id":        b.KeyID,
		}
		if verr != nil {
			result["error"] = verr.Error()
		}
		printJSON(stdout, result)
	} else if verr == nil {
		_, _ = fmt.Fprintf(stdout, "%s✓ bundle verified%s seq %d..%d root %s key %s\n",
			ColorGreen, ColorReset, b.FromSequence, b.ToSequence, b.MerkleRoot, b.KeyID)
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✗ bundle rejected%s: %v\n", ColorRed, ColorReset, verr)
	}
	if verr != nil {
		return 1
	}
	return 0
}
