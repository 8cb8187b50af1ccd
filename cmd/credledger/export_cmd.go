package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/credledger/pkg/archive"
)

// runExportCmd implements `credledger export`.
//
// Signs entries [from, to) into a bundle and stores it in the configured
// archive sink. --out additionally writes the bundle bytes to a local file.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		from       uint64
		to         uint64
		outPath    string
		jsonOutput bool
	)
	cmd.Uint64Var(&from, "from", 0, "First sequence number")
	cmd.Uint64Var(&to, "to", 0, "Sequence number to stop before (0 = current tail)")
	cmd.StringVar(&outPath, "out", "", "Also write the bundle to this file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the bundle header as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		signer, err := a.signer()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		sink, err := archive.NewSink(ctx, archive.SinkType(a.cfg.ArchiveSink), a.cfg.ArchiveTarget)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}

		ref, bundle, err := a.svc.Export(ctx, from, to, signer, sink)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: export: %v\n", err)
			return 2
		}

		if outPath != "" {
			data, err := bundle.Marshal()
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}

		if jsonOutput {
			printJSON(stdout, struct {
				Ref       string `json:"ref"`
				PublicKey string `json:"public_key"`
				archive.Header
			}{ref, signer.PublicKey(), bundle.Header})
			return 0
		}
		_, _ = fmt.Fprintf(stdout, "%s✓ exported%s seq %d..%d\n", ColorGreen, ColorReset, bundle.FromSequence, bundle.ToSequence)
		_, _ = fmt.Fprintf(stdout, "  ref:         %s\n", ref)
		_, _ = fmt.Fprintf(stdout, "  merkle_root: %s\n", bundle.MerkleRoot)
		_, _ = fmt.Fprintf(stdout, "  key:         %s %s\n", bundle.KeyID, signer.PublicKey())
		return 0
	})
}
