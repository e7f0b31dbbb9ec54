// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/ingest"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

func (a *app) newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.jsonl>",
		Short: "Bulk-load records from a JSON-lines file",
		Long: "Load records from a JSON-lines file (\"-\" reads stdin). Each line is an object with\n" +
			"id, collection, content, embedding and optional metadata. Records are written in\n" +
			"all-or-nothing batches; batches are retried while the backend is unavailable.",
		Args: cobra.ExactArgs(1),
		RunE: a.runImport,
	}
	cmd.Flags().Int("batch-size", 0, "records per batch (default from ingest.batch_size)")
	cmd.Flags().Float64("rate", 0, "maximum batches per second (default from ingest.batches_per_second)")
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	opts := ingest.Options{
		BatchSize:        cfg.Ingest.BatchSize,
		BatchesPerSecond: cfg.Ingest.BatchesPerSecond,
		MaxAttempts:      cfg.Ingest.MaxAttempts,
		Logger:           a.logger,
	}
	if cmd.Flags().Changed("batch-size") {
		opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
		if opts.BatchSize < 1 {
			return vserr.Errorf(vserr.CodeCLIInputInvalid, "--batch-size must be greater than 0, got %d", opts.BatchSize)
		}
	}
	if cmd.Flags().Changed("rate") {
		opts.BatchesPerSecond, _ = cmd.Flags().GetFloat64("rate")
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return vserr.Errorf(vserr.CodeCLIInputInvalid, "opening import file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
		stats, err := ingest.NewLoader(e, opts).Load(ctx, in)
		if err != nil {
			return err
		}
		return a.render(cmd.OutOrStdout(), stats, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Imported %d records in %d batches (%d retries)\n",
				stats.Records, stats.Batches, stats.Retries)
			return err
		})
	})
}
