// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

func (a *app) newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <collection>",
		Short: "Find the records nearest to a query embedding",
		Long: "Search a collection for the records closest to the query embedding by cosine distance.\n" +
			"The embedding is read from --vector-file as a JSON array of numbers; \"-\" reads stdin.",
		Args: cobra.ExactArgs(1),
		RunE: a.runSearch,
	}
	cmd.Flags().String("vector-file", "", "JSON file holding the query embedding (\"-\" for stdin)")
	cmd.Flags().Int("limit", 10, "maximum number of results")
	cmd.Flags().Float64("threshold", 0, "maximum cosine distance of a result (0 disables)")
	_ = cmd.MarkFlagRequired("vector-file")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("vector-file")
	limit, _ := cmd.Flags().GetInt("limit")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	embedding, err := readVector(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	q := store.SearchQuery{
		Embedding:  embedding,
		Collection: args[0],
		Limit:      limit,
		Threshold:  threshold,
	}

	return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
		results, err := e.Search(ctx, q)
		if err != nil {
			return err
		}
		return a.render(cmd.OutOrStdout(), results, func(w io.Writer) error {
			if len(results) == 0 {
				_, err := fmt.Fprintln(w, "No matches.")
				return err
			}
			for _, r := range results {
				if _, err := fmt.Fprintf(w, "%s  %-20s %s\n",
					dimStyle.Render(fmt.Sprintf("%.4f", r.Distance)), r.ID, truncate(r.Content, 60)); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// readVector decodes a JSON array of numbers from path, or from stdin when
// path is "-".
func readVector(stdin io.Reader, path string) ([]float32, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, vserr.Errorf(vserr.CodeCLIInputInvalid, "opening vector file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var v []float32
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, vserr.Errorf(vserr.CodeCLIInputInvalid, "decoding vector file %s: %w", path, err)
	}
	return v, nil
}
