// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

type provisionResult struct {
	Backend    string `json:"backend" yaml:"backend"`
	Dimensions int    `json:"dimensions" yaml:"dimensions"`
}

func (a *app) newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the storage schema, dropping any existing data",
		Long: "Drop and recreate the embeddings storage for the configured backend and dimensions.\n" +
			"Every stored embedding is deleted. Pass --yes to confirm.",
		Args: cobra.NoArgs,
		RunE: a.runProvision,
	}
	cmd.Flags().Bool("yes", false, "confirm that all stored embeddings will be deleted")
	return cmd
}

func (a *app) runProvision(cmd *cobra.Command, _ []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return vserr.New(vserr.CodeCLIInputInvalid, "provision deletes every stored embedding; re-run with --yes to confirm")
	}

	return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
		if err := e.Provision(ctx); err != nil {
			return err
		}
		res := provisionResult{Backend: e.Backend(), Dimensions: e.Dimensions()}
		return a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Provisioned %s backend (%d dimensions)\n", res.Backend, res.Dimensions)
			return err
		})
	})
}
