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
	"github.com/sigil-dev/vecstore/pkg/health"
)

func (a *app) newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the storage backend is reachable and provisioned",
		Args:  cobra.NoArgs,
		RunE:  a.runHealth,
	}
}

func (a *app) runHealth(cmd *cobra.Command, _ []string) error {
	return a.withEngine(cmd.Context(), func(ctx context.Context, e *embeddings.Engine) error {
		report := e.HealthCheck(ctx)
		if err := a.render(cmd.OutOrStdout(), report, func(w io.Writer) error {
			return writeHealth(w, report)
		}); err != nil {
			return err
		}
		if !report.Healthy {
			return vserr.New(vserr.CodeStoreBackendUnavailable, "backend "+report.Backend+" is unavailable",
				vserr.FieldBackend(report.Backend))
		}
		return nil
	})
}

func writeHealth(w io.Writer, r health.Report) error {
	status := okStyle.Render(r.Status())
	if !r.Healthy {
		status = failStyle.Render(r.Status())
	}
	if _, err := fmt.Fprintf(w, "%s %s\n%s %s\n%s %s\n",
		keyStyle.Render("backend:"), r.Backend,
		keyStyle.Render("status: "), status,
		keyStyle.Render("latency:"), r.Latency); err != nil {
		return err
	}
	if r.Error != "" {
		_, err := fmt.Fprintf(w, "%s %s\n", keyStyle.Render("error:  "), r.Error)
		return err
	}
	return nil
}
