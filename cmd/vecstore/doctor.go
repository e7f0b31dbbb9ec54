// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/sigil-dev/vecstore/internal/config"
	"github.com/sigil-dev/vecstore/internal/embeddings"
)

type checkStatus string

const (
	statusOK   checkStatus = "ok"
	statusWarn checkStatus = "warn"
	statusFail checkStatus = "fail"
)

type check struct {
	Name   string      `json:"name" yaml:"name"`
	Status checkStatus `json:"status" yaml:"status"`
	Detail string      `json:"detail" yaml:"detail"`
}

func (a *app) newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, the loaded config, backend reachability, and free disk space for local backends.",
		Args:  cobra.NoArgs,
		RunE:  a.runDoctor,
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "backend health check timeout")
	return cmd
}

func (a *app) runDoctor(cmd *cobra.Command, _ []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	checks := []check{
		{Name: "Binary", Status: statusOK, Detail: fmt.Sprintf("vecstore %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)},
		{Name: "Platform", Status: statusOK, Detail: fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())},
		a.checkConfigFile(),
	}

	cfg, err := a.loadConfig()
	if err != nil {
		checks = append(checks, check{Name: "Config", Status: statusFail, Detail: err.Error()})
	} else {
		checks = append(checks,
			check{Name: "Config", Status: statusOK, Detail: fmt.Sprintf("backend %s, %d dimensions", cfg.Storage.Backend, cfg.Storage.Dimensions)},
			a.checkBackend(cmd.Context(), cfg, timeout),
			checkDiskSpace(dataPath(cfg)),
		)
	}

	// Diagnostics always exit 0; problems are reported in the table.
	return a.render(cmd.OutOrStdout(), checks, func(w io.Writer) error {
		for _, c := range checks {
			if _, err := fmt.Fprintf(w, "%-14s %s %s\n", c.Name+":", styleStatus(c.Status), c.Detail); err != nil {
				return err
			}
		}
		return nil
	})
}

func styleStatus(s checkStatus) string {
	label := fmt.Sprintf("[%-4s]", s)
	switch s {
	case statusOK:
		return okStyle.Render(label)
	case statusWarn:
		return warnStyle.Render(label)
	default:
		return failStyle.Render(label)
	}
}

func (a *app) checkConfigFile() check {
	if f := a.v.ConfigFileUsed(); f != "" {
		return check{Name: "Config file", Status: statusOK, Detail: "loaded from " + f}
	}
	return check{Name: "Config file", Status: statusWarn, Detail: "using defaults (no config file found)"}
}

func (a *app) checkBackend(ctx context.Context, cfg *config.Config, timeout time.Duration) check {
	e, err := embeddings.OpenWithSecrets(cfg.Storage, secretStoreFactory(), a.logger)
	if err != nil {
		return check{Name: "Backend", Status: statusFail, Detail: err.Error()}
	}
	defer func() { _ = e.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := e.HealthCheck(ctx)
	if !r.Healthy {
		return check{Name: "Backend", Status: statusFail,
			Detail: fmt.Sprintf("%s unavailable: %s (run 'vecstore provision --yes' if the schema is missing)", r.Backend, r.Error)}
	}
	return check{Name: "Backend", Status: statusOK, Detail: fmt.Sprintf("%s reachable in %s", r.Backend, r.Latency.Round(time.Microsecond))}
}

// dataPath returns the local file the configured backend writes to, or ""
// for networked backends.
func dataPath(cfg *config.Config) string {
	switch cfg.Storage.Backend {
	case "sqlite":
		return cfg.Storage.SQLite.Path
	case "memory":
		return cfg.Storage.Memory.SnapshotPath
	default:
		return ""
	}
}

func checkDiskSpace(path string) check {
	if path == "" {
		return check{Name: "Disk space", Status: statusOK, Detail: "not applicable (no local data)"}
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		// Fall back to the working directory if the data dir doesn't exist yet.
		dir = "."
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return check{Name: "Disk space", Status: statusWarn, Detail: fmt.Sprintf("unable to check: %s", err)}
	}

	avail := stat.Bavail * uint64(stat.Bsize)
	status := statusOK
	if avail < 100*1024*1024 {
		status = statusWarn
	}
	return check{Name: "Disk space", Status: status, Detail: formatBytes(avail) + " available in " + dir}
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
