// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/vecstore/internal/config"
	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/secrets"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

var outputFormats = []string{"text", "json", "yaml"}

// app holds the state shared by every subcommand of one root command.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
	output string
}

// NewRootCmd creates the root vecstore command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: slog.Default(), output: "text"}

	root := &cobra.Command{
		Use:           "vecstore",
		Short:         "vecstore: embedding storage and similarity search",
		Long:          "vecstore stores text embeddings in SQLite, PostgreSQL (pgvector), Qdrant or memory and answers nearest-neighbor queries over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initViper(cmd)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("backend", "", "storage backend (sqlite, postgres, qdrant, memory)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringP("output", "o", "text", "output format (text, json, yaml)")

	root.AddCommand(
		a.newProvisionCmd(),
		a.newHealthCmd(),
		a.newCollectionsCmd(),
		a.newGetCmd(),
		a.newSearchCmd(),
		a.newDeleteCmd(),
		a.newCountCmd(),
		a.newImportCmd(),
		a.newDoctorCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up defaults, env bindings, flag bindings, and the optional
// config file so the standard precedence (flag > env > file > defaults)
// is handled uniformly.
func (a *app) initViper(cmd *cobra.Command) error {
	v := a.v
	flags := cmd.Root().PersistentFlags()

	verbose, _ := flags.GetBool("verbose")
	a.logger = newLogger(cmd.ErrOrStderr(), verbose)
	slog.SetDefault(a.logger)

	a.output, _ = flags.GetString("output")
	if !slices.Contains(outputFormats, a.output) {
		return vserr.Errorf(vserr.CodeCLIInputInvalid, "unsupported output format %q (want text, json or yaml)", a.output)
	}

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return vserr.Errorf(vserr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is left unset so viper does not fall back to a
		// bare "vecstore" file, which would be the binary itself.
		v.SetConfigName("vecstore")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/vecstore")
		v.AddConfigPath("/etc/vecstore")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return vserr.Errorf(vserr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return vserr.Errorf(vserr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}
	config.WarnInsecurePermissions(v.ConfigFileUsed())

	if err := v.BindPFlag("storage.backend", flags.Lookup("backend")); err != nil {
		return vserr.Errorf(vserr.CodeCLISetupFailure, "binding backend flag: %w", err)
	}
	if err := v.BindPFlag("verbose", flags.Lookup("verbose")); err != nil {
		return vserr.Errorf(vserr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves keyring references and validates the merged config.
func (a *app) loadConfig() (*config.Config, error) {
	if err := secrets.ResolveViperSecrets(a.v, secretStoreFactory()); err != nil {
		return nil, err
	}
	return config.FromViper(a.v)
}

// withEngine opens the configured backend, runs fn, and closes the backend.
// A close failure is reported when fn itself succeeded; the memory backend
// writes its snapshot on close.
func (a *app) withEngine(ctx context.Context, fn func(ctx context.Context, e *embeddings.Engine) error) (err error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	e, err := embeddings.OpenWithSecrets(cfg.Storage, secretStoreFactory(), a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, e)
}
