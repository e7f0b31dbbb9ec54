// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points HOME at a temp dir so config bootstrap never touches the
// real home directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
}

// writeTestConfig writes a sqlite config with 3-dimensional embeddings and
// returns its path. extra is appended verbatim.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`storage:
  backend: sqlite
  dimensions: 3
  index:
    lists: 2
    probes: 2
  sqlite:
    path: %s
  memory:
    snapshot_path: %s
%s`, filepath.Join(dir, "vectors.db"), filepath.Join(dir, "memory.snap"), extra)
	path := filepath.Join(dir, "vecstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type result struct {
	out    string
	stderr string
	err    error
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin io.Reader, args ...string) result {
	t.Helper()
	root := NewRootCmd()
	out, errBuf := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(errBuf)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)
	err := root.Execute()
	return result{out: out.String(), stderr: errBuf.String(), err: err}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleJSONL = `{"id":"exact","collection":"docs","content":"exact match","embedding":[1,0,0]}
{"id":"near","collection":"docs","content":"near match","metadata":{"lang":"en"},"embedding":[0.9,0.1,0]}
{"id":"far","collection":"docs","content":"far away","embedding":[0,0,1]}
{"id":"other","collection":"notes","content":"a note","embedding":[0,1,0]}
`

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}
