// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/vecstore/internal/ingest"
	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
	"github.com/sigil-dev/vecstore/pkg/health"
)

func TestRootCommand_Help(t *testing.T) {
	isolate(t)
	res := execute(t, nil, "--help")
	require.NoError(t, res.err)
	for _, name := range []string{"provision", "health", "collections", "get", "search", "delete", "count", "import", "doctor", "secret", "version"} {
		assert.Contains(t, res.out, name)
	}
	assert.Contains(t, res.out, "--config")
	assert.Contains(t, res.out, "--backend")
	assert.Contains(t, res.out, "--output")
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	res := execute(t, nil, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "vecstore dev")
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	isolate(t)
	res := execute(t, nil, "count", "docs", "--config", "/nonexistent/vecstore.yaml")
	require.Error(t, res.err)
	assert.True(t, vserr.HasCode(res.err, vserr.CodeConfigLoadReadFailure))
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	res := execute(t, nil, "collections", "--config", cfg, "--output", "xml")
	require.Error(t, res.err)
	assert.Equal(t, 2, vserr.ExitCode(res.err))
}

func TestRootCommand_InvalidConfigExitsTwo(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	res := execute(t, nil, "collections", "--config", cfg, "--backend", "cassandra")
	require.Error(t, res.err)
	assert.Equal(t, 2, vserr.ExitCode(res.err))
	assert.Contains(t, res.err.Error(), "storage.backend")
}

func TestProvision_RequiresConfirmation(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	res := execute(t, nil, "provision", "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.HasCode(res.err, vserr.CodeCLIInputInvalid))
	assert.Equal(t, 2, vserr.ExitCode(res.err))
}

func TestHealth_UnprovisionedExitsThree(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	res := execute(t, nil, "health", "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.IsUnavailable(res.err))
	assert.Equal(t, 3, vserr.ExitCode(res.err))
	assert.Contains(t, res.out, "unavailable")
	assert.Contains(t, res.out, "sqlite")
}

func TestEndToEnd_SQLite(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	data := writeFile(t, "records.jsonl", sampleJSONL)
	query := writeFile(t, "query.json", "[1, 0, 0]")

	res := execute(t, nil, "provision", "--yes", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "Provisioned sqlite backend (3 dimensions)\n", res.out)

	res = execute(t, nil, "health", "--config", cfg)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "ok")

	res = execute(t, nil, "import", data, "--config", cfg, "--batch-size", "3")
	require.NoError(t, res.err)
	assert.Equal(t, "Imported 4 records in 2 batches (0 retries)\n", res.out)

	res = execute(t, nil, "count", "docs", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "3\n", res.out)

	res = execute(t, nil, "collections", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, []string{"docs", "notes"}, lines(res.out))

	res = execute(t, nil, "get", "docs", "near", "--config", cfg)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "near match")
	assert.Contains(t, res.out, `{"lang":"en"}`)
	assert.Contains(t, res.out, "[3 dimensions]")

	res = execute(t, nil, "search", "docs", "--vector-file", query, "--limit", "2", "--config", cfg)
	require.NoError(t, res.err)
	got := lines(res.out)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "exact")
	assert.Contains(t, got[1], "near")

	res = execute(t, nil, "delete", "notes", "other", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "Deleted notes/other\n", res.out)

	// Deleting again is a no-op.
	res = execute(t, nil, "delete", "notes", "other", "--config", cfg)
	require.NoError(t, res.err)

	res = execute(t, nil, "collections", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, []string{"docs"}, lines(res.out))
}

func TestSearch_JSONOutputAndStdin(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	data := writeFile(t, "records.jsonl", sampleJSONL)

	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)
	require.NoError(t, execute(t, nil, "import", data, "--config", cfg).err)

	res := execute(t, strings.NewReader("[0.9, 0.1, 0]"),
		"search", "docs", "--vector-file", "-", "--threshold", "0.5", "-o", "json", "--config", cfg)
	require.NoError(t, res.err)

	var results []store.SearchResult
	require.NoError(t, json.Unmarshal([]byte(res.out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-5)
	assert.Equal(t, "exact", results[1].ID)
	assert.Equal(t, map[string]any{"lang": "en"}, results[0].Metadata)
}

func TestSearch_WrongDimensionsExitsTwo(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	query := writeFile(t, "query.json", "[1, 0]")

	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)
	res := execute(t, nil, "search", "docs", "--vector-file", query, "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.HasCode(res.err, vserr.CodeStoreSearchInvalid))
	assert.Equal(t, 2, vserr.ExitCode(res.err))
}

func TestSearch_MalformedVectorFile(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	query := writeFile(t, "query.json", `{"not": "an array"}`)

	res := execute(t, nil, "search", "docs", "--vector-file", query, "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.HasCode(res.err, vserr.CodeCLIInputInvalid))
}

func TestGet_MissingRecord(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, nil, "get", "docs", "ghost", "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.IsNotFound(res.err))
	assert.Equal(t, 1, vserr.ExitCode(res.err))
}

func TestImport_InvalidLineReportsLine(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	data := writeFile(t, "bad.jsonl", sampleJSONL+"not json\n")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, nil, "import", data, "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.HasCode(res.err, vserr.CodeIngestDecodeInvalid))
	assert.Equal(t, 5, vserr.FieldsOf(res.err)["line"])
}

func TestImport_StatsAsYAML(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, strings.NewReader(sampleJSONL), "import", "-", "--config", cfg, "--output", "yaml")
	require.NoError(t, res.err)

	var stats ingest.Stats
	require.NoError(t, yaml.Unmarshal([]byte(res.out), &stats))
	assert.Equal(t, ingest.Stats{Records: 4, Batches: 1}, stats)
}

func TestCount_JSON(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, nil, "count", "empty", "--config", cfg, "-o", "json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"collection":"empty","count":0}`, res.out)
}

func TestCollections_EmptyJSONIsArray(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, nil, "collections", "--config", cfg, "-o", "json")
	require.NoError(t, res.err)
	assert.JSONEq(t, `[]`, res.out)
}

func TestHealth_JSONReport(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	require.NoError(t, execute(t, nil, "provision", "--yes", "--config", cfg).err)

	res := execute(t, nil, "health", "--config", cfg, "-o", "json")
	require.NoError(t, res.err)

	var report health.Report
	require.NoError(t, json.Unmarshal([]byte(res.out), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, "sqlite", report.Backend)
	assert.Empty(t, report.Error)
}

func TestBackendFlag_MemorySnapshotPersists(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")

	require.NoError(t, execute(t, nil, "provision", "--yes", "--backend", "memory", "--config", cfg).err)
	res := execute(t, strings.NewReader(sampleJSONL), "import", "-", "--backend", "memory", "--config", cfg)
	require.NoError(t, res.err)

	res = execute(t, nil, "count", "docs", "--backend", "memory", "--config", cfg)
	require.NoError(t, res.err)
	assert.Equal(t, "3\n", res.out)

	// The sqlite database was never provisioned.
	res = execute(t, nil, "count", "docs", "--config", cfg)
	require.Error(t, res.err)
	assert.True(t, vserr.IsUnavailable(res.err))
}

func TestEnvSelectsBackend(t *testing.T) {
	isolate(t)
	cfg := writeTestConfig(t, "")
	t.Setenv("VECSTORE_STORAGE_BACKEND", "memory")

	res := execute(t, nil, "provision", "--yes", "--config", cfg)
	require.NoError(t, res.err)
	assert.Contains(t, res.out, "memory")
}
