// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/vecstore/internal/embeddings"
	"github.com/sigil-dev/vecstore/internal/store/postgres"
	"github.com/sigil-dev/vecstore/internal/store/storetest"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// testDSN returns the DSN of a disposable database, skipping the test when
// none is configured. The suite drops and recreates the embeddings table.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VECSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VECSTORE_TEST_POSTGRES_DSN not set")
	}
	return dsn
}

func TestVectorStore_Conformance(t *testing.T) {
	dsn := testDSN(t)
	storetest.Run(t, func(t *testing.T) *embeddings.Engine {
		// One list keeps ivfflat exact on the handful of rows each case writes.
		vs, err := postgres.NewVectorStore(postgres.Options{DSN: dsn, Dimensions: 8, Lists: 1, Probes: 1}, nil)
		require.NoError(t, err)
		return embeddings.New(vs, 8, embeddings.WithBackendName("postgres"))
	})
}

func TestVectorStore_UnreachableIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	vs, err := postgres.NewVectorStore(postgres.Options{DSN: "postgres://vecstore@127.0.0.1:1/vecstore?connect_timeout=1"}, nil)
	require.NoError(t, err)
	defer func() { _ = vs.Close() }()

	err = vs.Ping(ctx)
	require.Error(t, err)
	assert.True(t, vserr.IsUnavailable(err))

	e := embeddings.New(vs, 100, embeddings.WithBackendName("postgres"))
	report := e.HealthCheck(ctx)
	assert.False(t, report.Healthy)
	assert.NotEmpty(t, report.Error)
}
