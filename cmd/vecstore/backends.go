// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

// Storage backends register themselves with the store factory.
import (
	_ "github.com/sigil-dev/vecstore/internal/store/memory"
	_ "github.com/sigil-dev/vecstore/internal/store/postgres"
	_ "github.com/sigil-dev/vecstore/internal/store/qdrant"
	_ "github.com/sigil-dev/vecstore/internal/store/sqlite"
)
