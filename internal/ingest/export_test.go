// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"time"
)

// SetSleep replaces the backoff sleep so tests run instantly.
func (l *Loader) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	l.sleep = fn
}

var Jitter = jitter
