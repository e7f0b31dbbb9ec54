// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embeddings

import (
	"context"
	"time"

	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// Provision drops and recreates the embeddings relation and its indexes.
// Every stored record is lost. It waits for in-flight operations to finish
// and blocks new ones until it returns. Failures are never retried.
func (e *Engine) Provision(ctx context.Context) (err error) {
	o := e.start(ctx, "Provision")
	defer func() { err = o.end(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	e.logger.Info("provisioning embeddings relation", "dimensions", e.dimensions)

	if err := e.store.Provision(o.ctx); err != nil {
		e.logger.Error("provisioning failed", "error", err)
		// Backends classify their own failures; anything uncoded is a
		// provisioning fault.
		if vserr.CodeOf(err) != "" {
			return err
		}
		return vserr.Wrap(err, vserr.CodeStoreProvisionFailure, "provisioning embeddings relation")
	}

	e.logger.Info("provisioned embeddings relation", "duration", time.Since(started))
	return nil
}
