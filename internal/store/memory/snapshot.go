// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package memory

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int              `json:"version"`
	Dimensions int              `json:"dimensions"`
	Records    []snapshotRecord `json:"records"`
}

// snapshotRecord keeps metadata raw so an empty map and an absent one stay
// distinct on disk.
type snapshotRecord struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Embedding  []float32       `json:"embedding"`
}

// loadSnapshot restores the store from opts.SnapshotPath. A missing file
// leaves the store empty and unprovisioned.
func (v *VectorStore) loadSnapshot() error {
	path := v.opts.SnapshotPath
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "opening snapshot %s", path)
	}
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "reading snapshot %s", path)
	}
	defer dec.Close()

	var snap snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "decoding snapshot %s", path)
	}
	if snap.Version != snapshotVersion {
		return vserr.Errorf(vserr.CodeStoreSnapshotFailure, "snapshot %s has version %d, want %d", path, snap.Version, snapshotVersion)
	}
	if snap.Dimensions != v.opts.Dimensions {
		return vserr.Errorf(vserr.CodeStoreSnapshotFailure,
			"snapshot %s holds %d-dimensional embeddings, store is configured for %d; re-provision to change dimensions",
			path, snap.Dimensions, v.opts.Dimensions)
	}

	for i, sr := range snap.Records {
		meta, err := store.DecodeMetadata(sr.Metadata)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "decoding metadata of snapshot record %d", i)
		}
		v.put(store.Record{
			ID:         sr.ID,
			Collection: sr.Collection,
			Content:    sr.Content,
			Metadata:   meta,
			Embedding:  sr.Embedding,
		})
	}
	v.provisioned = true
	v.maybeTrain()

	v.logger.Info("loaded memory snapshot", "path", path, "records", len(snap.Records))
	return nil
}

// writeSnapshot replaces the snapshot file atomically. The caller holds the
// write lock.
func (v *VectorStore) writeSnapshot() (err error) {
	path := v.opts.SnapshotPath
	snap := snapshot{Version: snapshotVersion, Dimensions: v.opts.Dimensions}

	for _, sid := range v.keys {
		r := v.slots[sid].record
		raw, err := store.EncodeMetadata(r.Metadata)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "encoding metadata of %s/%s", r.Collection, r.ID)
		}
		snap.Records = append(snap.Records, snapshotRecord{
			ID:         r.ID,
			Collection: r.Collection,
			Content:    r.Content,
			Metadata:   raw,
			Embedding:  r.Embedding,
		})
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		a, b := snap.Records[i], snap.Records[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		return a.ID < b.ID
	})

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "creating snapshot directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "creating snapshot %s", path)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "compressing snapshot")
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "encoding snapshot")
	}
	if err := enc.Close(); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "flushing snapshot")
	}
	if err := tmp.Close(); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "closing snapshot")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return vserr.Wrapf(err, vserr.CodeStoreSnapshotFailure, "replacing snapshot %s", path)
	}

	v.logger.Info("wrote memory snapshot", "path", path, "records", len(snap.Records))
	return nil
}
