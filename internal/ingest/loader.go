// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package ingest bulk-loads JSON-lines records into an embedding store.
//
// Each non-blank input line is one JSON object with the fields id,
// collection, content, metadata (optional) and embedding. Lines are grouped
// into batches that are written with a single all-or-nothing UpsertMany.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// Upserter is the write side of the embedding engine used by the loader.
type Upserter interface {
	UpsertMany(ctx context.Context, records []store.Record) error
}

// Options configures a Loader.
type Options struct {
	BatchSize int
	// BatchesPerSecond paces batch writes. Zero or less disables pacing.
	BatchesPerSecond float64
	// MaxAttempts bounds how often one batch is tried when the backend is
	// unavailable.
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Logger      *slog.Logger
}

const (
	defaultBatchSize   = 500
	defaultMaxAttempts = 5
	defaultInitialWait = 250 * time.Millisecond
	defaultMaxWait     = 10 * time.Second
)

// Stats summarises a load.
type Stats struct {
	Records int `json:"records" yaml:"records"`
	Batches int `json:"batches" yaml:"batches"`
	Retries int `json:"retries" yaml:"retries"`
}

// Loader streams records into an Upserter.
type Loader struct {
	dst     Upserter
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLoader returns a loader writing to dst.
func NewLoader(dst Upserter, opts Options) *Loader {
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialWait <= 0 {
		opts.InitialWait = defaultInitialWait
	}
	if opts.MaxWait < opts.InitialWait {
		opts.MaxWait = max(defaultMaxWait, opts.InitialWait)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loader{
		dst:    dst,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
	if opts.BatchesPerSecond > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.BatchesPerSecond), 1)
	}
	return l
}

// Load reads r to the end, writing every full batch as it fills and the
// remainder at EOF. It stops at the first decode error or failed batch;
// batches written before that stay written. The returned Stats count only
// what was stored.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var (
		stats Stats
		batch = make([]store.Record, 0, l.opts.BatchSize)
		br    = bufio.NewReader(r)
		line  int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		retries, err := l.write(ctx, batch)
		stats.Retries += retries
		if err != nil {
			return vserr.With(err, vserr.Field("line", line))
		}
		stats.Records += len(batch)
		stats.Batches++
		batch = make([]store.Record, 0, l.opts.BatchSize)
		return nil
	}

	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			rec, ok, err := decodeLine(raw, line)
			if err != nil {
				return stats, err
			}
			if ok {
				batch = append(batch, rec)
				if len(batch) == l.opts.BatchSize {
					if err := flush(); err != nil {
						return stats, err
					}
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return stats, vserr.Wrapf(readErr, vserr.CodeIngestReadFailure, "reading line %d", line+1)
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	l.logger.Info("ingest complete", "records", stats.Records, "batches", stats.Batches, "retries", stats.Retries)
	return stats, nil
}

func decodeLine(raw []byte, line int) (store.Record, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return store.Record{}, false, nil
	}

	var rec store.Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return store.Record{}, false, vserr.Wrap(err, vserr.CodeIngestDecodeInvalid, "decoding record",
			vserr.Field("line", line))
	}
	if dec.More() {
		return store.Record{}, false, vserr.New(vserr.CodeIngestDecodeInvalid, "decoding record: trailing data after object",
			vserr.Field("line", line))
	}
	return rec, true, nil
}

// write stores one batch, retrying only while the backend reports itself
// unavailable. It returns how many retries it made.
func (l *Loader) write(ctx context.Context, batch []store.Record) (int, error) {
	wait := l.opts.InitialWait
	retries := 0

	for attempt := 1; ; attempt++ {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return retries, err
			}
		}

		err := l.dst.UpsertMany(ctx, batch)
		if err == nil {
			return retries, nil
		}
		if !vserr.IsUnavailable(err) || attempt >= l.opts.MaxAttempts {
			return retries, err
		}

		d := jitter(wait)
		if d > l.opts.MaxWait {
			d = l.opts.MaxWait
		}
		l.logger.Warn("backend unavailable, retrying batch",
			"attempt", attempt, "max_attempts", l.opts.MaxAttempts, "wait", d, "error", err)
		if err := l.sleep(ctx, d); err != nil {
			return retries, err
		}
		retries++

		wait = min(wait*2, l.opts.MaxWait)
	}
}

// jitter spreads d over [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
