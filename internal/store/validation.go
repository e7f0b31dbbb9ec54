// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

// Validate checks that the record can be stored with the given embedding
// dimensionality.
func (r Record) Validate(dimensions int) error {
	if msg := r.problem(dimensions); msg != "" {
		return vserr.New(vserr.CodeStoreRecordInvalid, "record: "+msg,
			vserr.FieldCollection(r.Collection),
			vserr.FieldRecordID(r.ID),
		)
	}
	return nil
}

func (r Record) problem(dimensions int) string {
	if r.ID == "" {
		return "ID is required"
	}
	if r.Collection == "" {
		return "Collection is required"
	}
	if r.Content == "" {
		return "Content is required"
	}
	for _, f := range []struct{ name, value string }{
		{"ID", r.ID}, {"Collection", r.Collection}, {"Content", r.Content},
	} {
		if msg := textProblem(f.value); msg != "" {
			return f.name + " " + msg
		}
	}
	if msg := metadataProblem("metadata", r.Metadata); msg != "" {
		return msg
	}
	return embeddingProblem(r.Embedding, dimensions)
}

// textProblem reports strings some backend cannot store unchanged. JSON
// encoding rewrites invalid UTF-8, protobuf refuses it, and PostgreSQL text
// cannot hold NUL.
func textProblem(s string) string {
	if !utf8.ValidString(s) {
		return "is not valid UTF-8"
	}
	if strings.ContainsRune(s, 0) {
		return "contains a NUL byte"
	}
	return ""
}

func metadataProblem(path string, v any) string {
	switch v := v.(type) {
	case string:
		if msg := textProblem(v); msg != "" {
			return path + " " + msg
		}
	case map[string]any:
		for k, child := range v {
			if msg := textProblem(k); msg != "" {
				return fmt.Sprintf("%s key %q %s", path, k, msg)
			}
			if msg := metadataProblem(path+"."+k, child); msg != "" {
				return msg
			}
		}
	case []any:
		for i, child := range v {
			if msg := metadataProblem(fmt.Sprintf("%s[%d]", path, i), child); msg != "" {
				return msg
			}
		}
	case []string:
		for i, child := range v {
			if msg := textProblem(child); msg != "" {
				return fmt.Sprintf("%s[%d] %s", path, i, msg)
			}
		}
	}
	return ""
}

// ValidateBatch checks every record of a batch. The first malformed entry
// fails the whole batch; the error names its position.
func ValidateBatch(records []Record, dimensions int) error {
	for i, r := range records {
		if msg := r.problem(dimensions); msg != "" {
			return vserr.New(vserr.CodeStoreBatchInvalid,
				fmt.Sprintf("records[%d]: %s", i, msg),
				vserr.FieldIndex(i),
				vserr.FieldCollection(r.Collection),
				vserr.FieldRecordID(r.ID),
			)
		}
	}
	return nil
}

// Validate checks the search parameters.
func (q SearchQuery) Validate(dimensions int) error {
	if q.Collection == "" {
		return vserr.New(vserr.CodeStoreSearchInvalid, "search: Collection is required")
	}
	if msg := textProblem(q.Collection); msg != "" {
		return vserr.New(vserr.CodeStoreSearchInvalid, "search: Collection "+msg)
	}
	if q.Limit < 1 {
		return vserr.Errorf(vserr.CodeStoreSearchInvalid, "search: Limit must be >= 1, got %d", q.Limit)
	}
	if q.Threshold < 0 || math.IsNaN(q.Threshold) {
		return vserr.Errorf(vserr.CodeStoreSearchInvalid, "search: Threshold must be >= 0, got %g", q.Threshold)
	}
	if msg := embeddingProblem(q.Embedding, dimensions); msg != "" {
		return vserr.New(vserr.CodeStoreSearchInvalid, "search: query "+msg, vserr.FieldCollection(q.Collection))
	}
	return nil
}

// ValidateKey checks the (collection, id) pair used by lookups and deletes.
func ValidateKey(collection, id string) error {
	if collection == "" {
		return vserr.New(vserr.CodeStoreRecordInvalid, "key: collection is required", vserr.FieldRecordID(id))
	}
	if id == "" {
		return vserr.New(vserr.CodeStoreRecordInvalid, "key: id is required", vserr.FieldCollection(collection))
	}
	if msg := textProblem(collection); msg != "" {
		return vserr.New(vserr.CodeStoreRecordInvalid, "key: collection "+msg, vserr.FieldRecordID(id))
	}
	if msg := textProblem(id); msg != "" {
		return vserr.New(vserr.CodeStoreRecordInvalid, "key: id "+msg, vserr.FieldCollection(collection))
	}
	return nil
}

func embeddingProblem(embedding []float32, dimensions int) string {
	if len(embedding) != dimensions {
		return fmt.Sprintf("embedding has %d dimensions, want %d", len(embedding), dimensions)
	}
	var norm float64
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("embedding[%d] is not a finite number", i)
		}
		norm += f * f
	}
	// Cosine distance is undefined for the zero vector.
	if norm == 0 {
		return "embedding has zero magnitude"
	}
	return ""
}
