// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"encoding/json"
	"sort"
)

// EncodeMetadata serializes metadata for storage. A nil map encodes to nil so
// backends can persist absence (SQL NULL) separately from an empty document.
func EncodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	return json.Marshal(metadata)
}

// DecodeMetadata is the inverse of EncodeMetadata.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	metadata := map[string]any{}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// SortResults orders results by ascending distance, breaking ties by ID.
func SortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// TrimResults applies the threshold filter to already ordered results and
// truncates them to limit.
func TrimResults(results []SearchResult, q SearchQuery) []SearchResult {
	if q.Threshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Distance <= q.Threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}
