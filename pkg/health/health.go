// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Report is the outcome of a storage health probe. All fields are
// point-in-time snapshots safe to serialize to JSON or YAML.
type Report struct {
	Healthy   bool          `json:"healthy" yaml:"healthy"`
	Backend   string        `json:"backend" yaml:"backend"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Latency   time.Duration `json:"latency" yaml:"latency"`
	CheckedAt time.Time     `json:"checked_at" yaml:"checked_at"`
}

// Status returns a short human-readable state.
func (r Report) Status() string {
	if r.Healthy {
		return "ok"
	}
	return "unavailable"
}
