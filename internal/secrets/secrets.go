// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps backend credentials (Postgres DSNs, Qdrant API keys)
// out of config files. A config value of the form keyring://service/key is
// replaced by the secret stored under that service and key.
package secrets

// DefaultService is the keyring service the CLI stores secrets under.
const DefaultService = "vecstore"

// Store provides secure secret storage operations.
type Store interface {
	// Store saves a secret value under the given service and key.
	Store(service, key, value string) error

	// Retrieve fetches the secret value for the given service and key.
	// A missing key yields an error with vserr.CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes the secret for the given service and key.
	// A missing key yields an error with vserr.CodeSecretNotFound.
	Delete(service, key string) error

	// List returns all key names stored under the given service.
	List(service string) ([]string, error)
}
