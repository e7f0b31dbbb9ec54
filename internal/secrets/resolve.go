// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/sigil-dev/vecstore/internal/store"
	vserr "github.com/sigil-dev/vecstore/pkg/errors"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// KeyringURI formats a keyring://service/key reference.
func KeyringURI(service, key string) string {
	return keyringScheme + service + "/" + key
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", vserr.Errorf(vserr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	service, key, ok := strings.Cut(path, "/")
	if !ok || service == "" || key == "" {
		return "", "", vserr.Errorf(vserr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret value.
// Any other value is returned unchanged.
func ResolveKeyringURI(s Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	secret, err := s.Retrieve(service, key)
	if err != nil {
		return "", vserr.Wrapf(err, vserr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string value in v with the
// secret it names. Every key is attempted; failures are joined and name the
// config key and URI at fault.
func ResolveViperSecrets(v *viper.Viper, s Store) error {
	var errs []error
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}
		resolved, err := ResolveKeyringURI(s, val)
		if err != nil {
			errs = append(errs, vserr.Wrapf(err, vserr.CodeSecretResolveFailure, "config key %s", key))
			continue
		}
		v.Set(key, resolved)
	}
	if len(errs) > 0 {
		return vserr.Join(errs...)
	}
	return nil
}

// ResolveStorageSecrets resolves the credential fields of a storage config
// in place: the Postgres DSN and the Qdrant API key.
func ResolveStorageSecrets(cfg *store.StorageConfig, s Store) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"storage.postgres.dsn", &cfg.Postgres.DSN},
		{"storage.qdrant.api_key", &cfg.Qdrant.APIKey},
	}
	for _, f := range fields {
		resolved, err := ResolveKeyringURI(s, *f.value)
		if err != nil {
			return vserr.Wrapf(err, vserr.CodeSecretResolveFailure, "config key %s", f.name)
		}
		*f.value = resolved
	}
	return nil
}
