// Package keychain provides the password-gate credential cache used by
// the scheduler's interactive-prompt fallback (spec.md §4.5): before
// wiring a terminal's stdin through to a oneshot, the scheduler checks
// this cache for a previously-entered credential keyed by service name.
//
// Credentials are stored as generic passwords with:
//   - Service: "com.onyx" (every cached credential shares this service)
//   - Account: the service name the credential gates
//   - Label: "onyx: <service>" (for Keychain Access.app visibility)
//
// Credentials are scoped with kSecAttrAccessibleWhenUnlockedThisDeviceOnly:
// never synced to iCloud, never available when the machine is locked.
package keychain

import (
	"errors"
	"log/slog"
)

var log = slog.With("component", "keychain")

// ErrNotFound is returned by Get when no credential is cached for a key.
var ErrNotFound = errors.New("keychain: not found")

// Store is the interface for credential storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
	GetMultiple(keys []string) (map[string]string, error)
}
