// Package storage provides the key-value surfaces a session can be persisted to.
//
// A Storage behaves like browser local storage: string keys, string values,
// synchronous access. Implementations are safe for concurrent use.
package storage

import "errors"

// ErrCorrupt is returned when persisted data cannot be decoded or unsealed.
var ErrCorrupt = errors.New("storage: corrupt data")

// Storage is the persistence surface used by the session store.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}
