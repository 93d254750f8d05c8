// Package storage provides the durable key-value store backing signature
// bundles, failure counters and pending channel points.
package storage

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is the interface for key-value storage.
//
// Implementations must give read-your-writes consistency: a Get issued after
// a successful Put on the same key observes that value.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
	Close() error
}
