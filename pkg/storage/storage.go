// Package storage provides the durable key/value abstraction the registry
// persists its state through.
package storage

import "errors"

// ErrNotFound is returned by GetItem when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store is the minimal persistence surface the registry depends on.
type Store interface {
	GetItem(key string) ([]byte, error)
	SetItem(key string, value []byte) error
	RemoveItem(key string) error
	Close() error
}
