// Package storage abstracts where tile payloads live. The cache core is
// written against the Storage interface so the same eviction and maintenance
// logic serves a filesystem tree, an in-memory map, or any platform cache.
package storage

import (
	"errors"

	"github.com/strayfield/tilecache/tilemath"
)

// ErrNotFound is returned when no payload exists for a key.
var ErrNotFound = errors.New("tile payload not found")

// Storage holds opaque tile payloads addressed by tile key. Payloads are
// written once and never updated in place.
type Storage interface {
	Read(key tilemath.Key) ([]byte, error)
	Write(key tilemath.Key, data []byte) error
	Delete(key tilemath.Key) error
	Exists(key tilemath.Key) bool
}
