// Package idgen provides pluggable ID generation for accesspdf.
//
// Constructors that mint identifiers (ingest.Store, shield.TraceID) accept a
// Generator, making the ID strategy a startup-time decision rather than a
// compile-time one.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv4 returns a Generator that produces random RFC 9562 UUID v4 strings.
// Document identifiers use it: they must not leak upload order.
func UUIDv4() Generator {
	return func() string {
		return uuid.NewString()
	}
}

// ULID returns a Generator that produces lexicographically sortable ULIDs
// from a monotonic entropy source. Used for request and trace IDs.
func ULID() Generator {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}
