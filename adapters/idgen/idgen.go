// Package idgen provides build and tunnel session identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/artpar/bundlegate/ports"
	"github.com/google/uuid"
)

// UUID generates random v4 UUIDs. Build ids use the full form.
type UUID struct{}

// New returns a new UUID string.
func (UUID) New() string {
	return uuid.NewString()
}

var _ ports.IDGenerator = UUID{}

// Short generates the first 8 hex digits of a v4 UUID, used for tunnel session
// ids that appear in every log line of a long-lived connection.
type Short struct{}

// New returns a short id.
func (Short) New() string {
	return uuid.NewString()[:8]
}

var _ ports.IDGenerator = Short{}

// Sequential generates prefix1, prefix2, ... for deterministic tests.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next id.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var _ ports.IDGenerator = (*Sequential)(nil)
