// Package idgen provides monotonic per-entity identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"
)

// Sequence hands out increasing numbers starting at 1.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// New creates a Sequence whose IDs look like "<prefix>-<n>".
func New(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next sequence number.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// NextID returns the next sequence number and its formatted ID.
func (s *Sequence) NextID() (uint64, string) {
	n := s.Next()
	return n, s.prefix + "-" + strconv.FormatUint(n, 10)
}
