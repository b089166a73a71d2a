// Package testutil provides deterministic helpers shared by tests:
// identifier sequences and clocks with repeatable output.
package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator issues "prefix-1", "prefix-2", ... in order.
//
// Unlike task.UUIDv7Generator, the output is deterministic, which keeps
// golden frames and cross-package assertions stable.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator with the given prefix.
// An empty prefix defaults to "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next identifier in the sequence.
//
// Implements task.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
