// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sampling

import "github.com/relabs-tech/average_calibrator/internal/transform"

// DefaultCapacity is how many sample pairs one add cycle collects.
const DefaultCapacity = 50

// Pair is one simultaneous observation of both chains.
type Pair struct {
	A transform.Transform
	B transform.Transform
}

// Buffer is a fixed-capacity set of sample pairs. It is refilled from slot 0
// on every cycle and overwritten in place. Not safe for concurrent use.
type Buffer struct {
	pairs  []Pair
	filled int
}

// NewBuffer allocates a buffer with room for capacity pairs.
// A non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{pairs: make([]Pair, capacity)}
}

// Cap returns the number of slots.
func (b *Buffer) Cap() int { return len(b.pairs) }

// Len returns how many slots hold a sample of the current cycle.
func (b *Buffer) Len() int { return b.filled }

// Full reports whether every slot has been written this cycle.
func (b *Buffer) Full() bool { return b.filled == len(b.pairs) }

// Reset starts a new cycle. Old contents stay in memory until overwritten.
func (b *Buffer) Reset() { b.filled = 0 }

// Put writes p into the next free slot. It reports false when the buffer is full.
func (b *Buffer) Put(p Pair) bool {
	if b.Full() {
		return false
	}
	b.pairs[b.filled] = p
	b.filled++
	return true
}

// ChainA returns a copy of the chain A transforms of the current cycle.
func (b *Buffer) ChainA() []transform.Transform {
	out := make([]transform.Transform, b.filled)
	for i := range out {
		out[i] = b.pairs[i].A
	}
	return out
}

// ChainB returns a copy of the chain B transforms of the current cycle.
func (b *Buffer) ChainB() []transform.Transform {
	out := make([]transform.Transform, b.filled)
	for i := range out {
		out[i] = b.pairs[i].B
	}
	return out
}
