// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"sync"
	"time"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// Candidate is one calibration estimate composed from a single buffer fill.
type Candidate struct {
	ID        string
	Created   time.Time
	Transform transform.Transform

	// Chain averages the candidate was composed from.
	ChainA transform.Transform
	ChainB transform.Transform
}

// Snapshot is a consistent copy of the state for reporting.
type Snapshot struct {
	Current    transform.Transform
	Calibrated bool
	Updated    time.Time
	History    []Candidate
}

// State holds the transform being rebroadcast and the candidate history.
// Readers may run on any goroutine; mutation goes through the Engine.
type State struct {
	mu         sync.RWMutex
	current    transform.Transform
	calibrated bool
	updated    time.Time
	history    []Candidate
}

// NewState starts with initial as the broadcast transform and no history.
func NewState(initial transform.Transform) *State {
	return &State{current: initial.Normalized()}
}

// Current returns the transform to broadcast.
func (s *State) Current() transform.Transform {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Len returns the number of candidates in the history.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// History returns a copy of the candidates, oldest first.
func (s *State) History() []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Candidate(nil), s.history...)
}

// Snapshot returns the whole state under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Current:    s.current,
		Calibrated: s.calibrated,
		Updated:    s.updated,
		History:    append([]Candidate(nil), s.history...),
	}
}

func (s *State) push(c Candidate) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, c)
	return len(s.history)
}

func (s *State) pop() (Candidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Candidate{}, false
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return last, true
}

func (s *State) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	s.history = nil
	return n
}

func (s *State) set(t transform.Transform, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = t
	s.calibrated = true
	s.updated = at
}
