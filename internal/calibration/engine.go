// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration runs the sample, average, compose and calibrate workflow
// that relates two observed transform chains.
//
// Chain A observes reference A -> marker, chain B observes reference B -> marker
// for the same physical marker. One add cycle averages a buffer of both chains and
// appends avgA * inverse(avgB), an estimate of reference A -> reference B, to the
// history. Calibrate averages the history into the broadcast result.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/average_calibrator/internal/averaging"
	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

var (
	// ErrEmptyHistory is returned by Calibrate and RemoveLast when there are no candidates.
	ErrEmptyHistory = errors.New("calibration: no candidates recorded")

	// ErrBusy is returned by AddPose while another add is in progress.
	ErrBusy = errors.New("calibration: an add is already in progress")

	// ErrPersist wraps failures writing the result. The in-memory result is
	// already updated when it is returned.
	ErrPersist = errors.New("calibration: result not persisted")
)

// Saver writes a calibration result to durable storage.
type Saver interface {
	Save(st transform.Stamped) error
}

// Frames names the pair of frames the calibration result relates.
type Frames struct {
	FrameID      string
	ChildFrameID string
}

// Config wires an Engine.
type Config struct {
	Sampler *sampling.Sampler
	// Capacity is the number of sample pairs per add cycle.
	Capacity int
	// Initial is broadcast until the first successful Calibrate.
	Initial transform.Transform
	Output  Frames
	// Saver may be nil, in which case results are kept in memory only.
	Saver Saver

	Now   func() time.Time
	NewID func() string
}

// Engine owns the sample buffer, the candidate history and the broadcast state.
// Operations are serialised: each runs to completion before the next starts.
// A second AddPose while one is in flight fails with ErrBusy; Clear cancels the
// in-flight add instead of waiting for it.
type Engine struct {
	op        sync.Mutex
	addMu     sync.Mutex
	addCancel context.CancelFunc

	sampler *sampling.Sampler
	buf     *sampling.Buffer
	state   *State
	saver   Saver
	output  Frames
	now     func() time.Time
	newID   func() string
}

// NewEngine builds an engine from cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		sampler: cfg.Sampler,
		buf:     sampling.NewBuffer(cfg.Capacity),
		state:   NewState(cfg.Initial),
		saver:   cfg.Saver,
		output:  cfg.Output,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.NewString() }
	}
	return e
}

// State exposes the broadcast state for readers such as the rebroadcaster.
func (e *Engine) State() *State { return e.state }

// Output returns the frames the result is expressed between.
func (e *Engine) Output() Frames { return e.output }

// Capacity returns the number of sample pairs collected per add cycle.
func (e *Engine) Capacity() int { return e.buf.Cap() }

// AddPose fills the sample buffer, averages both chains and appends the composed
// candidate to the history. Nothing is appended if the fill does not complete.
func (e *Engine) AddPose(ctx context.Context) (Candidate, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.addMu.Lock()
	if e.addCancel != nil {
		e.addMu.Unlock()
		return Candidate{}, ErrBusy
	}
	e.addCancel = cancel
	e.addMu.Unlock()

	e.op.Lock()
	defer e.op.Unlock()
	defer e.endAdd()

	if e.sampler == nil {
		return Candidate{}, errors.New("calibration: no sampler configured")
	}
	if err := e.sampler.Fill(ctx, e.buf); err != nil {
		return Candidate{}, fmt.Errorf("sampling: %w", err)
	}

	avgA, err := averaging.Transforms(e.buf.ChainA())
	if err != nil {
		return Candidate{}, fmt.Errorf("chain A: %w", err)
	}
	avgB, err := averaging.Transforms(e.buf.ChainB())
	if err != nil {
		return Candidate{}, fmt.Errorf("chain B: %w", err)
	}

	c := Candidate{
		ID:        e.newID(),
		Created:   e.now(),
		Transform: avgA.Mul(avgB.Inverse()).Normalized(),
		ChainA:    avgA,
		ChainB:    avgB,
	}
	n := e.state.push(c)
	log.Printf("calibrator: candidate %d (%s) %s", n, c.ID, c.Transform)
	return c, nil
}

func (e *Engine) endAdd() {
	e.addMu.Lock()
	e.addCancel = nil
	e.addMu.Unlock()
}

// Adding reports whether an AddPose is in flight.
func (e *Engine) Adding() bool {
	e.addMu.Lock()
	defer e.addMu.Unlock()
	return e.addCancel != nil
}

// CancelAdd cancels the in-flight AddPose, if any, and reports whether there
// was one. The add returns its context error and appends nothing.
func (e *Engine) CancelAdd() bool {
	e.addMu.Lock()
	cancel := e.addCancel
	e.addMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Calibrate averages the whole history into the result, makes it the broadcast
// transform and persists it. History is left intact, so repeating the call gives
// the same answer. It waits for an in-flight add to finish.
func (e *Engine) Calibrate() (transform.Transform, error) {
	e.op.Lock()
	defer e.op.Unlock()

	history := e.state.History()
	if len(history) == 0 {
		return transform.Transform{}, ErrEmptyHistory
	}
	ts := make([]transform.Transform, len(history))
	for i, c := range history {
		ts[i] = c.Transform
	}
	result, err := averaging.Transforms(ts)
	if err != nil {
		return transform.Transform{}, err
	}

	at := e.now()
	e.state.set(result, at)
	log.Printf("calibrator: calibrated over %d candidates: %s", len(ts), result)

	if e.saver == nil {
		return result, nil
	}
	st := transform.Stamped{
		Transform:    result,
		FrameID:      e.output.FrameID,
		ChildFrameID: e.output.ChildFrameID,
		Stamp:        at,
	}
	if err := e.saver.Save(st); err != nil {
		return result, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return result, nil
}

// RemoveLast drops the most recently added candidate. It waits for an
// in-flight add to finish.
func (e *Engine) RemoveLast() (Candidate, error) {
	e.op.Lock()
	defer e.op.Unlock()

	c, ok := e.state.pop()
	if !ok {
		return Candidate{}, ErrEmptyHistory
	}
	log.Printf("calibrator: removed candidate %s, %d left", c.ID, e.state.Len())
	return c, nil
}

// Clear drops every candidate and returns how many there were. An in-flight
// add is cancelled first, so Clear always succeeds.
func (e *Engine) Clear() int {
	if e.CancelAdd() {
		log.Println("calibrator: clear cancelled the in-flight add")
	}
	e.op.Lock()
	defer e.op.Unlock()

	n := e.state.clear()
	log.Printf("calibrator: cleared %d candidates", n)
	return n
}
