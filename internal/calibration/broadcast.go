// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// DefaultBroadcastInterval republishes the result at 10 Hz.
const DefaultBroadcastInterval = 100 * time.Millisecond

// Sink receives every rebroadcast transform. Publishing is fire and forget.
type Sink interface {
	Publish(st transform.Stamped) error
}

// Source yields the transform to rebroadcast. *State implements it.
type Source interface {
	Current() transform.Transform
}

// Fixed is a Source that never changes.
type Fixed transform.Transform

// Current returns the fixed transform.
func (f Fixed) Current() transform.Transform { return transform.Transform(f) }

// Rebroadcaster publishes Source's transform between Frames at a fixed rate,
// whether or not a calibration has run.
type Rebroadcaster struct {
	Source   Source
	Sinks    []Sink
	Frames   Frames
	Interval time.Duration
	Now      func() time.Time

	failing []bool
}

// Run publishes once immediately and then every Interval until ctx is done.
// Every sink is fed by its own goroutine that only ever sees the newest
// transform, so a slow sink skips ticks without holding up the others.
// Run returns once the in-flight publishes have finished.
func (r *Rebroadcaster) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	r.failing = make([]bool, len(r.Sinks))

	var wg sync.WaitGroup
	feeds := make([]chan transform.Stamped, len(r.Sinks))
	for i, sink := range r.Sinks {
		feeds[i] = make(chan transform.Stamped, 1)
		wg.Add(1)
		go func(i int, sink Sink, feed <-chan transform.Stamped) {
			defer wg.Done()
			for st := range feed {
				r.report(i, sink.Publish(st))
			}
		}(i, sink, feeds[i])
	}
	defer func() {
		for _, feed := range feeds {
			close(feed)
		}
		wg.Wait()
	}()

	dispatch := func() {
		st := r.stamped()
		for _, feed := range feeds {
			select {
			case <-feed:
			default:
			}
			feed <- st
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dispatch()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			dispatch()
		}
	}
}

// PublishOnce sends the current transform to every sink in turn. Sink errors
// are logged when a sink starts failing and when it recovers. It must not be
// called while Run is running.
func (r *Rebroadcaster) PublishOnce() {
	if len(r.failing) != len(r.Sinks) {
		r.failing = make([]bool, len(r.Sinks))
	}
	st := r.stamped()
	for i, sink := range r.Sinks {
		r.report(i, sink.Publish(st))
	}
}

func (r *Rebroadcaster) stamped() transform.Stamped {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return transform.Stamped{
		Transform:    r.Source.Current(),
		FrameID:      r.Frames.FrameID,
		ChildFrameID: r.Frames.ChildFrameID,
		Stamp:        now(),
	}
}

// report logs failure transitions of sink i. Only the goroutine feeding sink i
// touches failing[i].
func (r *Rebroadcaster) report(i int, err error) {
	switch {
	case err != nil && !r.failing[i]:
		log.Printf("broadcast: sink %d failing: %v", i, err)
		r.failing[i] = true
	case err == nil && r.failing[i]:
		log.Printf("broadcast: sink %d recovered", i)
		r.failing[i] = false
	}
}
