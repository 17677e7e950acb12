// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sampling acquires paired pose samples of two transform chains.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultBackoff      = 1 * time.Second
)

// ErrUnavailable is wrapped by pose sources when no recent observation of a
// frame pair exists. It is transient: callers retry.
var ErrUnavailable = errors.New("pose unavailable")

// PoseSource resolves the transform from referenceFrame to targetFrame.
type PoseSource interface {
	Lookup(ctx context.Context, referenceFrame, targetFrame string) (transform.Stamped, error)
}

// Chain names the two ends of one observed transform chain.
type Chain struct {
	Reference string
	Target    string
}

func (c Chain) String() string { return c.Reference + " -> " + c.Target }

// Policy controls the pace of a fill.
type Policy struct {
	// PollInterval is slept after every accepted tick.
	PollInterval time.Duration
	// Backoff is slept after a tick where either chain could not be resolved.
	Backoff time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a real timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnProgress, if set, is called after every accepted tick.
	OnProgress func(filled, capacity int)
}

// DefaultPolicy polls at 10 Hz and backs off one second on a miss.
func DefaultPolicy() Policy {
	return Policy{PollInterval: DefaultPollInterval, Backoff: DefaultBackoff}
}

// Sampler fills buffers from a pose source.
type Sampler struct {
	Source PoseSource
	ChainA Chain
	ChainB Chain
	Policy Policy
}

// Fill resets buf and blocks until every slot holds a sample pair or ctx is done.
//
// Each tick reads chain A then chain B; both must resolve or the tick is thrown
// away and retried after the backoff without advancing the slot. On cancellation
// the context error is returned and the buffer must not be used.
func (s *Sampler) Fill(ctx context.Context, buf *Buffer) error {
	if s.Source == nil {
		return errors.New("sampler: no pose source")
	}
	sleep := s.Policy.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	buf.Reset()
	for !buf.Full() {
		if err := ctx.Err(); err != nil {
			return err
		}

		pair, err := s.tick(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Printf("sampler: %v", err)
			if err := sleep(ctx, s.Policy.Backoff); err != nil {
				return err
			}
			continue
		}

		buf.Put(pair)
		if s.Policy.OnProgress != nil {
			s.Policy.OnProgress(buf.Len(), buf.Cap())
		}
		if buf.Full() {
			break
		}
		if err := sleep(ctx, s.Policy.PollInterval); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sampler) tick(ctx context.Context) (Pair, error) {
	a, err := s.Source.Lookup(ctx, s.ChainA.Reference, s.ChainA.Target)
	if err != nil {
		return Pair{}, fmt.Errorf("chain A %s: %w", s.ChainA, err)
	}
	b, err := s.Source.Lookup(ctx, s.ChainB.Reference, s.ChainB.Target)
	if err != nil {
		return Pair{}, fmt.Errorf("chain B %s: %w", s.ChainB, err)
	}
	return Pair{A: a.Normalized(), B: b.Normalized()}, nil
}

// Sleep waits for d, returning early with ctx's error if it is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
