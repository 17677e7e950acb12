// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sampling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

type framePair struct {
	reference string
	target    string
}

// key ignores leading and trailing slashes so "/camera" and "camera" name the
// same frame.
func key(reference, target string) framePair {
	return framePair{reference: strings.Trim(reference, "/"), target: strings.Trim(target, "/")}
}

type entry struct {
	st       transform.Stamped
	received time.Time
}

// Latest keeps the most recent observation of every frame pair and serves them
// as a PoseSource. Transports push into it from their own goroutines.
type Latest struct {
	// MaxAge bounds how old an observation may be when looked up.
	// Zero disables the check.
	MaxAge time.Duration
	// Now is the clock used for receive stamps and age checks. Nil means time.Now.
	Now func() time.Time

	mu      sync.RWMutex
	entries map[framePair]entry
}

// NewLatest returns an empty cache with the given recency bound.
func NewLatest(maxAge time.Duration) *Latest {
	return &Latest{MaxAge: maxAge}
}

func (l *Latest) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Update stores st as the newest observation of its frame pair.
func (l *Latest) Update(st transform.Stamped) {
	k := key(st.FrameID, st.ChildFrameID)
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[framePair]entry)
	}
	l.entries[k] = entry{st: st, received: l.now()}
	l.mu.Unlock()
}

// Lookup returns the newest observation of referenceFrame -> targetFrame, or an
// error wrapping ErrUnavailable if there is none recent enough.
func (l *Latest) Lookup(_ context.Context, referenceFrame, targetFrame string) (transform.Stamped, error) {
	l.mu.RLock()
	e, ok := l.entries[key(referenceFrame, targetFrame)]
	l.mu.RUnlock()

	if !ok {
		return transform.Stamped{}, fmt.Errorf("%s -> %s: %w (never seen)", referenceFrame, targetFrame, ErrUnavailable)
	}
	if age := l.now().Sub(e.received); l.MaxAge > 0 && age > l.MaxAge {
		return transform.Stamped{}, fmt.Errorf("%s -> %s: %w (last seen %s ago)", referenceFrame, targetFrame, ErrUnavailable, age.Round(time.Millisecond))
	}
	return e.st, nil
}
