// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mock simulates the two tracking systems observing one rigid body.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// Noise is the standard deviation of the error added to every observation.
type Noise struct {
	Translation float64 // metres
	Rotation    float64 // radians, about a random axis
}

// Source produces chain B as a smoothly moving pose and chain A as
// Truth * B, so that calibrating A against B recovers Truth.
type Source struct {
	Truth  transform.Transform
	ChainA sampling.Chain
	ChainB sampling.Chain
	Noise  Noise
	// Now is the clock driving the motion. Nil means time.Now.
	Now func() time.Time

	start time.Time
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewSource creates a mock source. seed makes the noise repeatable.
func NewSource(truth transform.Transform, chainA, chainB sampling.Chain, noise Noise, seed uint64) *Source {
	return &Source{
		Truth:  truth.Normalized(),
		ChainA: chainA,
		ChainB: chainB,
		Noise:  noise,
		start:  time.Now(),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Source) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Motion returns the noiseless chain B pose elapsed after start.
func Motion(elapsed time.Duration) transform.Transform {
	e := elapsed.Seconds()
	roll := 20 * math.Sin(e) * math.Pi / 180
	pitch := 15 * math.Cos(e*0.7) * math.Pi / 180
	yaw := math.Mod(e*30, 360) * math.Pi / 180

	q := quat.Mul(axisAngle(r3.Vec{Z: 1}, yaw), quat.Mul(axisAngle(r3.Vec{Y: 1}, pitch), axisAngle(r3.Vec{X: 1}, roll)))
	return transform.Transform{
		Translation: r3.Vec{
			X: 0.3 * math.Sin(e*0.5),
			Y: 0.2 * math.Cos(e*0.3),
			Z: 1 + 0.1*math.Sin(e*0.7),
		},
		Rotation: q,
	}
}

// Sample returns both chains observed at the same instant.
func (s *Source) Sample() (a, b transform.Stamped) {
	now := s.now()
	body := Motion(now.Sub(s.start))

	s.mu.Lock()
	tb := s.perturb(body)
	ta := s.perturb(s.Truth.Mul(body))
	s.mu.Unlock()

	a = transform.Stamped{Transform: ta, FrameID: s.ChainA.Reference, ChildFrameID: s.ChainA.Target, Stamp: now}
	b = transform.Stamped{Transform: tb, FrameID: s.ChainB.Reference, ChildFrameID: s.ChainB.Target, Stamp: now}
	return a, b
}

// Lookup implements sampling.PoseSource for the two simulated chains.
func (s *Source) Lookup(_ context.Context, referenceFrame, targetFrame string) (transform.Stamped, error) {
	a, b := s.Sample()
	switch (sampling.Chain{Reference: referenceFrame, Target: targetFrame}) {
	case s.ChainA:
		return a, nil
	case s.ChainB:
		return b, nil
	}
	return transform.Stamped{}, fmt.Errorf("%s -> %s: %w (not simulated)", referenceFrame, targetFrame, sampling.ErrUnavailable)
}

// perturb must be called with mu held.
func (s *Source) perturb(t transform.Transform) transform.Transform {
	if s.Noise.Translation > 0 {
		t.Translation = r3.Add(t.Translation, r3.Vec{
			X: s.rng.NormFloat64() * s.Noise.Translation,
			Y: s.rng.NormFloat64() * s.Noise.Translation,
			Z: s.rng.NormFloat64() * s.Noise.Translation,
		})
	}
	if s.Noise.Rotation > 0 {
		axis := r3.Vec{X: s.rng.NormFloat64(), Y: s.rng.NormFloat64(), Z: s.rng.NormFloat64()}
		if r3.Norm(axis) > 0 {
			t.Rotation = quat.Mul(axisAngle(r3.Unit(axis), s.rng.NormFloat64()*s.Noise.Rotation), t.Rotation)
		}
	}
	return t.Normalized()
}

func axisAngle(axis r3.Vec, angle float64) quat.Number {
	sin, cos := math.Sincos(angle / 2)
	return quat.Number{Real: cos, Imag: axis.X * sin, Jmag: axis.Y * sin, Kmag: axis.Z * sin}
}
