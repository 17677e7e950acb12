// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package averaging reduces sets of rigid transforms to a single representative one.
//
// Rotations are averaged with the eigenvector method: accumulate the mean of the
// quaternion outer products q*q^T (w, x, y, z order) into a symmetric 4x4 matrix
// and take the eigenvector belonging to its largest eigenvalue. This is the
// maximum likelihood average under isotropic rotation noise, and it is insensitive
// to the sign ambiguity of quaternions because q*q^T == (-q)*(-q)^T.
//
// Translations are plain arithmetic means.
package averaging

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

var (
	// ErrNoSamples is returned when asked to average an empty set.
	ErrNoSamples = errors.New("averaging: no samples")

	// ErrDegenerate is returned when an input is not a rotation or the
	// accumulated matrix cannot be factorised.
	ErrDegenerate = errors.New("averaging: degenerate input")
)

// Rotation returns the average of qs. Inputs are normalised before they are
// accumulated; the result is unit norm with a non-negative real part.
func Rotation(qs []quat.Number) (quat.Number, error) {
	if len(qs) == 0 {
		return quat.Number{}, ErrNoSamples
	}

	m := mat.NewSymDense(4, nil)
	v := mat.NewVecDense(4, nil)
	for i, q := range qs {
		u, ok := transform.Normalize(q)
		if !ok {
			return quat.Number{}, fmt.Errorf("%w: quaternion %d has zero norm", ErrDegenerate, i)
		}
		v.SetVec(0, u.Real)
		v.SetVec(1, u.Imag)
		v.SetVec(2, u.Jmag)
		v.SetVec(3, u.Kmag)
		m.SymRankOne(m, 1, v)
	}
	m.ScaleSym(1/float64(len(qs)), m)

	var es mat.EigenSym
	if ok := es.Factorize(m, true); !ok {
		return quat.Number{}, fmt.Errorf("%w: eigen decomposition failed", ErrDegenerate)
	}

	// Eigenvalue order is not guaranteed; scan for the largest.
	values := es.Values(nil)
	best := 0
	for i := range values {
		if values[i] > values[best] {
			best = i
		}
	}
	var vectors mat.Dense
	es.VectorsTo(&vectors)

	avg, ok := transform.Normalize(quat.Number{
		Real: vectors.At(0, best),
		Imag: vectors.At(1, best),
		Jmag: vectors.At(2, best),
		Kmag: vectors.At(3, best),
	})
	if !ok {
		return quat.Number{}, fmt.Errorf("%w: zero eigenvector", ErrDegenerate)
	}
	return canonical(avg), nil
}

// canonical picks the representative of {q, -q} with a non-negative real part,
// breaking ties on the first non-zero imaginary component.
func canonical(q quat.Number) quat.Number {
	for _, c := range [...]float64{q.Real, q.Imag, q.Jmag, q.Kmag} {
		switch {
		case c > 0:
			return q
		case c < 0:
			return quat.Scale(-1, q)
		}
	}
	return q
}

// Translation returns the component-wise arithmetic mean of vs.
func Translation(vs []r3.Vec) (r3.Vec, error) {
	if len(vs) == 0 {
		return r3.Vec{}, ErrNoSamples
	}
	var sum r3.Vec
	for _, v := range vs {
		sum = r3.Add(sum, v)
	}
	n := float64(len(vs))
	return r3.Vec{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}, nil
}

// Transforms averages translation and rotation of ts independently.
func Transforms(ts []transform.Transform) (transform.Transform, error) {
	if len(ts) == 0 {
		return transform.Transform{}, ErrNoSamples
	}
	vs := make([]r3.Vec, len(ts))
	qs := make([]quat.Number, len(ts))
	for i, t := range ts {
		vs[i] = t.Translation
		qs[i] = t.Rotation
	}
	avgT, err := Translation(vs)
	if err != nil {
		return transform.Transform{}, err
	}
	avgQ, err := Rotation(qs)
	if err != nil {
		return transform.Transform{}, err
	}
	return transform.Transform{Translation: avgT, Rotation: avgQ}, nil
}
