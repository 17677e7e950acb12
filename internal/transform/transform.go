// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transform holds the rigid transform type shared by every part of the
// calibrator: a translation plus a unit quaternion rotation.
package transform

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// NormTolerance is the smallest quaternion norm we are willing to normalise.
// Anything below it does not describe a rotation.
const NormTolerance = 1e-12

// Transform maps points from a child frame into its parent frame:
// p_parent = Rotation * p_child + Translation.
//
// Rotation is stored w-first in gonum's convention (Real=w, Imag=x, Jmag=y, Kmag=z).
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Stamped is a transform between two named frames observed at a given time.
type Stamped struct {
	Transform
	FrameID      string
	ChildFrameID string
	Stamp        time.Time
}

// Identity returns the transform that maps every point onto itself.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// FromXYZW builds a transform from a translation and an (x, y, z, w) ordered
// quaternion, the order used on the wire and in persisted records.
// The rotation is normalised; a zero quaternion is rejected.
func FromXYZW(translation [3]float64, rotation [4]float64) (Transform, error) {
	q, ok := Normalize(quat.Number{
		Real: rotation[3],
		Imag: rotation[0],
		Jmag: rotation[1],
		Kmag: rotation[2],
	})
	if !ok {
		return Transform{}, fmt.Errorf("rotation %v is not a valid quaternion", rotation)
	}
	return Transform{
		Translation: r3.Vec{X: translation[0], Y: translation[1], Z: translation[2]},
		Rotation:    q,
	}, nil
}

// Normalize scales q to unit length. It reports false when q is too small
// (or not finite) to carry a direction.
func Normalize(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n < NormTolerance || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{}, false
	}
	return quat.Scale(1/n, q), true
}

// Normalized returns t with a unit rotation. A degenerate rotation is
// replaced by the identity.
func (t Transform) Normalized() Transform {
	q, ok := Normalize(t.Rotation)
	if !ok {
		q = quat.Number{Real: 1}
	}
	return Transform{Translation: t.Translation, Rotation: q}
}

// Apply maps p from t's child frame into its parent frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// Mul composes t with o so that t.Mul(o).Apply(p) == t.Apply(o.Apply(p)).
func (t Transform) Mul(o Transform) Transform {
	return Transform{
		Translation: t.Apply(o.Translation),
		Rotation:    quat.Mul(t.Rotation, o.Rotation),
	}
}

// Inverse returns the transform mapping parent points back into the child frame.
// t must have a unit rotation.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: r3.Scale(-1, r3.Rotation(inv).Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// XYZW returns the rotation in (x, y, z, w) order.
func (t Transform) XYZW() [4]float64 {
	q := t.Rotation
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// WXYZ returns the rotation in (w, x, y, z) order, the order the averaging
// accumulator works in.
func (t Transform) WXYZ() [4]float64 {
	q := t.Rotation
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// XYZ returns the translation as an array.
func (t Transform) XYZ() [3]float64 {
	return [3]float64{t.Translation.X, t.Translation.Y, t.Translation.Z}
}

// String formats t the way the logs print poses.
func (t Transform) String() string {
	q := t.XYZW()
	return fmt.Sprintf("t=(%.4f %.4f %.4f) q=(%.4f %.4f %.4f %.4f)",
		t.Translation.X, t.Translation.Y, t.Translation.Z, q[0], q[1], q[2], q[3])
}
