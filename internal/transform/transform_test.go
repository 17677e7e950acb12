// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transform

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const eps = 1e-9

func aboutZ(deg float64) quat.Number {
	half := deg * math.Pi / 360
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

func assertVec(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps)
	assert.InDelta(t, want.Y, got.Y, eps)
	assert.InDelta(t, want.Z, got.Z, eps)
}

func TestApplyRotatesThenTranslates(t *testing.T) {
	tr := Transform{Translation: r3.Vec{X: 1}, Rotation: aboutZ(90)}
	assertVec(t, r3.Vec{X: 1, Y: 1}, tr.Apply(r3.Vec{X: 1}))
}

func TestMulMatchesSequentialApply(t *testing.T) {
	a := Transform{Translation: r3.Vec{X: 1, Y: 2, Z: 3}, Rotation: aboutZ(30)}
	b := Transform{Translation: r3.Vec{X: -0.5, Z: 0.25}, Rotation: aboutZ(-75)}
	p := r3.Vec{X: 0.3, Y: -1.2, Z: 2}

	assertVec(t, a.Apply(b.Apply(p)), a.Mul(b).Apply(p))
}

func TestInverseCancels(t *testing.T) {
	q, ok := Normalize(quat.Number{Real: 0.9, Imag: 0.1, Jmag: -0.3, Kmag: 0.2})
	require.True(t, ok)
	tr := Transform{Translation: r3.Vec{X: 4, Y: -1, Z: 0.5}, Rotation: q}

	for name, got := range map[string]Transform{
		"t*inv(t)": tr.Mul(tr.Inverse()),
		"inv(t)*t": tr.Inverse().Mul(tr),
	} {
		t.Run(name, func(t *testing.T) {
			assertVec(t, r3.Vec{}, got.Translation)
			assert.InDelta(t, 1, math.Abs(got.Rotation.Real), eps)
		})
	}
}

func TestFromXYZWReordersAndNormalizes(t *testing.T) {
	tr, err := FromXYZW([3]float64{1, 2, 3}, [4]float64{0, 0, 2, 2})
	require.NoError(t, err)

	assert.InDelta(t, math.Sqrt2/2, tr.Rotation.Real, eps)
	assert.InDelta(t, math.Sqrt2/2, tr.Rotation.Kmag, eps)
	assert.Equal(t, [3]float64{1, 2, 3}, tr.XYZ())

	xyzw := tr.XYZW()
	wxyz := tr.WXYZ()
	assert.Equal(t, xyzw[3], wxyz[0])
	assert.Equal(t, xyzw[2], wxyz[3])
}

func TestFromXYZWRejectsZeroQuaternion(t *testing.T) {
	_, err := FromXYZW([3]float64{}, [4]float64{})
	assert.Error(t, err)
}

func TestNormalizedFallsBackToIdentity(t *testing.T) {
	tr := Transform{Translation: r3.Vec{Y: 1}}.Normalized()
	assert.Equal(t, Identity().Rotation, tr.Rotation)
	assert.Equal(t, 1.0, tr.Translation.Y)
}

func TestWireMessage(t *testing.T) {
	st := Stamped{
		Transform:    Transform{Translation: r3.Vec{X: 1, Y: -2, Z: 0.5}, Rotation: aboutZ(45)},
		FrameID:      "/camera",
		ChildFrameID: "/world",
		Stamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"frame_id":"/camera"`)
	assert.Contains(t, string(payload), `"child_frame_id":"/world"`)

	got, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, st.FrameID, got.FrameID)
	assert.True(t, st.Stamp.Equal(got.Stamp))
	assertVec(t, st.Translation, got.Translation)
	assert.InDelta(t, st.Rotation.Kmag, got.Rotation.Kmag, eps)
}

func TestUnmarshalRejectsZeroRotation(t *testing.T) {
	_, err := Unmarshal([]byte(`{"frame_id":"a","child_frame_id":"b","rotation":{"x":0,"y":0,"z":0,"w":0}}`))
	assert.Error(t, err)
}
