// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

func sample(t *testing.T) transform.Stamped {
	t.Helper()
	tr, err := transform.FromXYZW([3]float64{1.5, -2, 0.25}, [4]float64{0, 0, 1, 0})
	require.NoError(t, err)
	return transform.Stamped{Transform: tr, FrameID: "/phase_space_world", ChildFrameID: "/tool"}
}

func TestFormatParseRoundTrip(t *testing.T) {
	line := Format(sample(t))
	assert.True(t, strings.HasPrefix(line, "$PTFS,/phase_space_world,/tool,1.5,-2,0.25,0,0,1,0*"), line)

	m, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, TypeTFS, m.DataType())
	assert.Equal(t, "/phase_space_world", m.FrameID)
	assert.Equal(t, "/tool", m.ChildFrameID)
	assert.Equal(t, [3]float64{1.5, -2, 0.25}, m.Translation)
	assert.Equal(t, [4]float64{0, 0, 1, 0}, m.Rotation)
}

func TestParseRejects(t *testing.T) {
	good := Format(sample(t))

	t.Run("bad checksum", func(t *testing.T) {
		bad := good[:len(good)-2] + "00"
		if bad == good {
			bad = good[:len(good)-2] + "FF"
		}
		_, err := Parse(bad)
		assert.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		body := "PTFS,a,b,x,0,0,0,0,0,1"
		_, err := Parse("$" + body + "*" + checksum(body))
		assert.Error(t, err)
	})

	t.Run("missing frame", func(t *testing.T) {
		body := "PTFS,,b,0,0,0,0,0,0,1"
		_, err := Parse("$" + body + "*" + checksum(body))
		assert.Error(t, err)
	})

	t.Run("too few fields", func(t *testing.T) {
		body := "PTFS,a,b,0,0,0"
		_, err := Parse("$" + body + "*" + checksum(body))
		assert.Error(t, err)
	})
}

func TestStampedNormalises(t *testing.T) {
	m := Sentence{FrameID: "a", ChildFrameID: "b", Rotation: [4]float64{0, 0, 0, 2}}
	st, err := m.Stamped(time.Unix(10, 0))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, st.Rotation.Real, 1e-15)
	assert.Equal(t, time.Unix(10, 0), st.Stamp)

	_, err = Sentence{FrameID: "a", ChildFrameID: "b"}.Stamped(time.Now())
	assert.Error(t, err)
}

func TestSourceRun(t *testing.T) {
	st := sample(t)
	st.Translation = r3.Vec{X: 3}
	stream := strings.Join([]string{
		"garbage",
		"$GPRMC,not,ours*00",
		Format(sample(t)),
		Format(st),
		"",
	}, "\r\n")

	src := NewSource(time.Second)
	var seen int
	src.OnPose = func(transform.Stamped) { seen++ }

	err := src.Run(context.Background(), strings.NewReader(stream))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, seen)

	got, err := src.Lookup(context.Background(), "/phase_space_world", "/tool")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Translation.X)

	_, err = src.Lookup(context.Background(), "/phase_space_world", "/other")
	assert.ErrorIs(t, err, sampling.ErrUnavailable)
}

func TestSourceRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewSource(0)
	err := src.Run(ctx, strings.NewReader(Format(sample(t))+"\n"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = src.Lookup(context.Background(), "/phase_space_world", "/tool")
	assert.ErrorIs(t, err, sampling.ErrUnavailable)
}

func checksum(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[cs>>4], hex[cs&0x0f]})
}
