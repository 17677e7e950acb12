// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

func stamped(t *testing.T, translation [3]float64, xyzw [4]float64) transform.Stamped {
	t.Helper()
	tr, err := transform.FromXYZW(translation, xyzw)
	require.NoError(t, err)
	return transform.Stamped{Transform: tr, FrameID: "/camera_depth_optical_frame", ChildFrameID: "/phase_space_world"}
}

func TestSaveWritesXYZWOrder(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Dir: dir, Name: "asus_phase_space"}
	require.NoError(t, store.Save(stamped(t, [3]float64{1, 2, 3}, [4]float64{0, 0, 1, 0})))

	assert.Equal(t, filepath.Join(dir, "asus_phase_space.yaml"), store.Path())
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "#"))
	assert.Contains(t, text, "translation: [1, 2, 3]")
	assert.Contains(t, text, "rotation: [0, 0, 1, 0]")
	assert.Contains(t, text, "frame_id: /camera_depth_optical_frame")
	assert.Contains(t, text, "child_frame_id: /phase_space_world")
}

func TestSaveOverwrites(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Dir: filepath.Join(dir, "config"), Name: "cal"}
	require.NoError(t, store.Save(stamped(t, [3]float64{9, 9, 9}, [4]float64{0, 0, 0, 1})))
	require.NoError(t, store.Save(stamped(t, [3]float64{1, 0, 0}, [4]float64{0, 0, 0, 1})))

	r, err := Load(store.Path())
	require.NoError(t, err)
	assert.Equal(t, [3]float64{1, 0, 0}, r.Translation)

	entries, err := os.ReadDir(store.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Dir: dir, Name: "cal"}
	want := stamped(t, [3]float64{0.25, -1.5, 3}, [4]float64{0.1, 0.2, 0.3, 0.9})
	require.NoError(t, store.Save(want))

	r, err := Load(store.Path())
	require.NoError(t, err)
	got, err := r.Stamped()
	require.NoError(t, err)

	assert.Equal(t, want.FrameID, got.FrameID)
	assert.Equal(t, want.ChildFrameID, got.ChildFrameID)
	wx, gx := want.XYZ(), got.XYZ()
	assert.InDeltaSlice(t, wx[:], gx[:], 1e-12)
	gq, wq := got.XYZW(), want.XYZW()
	assert.InDeltaSlice(t, wq[:], gq[:], 1e-12)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("translation: [1, 2, 3]\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "frame_id")

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("rotation: [0, 0, 0, 0]\nframe_id: a\nchild_frame_id: b\n"), 0o644))
	r, err := Load(zero)
	require.NoError(t, err)
	_, err = r.Stamped()
	assert.Error(t, err)
}

func TestSaveFailsOnUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	store := &FileStore{Dir: filepath.Join(blocker, "sub"), Name: "cal"}
	assert.Error(t, store.Save(stamped(t, [3]float64{}, [4]float64{0, 0, 0, 1})))
}
