// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package record persists calibration results as small YAML documents that the
// static republisher can load back.
package record

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

const header = `# Calibration result written by the average calibrator.
# translation is x y z, rotation is qx qy qz qw.
# Load it with static_tf to republish frame_id -> child_frame_id.
`

// Record is the persisted form of a calibration. Rotation is (x, y, z, w).
type Record struct {
	Translation  [3]float64 `yaml:"translation,flow"`
	Rotation     [4]float64 `yaml:"rotation,flow"`
	FrameID      string     `yaml:"frame_id"`
	ChildFrameID string     `yaml:"child_frame_id"`
}

// FromStamped builds the record for st.
func FromStamped(st transform.Stamped) Record {
	return Record{
		Translation:  st.XYZ(),
		Rotation:     st.XYZW(),
		FrameID:      st.FrameID,
		ChildFrameID: st.ChildFrameID,
	}
}

// Stamped converts the record back into a transform between its frames.
func (r Record) Stamped() (transform.Stamped, error) {
	t, err := transform.FromXYZW(r.Translation, r.Rotation)
	if err != nil {
		return transform.Stamped{}, err
	}
	return transform.Stamped{Transform: t, FrameID: r.FrameID, ChildFrameID: r.ChildFrameID}, nil
}

// Marshal renders r with the explanatory header.
func Marshal(r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a record from path.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read calibration record: %w", err)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to parse calibration record %s: %w", path, err)
	}
	if r.FrameID == "" || r.ChildFrameID == "" {
		return Record{}, fmt.Errorf("calibration record %s: frame_id and child_frame_id are required", path)
	}
	return r, nil
}

// FileStore writes records to <Dir>/<Name>.yaml, replacing the previous one.
type FileStore struct {
	Dir  string
	Name string
}

// Path returns the destination file.
func (s *FileStore) Path() string {
	return filepath.Join(s.Dir, s.Name+".yaml")
}

// Save overwrites the record file with st. The file is written next to the
// destination and renamed over it so readers never see a partial record.
func (s *FileStore) Save(st transform.Stamped) error {
	data, err := Marshal(FromStamped(st))
	if err != nil {
		return fmt.Errorf("failed to marshal calibration record: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.Dir, err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+s.Name+"-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create calibration record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write calibration record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write calibration record: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write calibration record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.Path(), err)
	}
	return nil
}
