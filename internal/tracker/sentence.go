// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker reads poses from a serial motion tracker.
//
// The tracker emits one proprietary NMEA-framed sentence per observed frame pair:
//
//	$PTFS,<frame>,<child>,<tx>,<ty>,<tz>,<qx>,<qy>,<qz>,<qw>*<checksum>
package tracker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

// TypeTFS is the sentence type of a transform sentence.
const TypeTFS = "TFS"

// Sentence is one decoded transform sentence. Rotation is (x, y, z, w).
type Sentence struct {
	nmea.BaseSentence
	FrameID      string
	ChildFrameID string
	Translation  [3]float64
	Rotation     [4]float64
}

var parser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{
		TypeTFS: parseTFS,
	},
}

func parseTFS(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeTFS)
	m := Sentence{
		BaseSentence: s,
		FrameID:      p.String(0, "frame id"),
		ChildFrameID: p.String(1, "child frame id"),
		Translation: [3]float64{
			p.Float64(2, "tx"),
			p.Float64(3, "ty"),
			p.Float64(4, "tz"),
		},
		Rotation: [4]float64{
			p.Float64(5, "qx"),
			p.Float64(6, "qy"),
			p.Float64(7, "qz"),
			p.Float64(8, "qw"),
		},
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	if len(s.Fields) != 9 {
		return nil, fmt.Errorf("nmea: %s expected 9 fields, got %d", s.Prefix(), len(s.Fields))
	}
	if m.FrameID == "" || m.ChildFrameID == "" {
		return nil, fmt.Errorf("nmea: %s missing frame names", s.Prefix())
	}
	return m, nil
}

// Parse decodes one line. The checksum is verified.
func Parse(line string) (Sentence, error) {
	s, err := parser.Parse(strings.TrimSpace(line))
	if err != nil {
		return Sentence{}, err
	}
	m, ok := s.(Sentence)
	if !ok {
		return Sentence{}, fmt.Errorf("tracker: unexpected sentence %s", s.Prefix())
	}
	return m, nil
}

// Stamped converts the sentence into a transform observed at stamp.
func (m Sentence) Stamped(stamp time.Time) (transform.Stamped, error) {
	t, err := transform.FromXYZW(m.Translation, m.Rotation)
	if err != nil {
		return transform.Stamped{}, fmt.Errorf("%s -> %s: %w", m.FrameID, m.ChildFrameID, err)
	}
	return transform.Stamped{Transform: t, FrameID: m.FrameID, ChildFrameID: m.ChildFrameID, Stamp: stamp}, nil
}

// Format renders st as a sentence, checksum included, without line terminator.
// Frame names must not contain ',' or '*'.
func Format(st transform.Stamped) string {
	q := st.XYZW()
	fields := []string{
		"P" + TypeTFS,
		st.FrameID,
		st.ChildFrameID,
		formatFloat(st.Translation.X),
		formatFloat(st.Translation.Y),
		formatFloat(st.Translation.Z),
		formatFloat(q[0]),
		formatFloat(q[1]),
		formatFloat(q[2]),
		formatFloat(q[3]),
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
