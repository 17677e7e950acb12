// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transform

import (
	"encoding/json"
	"fmt"
	"time"
)

// Vector3 is the JSON form of a translation.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is the JSON form of a rotation, (x, y, z, w) like every external
// interface of this project.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Message is the payload published on the tf topics.
type Message struct {
	FrameID      string     `json:"frame_id"`
	ChildFrameID string     `json:"child_frame_id"`
	Stamp        time.Time  `json:"stamp"`
	Translation  Vector3    `json:"translation"`
	Rotation     Quaternion `json:"rotation"`
}

// ToMessage converts a stamped transform into its wire form.
func ToMessage(st Stamped) Message {
	q := st.XYZW()
	return Message{
		FrameID:      st.FrameID,
		ChildFrameID: st.ChildFrameID,
		Stamp:        st.Stamp,
		Translation:  Vector3{X: st.Translation.X, Y: st.Translation.Y, Z: st.Translation.Z},
		Rotation:     Quaternion{X: q[0], Y: q[1], Z: q[2], W: q[3]},
	}
}

// Stamped converts the message back, normalising the rotation.
func (m Message) Stamped() (Stamped, error) {
	t, err := FromXYZW(
		[3]float64{m.Translation.X, m.Translation.Y, m.Translation.Z},
		[4]float64{m.Rotation.X, m.Rotation.Y, m.Rotation.Z, m.Rotation.W},
	)
	if err != nil {
		return Stamped{}, fmt.Errorf("%s -> %s: %w", m.FrameID, m.ChildFrameID, err)
	}
	return Stamped{Transform: t, FrameID: m.FrameID, ChildFrameID: m.ChildFrameID, Stamp: m.Stamp}, nil
}

// Marshal encodes st as a JSON wire message.
func Marshal(st Stamped) ([]byte, error) {
	return json.Marshal(ToMessage(st))
}

// Unmarshal decodes a JSON wire message.
func Unmarshal(payload []byte) (Stamped, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Stamped{}, err
	}
	return m.Stamped()
}
