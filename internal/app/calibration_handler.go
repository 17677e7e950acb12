// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/relabs-tech/average_calibrator/internal/averaging"
	"github.com/relabs-tech/average_calibrator/internal/calibration"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

type transformView struct {
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"` // x, y, z, w
}

func viewOf(t transform.Transform) transformView {
	return transformView{Translation: t.XYZ(), Rotation: t.XYZW()}
}

type stampedTransformView struct {
	transformView
	FrameID      string    `json:"frame_id"`
	ChildFrameID string    `json:"child_frame_id"`
	Stamp        time.Time `json:"stamp"`
}

func stampedView(st transform.Stamped) stampedTransformView {
	return stampedTransformView{
		transformView: viewOf(st.Transform),
		FrameID:       st.FrameID,
		ChildFrameID:  st.ChildFrameID,
		Stamp:         st.Stamp,
	}
}

type candidateView struct {
	ID        string        `json:"id"`
	Created   time.Time     `json:"created"`
	Transform transformView `json:"transform"`
	ChainA    transformView `json:"chain_a"`
	ChainB    transformView `json:"chain_b"`
}

func candidateViewOf(c calibration.Candidate) candidateView {
	return candidateView{
		ID:        c.ID,
		Created:   c.Created,
		Transform: viewOf(c.Transform),
		ChainA:    viewOf(c.ChainA),
		ChainB:    viewOf(c.ChainB),
	}
}

type progressView struct {
	Filled   int `json:"filled"`
	Capacity int `json:"capacity"`
}

type snapshotView struct {
	Current      transformView   `json:"current"`
	FrameID      string          `json:"frame_id"`
	ChildFrameID string          `json:"child_frame_id"`
	Calibrated   bool            `json:"calibrated"`
	Updated      *time.Time      `json:"updated,omitempty"`
	Capacity     int             `json:"capacity"`
	Adding       bool            `json:"adding"`
	History      []candidateView `json:"history"`
}

// CalibrationServer exposes the engine operations over HTTP and streams their
// events to the WebSocket hub.
type CalibrationServer struct {
	mux    *http.ServeMux
	engine *calibration.Engine
	hub    *WSHub
	base   context.Context
}

// NewCalibrationServer serves engine. An in-flight add is cancelled when base
// is done, when its HTTP client goes away, on /api/calibration/stop, or by a
// clear. Remove and calibrate wait for it to finish.
func NewCalibrationServer(base context.Context, engine *calibration.Engine, hub *WSHub) *CalibrationServer {
	s := &CalibrationServer{
		mux:    http.NewServeMux(),
		engine: engine,
		hub:    hub,
		base:   base,
	}

	s.mux.HandleFunc("GET /api/calibration", s.handleSnapshot)
	s.mux.HandleFunc("POST /api/calibration/add", s.handleAdd)
	s.mux.HandleFunc("POST /api/calibration/remove", s.handleRemove)
	s.mux.HandleFunc("POST /api/calibration/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/calibration/calibrate", s.handleCalibrate)
	s.mux.HandleFunc("POST /api/calibration/stop", s.handleStop)
	s.mux.Handle("GET /ws/calibration", hub)

	// Static frontend
	s.mux.Handle("GET /", http.FileServer(http.Dir("web")))

	return s
}

func (s *CalibrationServer) Handler() http.Handler { return s.mux }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// writeError maps engine errors onto status codes and tells the consoles.
func (s *CalibrationServer) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, calibration.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, calibration.ErrEmptyHistory), errors.Is(err, averaging.ErrNoSamples):
		status = http.StatusPreconditionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	log.Printf("web: %s: %v", op, err)
	s.hub.Broadcast(WSMessage{Type: MsgError, Data: map[string]string{"op": op, "error": err.Error()}})
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *CalibrationServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.State().Snapshot()
	out := s.engine.Output()
	v := snapshotView{
		Current:      viewOf(snap.Current),
		FrameID:      out.FrameID,
		ChildFrameID: out.ChildFrameID,
		Calibrated:   snap.Calibrated,
		Capacity:     s.engine.Capacity(),
		History:      make([]candidateView, 0, len(snap.History)),
	}
	if snap.Calibrated {
		v.Updated = &snap.Updated
	}
	for _, c := range snap.History {
		v.History = append(v.History, candidateViewOf(c))
	}
	v.Adding = s.engine.Adding()
	writeJSON(w, http.StatusOK, v)
}

func (s *CalibrationServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stopAfter := context.AfterFunc(s.base, cancel)
	defer stopAfter()

	c, err := s.engine.AddPose(ctx)
	if err != nil {
		s.writeError(w, "add", err)
		return
	}
	cv := candidateViewOf(c)
	s.hub.Broadcast(WSMessage{Type: MsgCandidate, Data: cv})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"candidate":  cv,
		"candidates": s.engine.State().Len(),
	})
}

func (s *CalibrationServer) handleStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.engine.CancelAdd()
	if stopped {
		log.Println("web: stopped in-flight add")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "stopped": stopped})
}

func (s *CalibrationServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.RemoveLast()
	if err != nil {
		s.writeError(w, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"removed":    c.ID,
		"candidates": s.engine.State().Len(),
	})
}

func (s *CalibrationServer) handleClear(w http.ResponseWriter, r *http.Request) {
	n := s.engine.Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "removed": n})
}

func (s *CalibrationServer) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Calibrate()
	if err != nil && !errors.Is(err, calibration.ErrPersist) {
		s.writeError(w, "calibrate", err)
		return
	}

	rv := viewOf(result)
	s.hub.Broadcast(WSMessage{Type: MsgCalibrated, Data: rv})
	if err != nil {
		log.Printf("web: calibrate: %v", err)
		s.hub.Broadcast(WSMessage{Type: MsgError, Data: map[string]string{"op": "calibrate", "error": err.Error()}})
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "result": rv})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": rv})
}
