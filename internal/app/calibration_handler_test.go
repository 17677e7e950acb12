// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/average_calibrator/internal/calibration"
	"github.com/relabs-tech/average_calibrator/internal/mock"
	"github.com/relabs-tech/average_calibrator/internal/sampling"
	"github.com/relabs-tech/average_calibrator/internal/transform"
)

var (
	chainA = sampling.Chain{Reference: "/camera_depth_optical_frame", Target: "/ar_marker_60"}
	chainB = sampling.Chain{Reference: "/phase_space_world", Target: "/calibrator"}
)

func truth() transform.Transform {
	tr, _ := transform.FromXYZW([3]float64{1, 0, 0.5}, [4]float64{0, 0, 0.2588190451, 0.9659258263})
	return tr
}

// frozenMock simulates both chains at a single instant so every lookup of a
// fill sees the same body pose.
func frozenMock() *mock.Source {
	src := mock.NewSource(truth(), chainA, chainB, mock.Noise{}, 1)
	at := time.Now()
	src.Now = func() time.Time { return at }
	return src
}

type failingSaver struct{}

func (failingSaver) Save(transform.Stamped) error { return errors.New("disk full") }

// blockingSource never resolves a pose; it reports each lookup on started.
type blockingSource struct {
	started chan struct{}
}

func (s *blockingSource) Lookup(ctx context.Context, _, _ string) (transform.Stamped, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return transform.Stamped{}, ctx.Err()
}

func newTestServer(t *testing.T, base context.Context, src sampling.PoseSource, saver calibration.Saver) (*CalibrationServer, *calibration.Engine) {
	t.Helper()
	engine := calibration.NewEngine(calibration.Config{
		Sampler: &sampling.Sampler{
			Source: src,
			ChainA: chainA,
			ChainB: chainB,
			Policy: sampling.Policy{Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() }},
		},
		Capacity: 5,
		Initial:  transform.Identity(),
		Output:   calibration.Frames{FrameID: chainA.Reference, ChildFrameID: chainB.Reference},
		Saver:    saver,
	})
	return NewCalibrationServer(base, engine, NewWSHub()), engine
}

func do(t *testing.T, h http.Handler, method, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestOperationFlow(t *testing.T) {
	src := frozenMock()
	srv, engine := newTestServer(t, context.Background(), src, nil)
	h := srv.Handler()

	code, body := do(t, h, http.MethodPost, "/api/calibration/calibrate")
	assert.Equal(t, http.StatusPreconditionFailed, code)
	assert.Contains(t, body["error"], "no candidates")

	code, body = do(t, h, http.MethodPost, "/api/calibration/remove")
	assert.Equal(t, http.StatusPreconditionFailed, code)

	for i := 0; i < 2; i++ {
		code, body = do(t, h, http.MethodPost, "/api/calibration/add")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, true, body["ok"])
		assert.EqualValues(t, i+1, body["candidates"])
	}

	code, body = do(t, h, http.MethodPost, "/api/calibration/calibrate")
	require.Equal(t, http.StatusOK, code, body)
	result := body["result"].(map[string]interface{})
	translation := result["translation"].([]interface{})
	assert.InDelta(t, 1.0, translation[0], 1e-9)
	assert.InDelta(t, 0.5, translation[2], 1e-9)

	want := truth()
	got := engine.State().Current()
	assert.InDelta(t, want.Rotation.Real, got.Rotation.Real, 1e-9)
	assert.InDelta(t, want.Rotation.Kmag, got.Rotation.Kmag, 1e-9)

	code, body = do(t, h, http.MethodGet, "/api/calibration")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["calibrated"])
	assert.Equal(t, false, body["adding"])
	assert.EqualValues(t, 5, body["capacity"])
	assert.Len(t, body["history"], 2)

	code, body = do(t, h, http.MethodPost, "/api/calibration/remove")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["candidates"])

	code, body = do(t, h, http.MethodPost, "/api/calibration/clear")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["removed"])

	// Clearing keeps the broadcast result.
	assert.InDelta(t, 1.0, engine.State().Current().Translation.X, 1e-9)
}

func TestCalibratePersistFailureStillReturnsResult(t *testing.T) {
	src := frozenMock()
	srv, engine := newTestServer(t, context.Background(), src, failingSaver{})
	h := srv.Handler()

	code, _ := do(t, h, http.MethodPost, "/api/calibration/add")
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, h, http.MethodPost, "/api/calibration/calibrate")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "disk full")
	assert.NotNil(t, body["result"])
	assert.InDelta(t, 1.0, engine.State().Current().Translation.X, 1e-9)
}

func TestWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, context.Background(), &blockingSource{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/calibration/add", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func startAdd(t *testing.T, h http.Handler) (*httptest.ResponseRecorder, chan struct{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/calibration/add", nil))
	}()
	return rec, done
}

func TestStopCancelsInFlightAdd(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}, 1)}
	srv, engine := newTestServer(t, context.Background(), src, nil)
	h := srv.Handler()

	code, body := do(t, h, http.MethodPost, "/api/calibration/stop")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["stopped"])

	rec, done := startAdd(t, h)
	<-src.started

	code, _ = do(t, h, http.MethodPost, "/api/calibration/add")
	assert.Equal(t, http.StatusConflict, code)
	_, body = do(t, h, http.MethodGet, "/api/calibration")
	assert.Equal(t, true, body["adding"])

	// Calibrate queues behind the add instead of failing.
	calRec := httptest.NewRecorder()
	calDone := make(chan struct{})
	go func() {
		defer close(calDone)
		h.ServeHTTP(calRec, httptest.NewRequest(http.MethodPost, "/api/calibration/calibrate", nil))
	}()

	code, body = do(t, h, http.MethodPost, "/api/calibration/stop")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["stopped"])

	for name, ch := range map[string]chan struct{}{"add": done, "calibrate": calDone} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("%s did not return after stop", name)
		}
	}
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusPreconditionFailed, calRec.Code)
	assert.Equal(t, 0, engine.State().Len())
}

func TestClearDuringAddSucceeds(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}, 1)}
	srv, engine := newTestServer(t, context.Background(), src, nil)
	h := srv.Handler()

	rec, done := startAdd(t, h)
	<-src.started

	code, body := do(t, h, http.MethodPost, "/api/calibration/clear")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 0, body["removed"])

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("add did not return after clear")
	}
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, engine.Adding())
}

func TestShutdownCancelsInFlightAdd(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	src := &blockingSource{started: make(chan struct{}, 1)}
	srv, _ := newTestServer(t, base, src, nil)

	rec, done := startAdd(t, srv.Handler())
	<-src.started
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("add did not return after shutdown")
	}
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocketStream(t *testing.T) {
	src := frozenMock()
	srv, _ := newTestServer(t, context.Background(), src, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/calibration", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	tr := transform.Identity()
	tr.Translation = r3.Vec{Z: 2}
	require.NoError(t, srv.hub.Publish(transform.Stamped{Transform: tr, FrameID: "/a", ChildFrameID: "/b", Stamp: time.Now()}))

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Translation  [3]float64 `json:"translation"`
			Rotation     [4]float64 `json:"rotation"`
			FrameID      string     `json:"frame_id"`
			ChildFrameID string     `json:"child_frame_id"`
		} `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgTransform, msg.Type)
	assert.Equal(t, [3]float64{0, 0, 2}, msg.Data.Translation)
	assert.Equal(t, [4]float64{0, 0, 0, 1}, msg.Data.Rotation)
	assert.Equal(t, "/b", msg.Data.ChildFrameID)

	srv.hub.Progress(3, 5)
	var progress struct {
		Type string       `json:"type"`
		Data progressView `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&progress))
	assert.Equal(t, MsgProgress, progress.Type)
	assert.Equal(t, progressView{Filled: 3, Capacity: 5}, progress.Data)
}
