// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/average_calibrator/internal/transform"
)

const wsWriteWait = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocket message types
const (
	MsgProgress   = "progress"
	MsgCandidate  = "candidate"
	MsgCalibrated = "calibrated"
	MsgTransform  = "transform"
	MsgError      = "error"
)

// WSMessage is one event pushed to operator consoles.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// WSHub fans events out to every connected console. It is also a
// calibration.Sink, streaming each rebroadcast tick.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]struct{})}
}

func (h *WSHub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len returns the number of connected consoles.
func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to every client. Clients that fail to keep up are dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("web: ws marshal error: %v", err)
		return
	}

	h.mu.RLock()
	var failed []*wsClient
	for c := range h.clients {
		if err := c.write(b); err != nil {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range failed {
		log.Printf("web: dropping ws client %s", c.conn.RemoteAddr())
		h.remove(c)
	}
}

// Publish implements calibration.Sink.
func (h *WSHub) Publish(st transform.Stamped) error {
	if h.Len() == 0 {
		return nil
	}
	h.Broadcast(WSMessage{Type: MsgTransform, Data: stampedView(st)})
	return nil
}

// Progress reports fill progress; it matches sampling.Policy.OnProgress.
func (h *WSHub) Progress(filled, capacity int) {
	h.Broadcast(WSMessage{Type: MsgProgress, Data: progressView{Filled: filled, Capacity: capacity}})
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	client := h.add(conn)
	log.Printf("web: ws client %s connected", conn.RemoteAddr())

	// Keep reading until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}
