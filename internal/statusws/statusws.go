// Package statusws serves a read-only WebSocket dashboard mirroring a
// debug session's run-state: SPEC_FULL.md's "Status snapshot" addition.
// It never accepts commands that mutate target state; it is strictly
// observational, keeping the RSP front end's single-owner guarantee intact.
package statusws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"rvdbg/internal/dm"
	"rvdbg/internal/log"
)

// Snapshot is pushed to the single active WebSocket connection on every
// run-mode transition.
type Snapshot struct {
	RunMode              string `json:"run_mode"`
	XLen                 uint8  `json:"xlen"`
	WaitingForStopReason bool   `json:"waiting_for_stop_reason"`
	LastStopCause        string `json:"last_stop_cause,omitempty"`
	PollCount            int    `json:"poll_count"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-origin tooling, not a public endpoint; the
	// teacher's server.go accepts any origin for its local debug socket too.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub holds at most one live dashboard connection. Pushes to a
// disconnected Hub are silently dropped rather than blocking the caller
// (the session's run-mode-change hook must never stall on a slow viewer).
type Hub struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHub returns an empty Hub.
func NewHub() *Hub { return &Hub{} }

// Push sends snap to the current connection, if any.
func (h *Hub) Push(snap Snapshot) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(snap); err != nil {
		log.ModStatus.WarnZ("dashboard write failed, dropping connection").Error("err", err).End()
		h.mu.Lock()
		if h.conn == conn {
			h.conn = nil
		}
		h.mu.Unlock()
		_ = conn.Close()
	}
}

// ServeHTTP upgrades GET /ws to a WebSocket and replaces any prior
// connection (one dashboard viewer at a time; it is diagnostic tooling,
// not a multi-tenant API).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ModStatus.WarnZ("websocket upgrade failed").Error("err", err).End()
		return
	}

	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	// Drain and discard inbound frames: this endpoint is read-only from
	// the dashboard's perspective, but we still need to notice a closed
	// connection so Push can stop targeting it.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if h.conn == conn {
					h.conn = nil
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

// Server wraps an http.Server exposing the dashboard at /ws, so
// cmd/rvdbg can run it under the same errgroup as the TCP accept loop.
type Server struct {
	Hub  *Hub
	http *http.Server
}

// NewServer binds addr (not yet listening; call Run).
func NewServer(addr string) *Server {
	hub := NewHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	return &Server{
		Hub:  hub,
		http: &http.Server{Addr: addr, Handler: mux},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// OnRunModeChange adapts a Session's run-mode callback onto a Snapshot
// push; xlen/cause are supplied by the caller since dm.RunMode alone
// does not carry them.
func (s *Server) OnRunModeChange(mode dm.RunMode, xlen uint8, waiting bool, cause string, pollCount int) {
	s.Hub.Push(Snapshot{
		RunMode:              mode.String(),
		XLen:                 xlen,
		WaitingForStopReason: waiting,
		LastStopCause:        cause,
		PollCount:            pollCount,
	})
}
