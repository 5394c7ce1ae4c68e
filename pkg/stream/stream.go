// Package stream fans bus broadcasts out to live WebSocket clients.
//
// Clients register per session; every broadcast event whose session has
// registered sockets is serialized once into a transport-neutral envelope
// and written to each socket. A failing socket is logged and skipped —
// partial delivery never aborts the remaining sends.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thenote/backend/pkg/bus"
)

// Socket is the minimal connection surface the streamer needs.
// *websocket.Conn from gorilla/websocket satisfies it.
type Socket interface {
	WriteJSON(v any) error
	Close() error
}

// Envelope is the wire shape of one streamed event.
type Envelope struct {
	SessionID string      `json:"session_id"`
	Source    string      `json:"source"`
	Target    string      `json:"target"`
	Kind      string      `json:"kind"`
	Payload   bus.Payload `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// Streamer tracks per-session socket membership.
type Streamer struct {
	mu     sync.Mutex
	conns  map[string]map[Socket]struct{}
	logger *slog.Logger
}

// NewStreamer creates a streamer.
func NewStreamer(logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		conns:  make(map[string]map[Socket]struct{}),
		logger: logger,
	}
}

// Register adds a socket to a session's set.
func (s *Streamer) Register(sessionID string, sock Socket) {
	s.mu.Lock()
	set := s.conns[sessionID]
	if set == nil {
		set = make(map[Socket]struct{})
		s.conns[sessionID] = set
	}
	set[sock] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("ws connected", "session_id", sessionID)
}

// Unregister removes a socket. Removing the last socket drops the session
// entry entirely.
func (s *Streamer) Unregister(sessionID string, sock Socket) {
	s.mu.Lock()
	if set, ok := s.conns[sessionID]; ok {
		delete(set, sock)
		if len(set) == 0 {
			delete(s.conns, sessionID)
		}
	}
	s.mu.Unlock()
	s.logger.Info("ws disconnected", "session_id", sessionID)
}

// Sessions returns the number of sessions with at least one live socket.
func (s *Streamer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast sends the event to every socket registered for its session.
// Send failures are logged per socket and do not abort delivery to the
// remaining sockets.
func (s *Streamer) Broadcast(event *bus.Event) {
	s.mu.Lock()
	set := s.conns[event.SessionID]
	sockets := make([]Socket, 0, len(set))
	for sock := range set {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()
	if len(sockets) == 0 {
		return
	}

	env := Envelope{
		SessionID: event.SessionID,
		Source:    string(event.Source),
		Target:    string(event.Target),
		Kind:      string(event.Payload.Kind()),
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}
	for _, sock := range sockets {
		if err := sock.WriteJSON(env); err != nil {
			s.logger.Error("ws send failed",
				"session_id", event.SessionID,
				"error", err)
		}
	}
}

// HandleEvent adapts Broadcast to the bus.Handler signature; it is
// subscribed to the broadcast topic by the hub.
func (s *Streamer) HandleEvent(_ context.Context, event *bus.Event) error {
	s.Broadcast(event)
	return nil
}
