// Package session manages creative-session lifecycle over a shared table.
//
// A session moves through nonexistent → active → closed and the closed
// state is terminal: finalize flips the active flag but never removes the
// row, and there is no edge back to active.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/telemetry"
)

// Sentinel errors.
var (
	// ErrDuplicate is returned by Create when the session already exists.
	ErrDuplicate = errors.New("session: duplicate session")

	// ErrNotFound is returned when the session does not exist.
	ErrNotFound = errors.New("session: not found")

	// ErrNotActive is returned when dispatching to a finalized session.
	ErrNotActive = errors.New("session: not active")
)

// Intent names what the client wants out of the session.
type Intent string

// Known intents.
const (
	IntentCreativeSession     Intent = "creative_session"
	IntentMixFeedback         Intent = "mix_feedback"
	IntentPerformanceCoaching Intent = "performance_coaching"
	IntentAnalyticsOnly       Intent = "analytics_only"
)

// Metadata is the immutable description a session is created with.
type Metadata struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Intent        Intent    `json:"intent"`
	Tempo         *float64  `json:"tempo,omitempty"`
	Key           string    `json:"key,omitempty"`
	EmotionalGoal string    `json:"emotional_goal,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// State is one session row. Attributes holds free-form tags set by the
// pipeline; Active is the only field that mutates after creation.
type State struct {
	Metadata   Metadata          `json:"metadata"`
	Active     bool              `json:"active"`
	Attributes map[string]string `json:"attributes"`
}

// clone copies the row so callers can read it outside the controller lock.
func (s *State) clone() *State {
	cp := *s
	cp.Attributes = make(map[string]string, len(s.Attributes))
	for k, v := range s.Attributes {
		cp.Attributes[k] = v
	}
	return &cp
}

// Controller coordinates session lifecycle under concurrent access.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*State

	bus    *bus.Bus
	tel    *telemetry.Registry
	logger *slog.Logger
}

// NewController creates a controller publishing lifecycle events on b.
func NewController(b *bus.Bus, tel *telemetry.Registry, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sessions: make(map[string]*State),
		bus:      b,
		tel:      tel,
		logger:   logger,
	}
}

// Create inserts a new active session. The existence check and insert are
// atomic under one lock. Fails with ErrDuplicate if the session_id is
// already present.
func (c *Controller) Create(ctx context.Context, meta Metadata) (*State, error) {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	if _, ok := c.sessions[meta.SessionID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, meta.SessionID)
	}
	state := &State{Metadata: meta, Active: true, Attributes: make(map[string]string)}
	c.sessions[meta.SessionID] = state
	snap := state.clone()
	c.mu.Unlock()

	c.logger.Info("session created", "session_id", meta.SessionID, "intent", string(meta.Intent))
	if c.tel != nil {
		c.tel.Inc("sessions.created", 1)
	}
	if err := c.bus.Publish(ctx, bus.NewEvent(meta.SessionID, bus.TopicController, bus.TopicBroadcast, bus.Lifecycle{Event: "session_created"})); err != nil {
		c.logger.Warn("session created broadcast failed", "session_id", meta.SessionID, "error", err)
	}
	return snap, nil
}

// Get looks a session up without side effects. The returned state is a
// snapshot; later Finalize calls do not show through it. Returns
// ErrNotFound when absent.
func (c *Controller) Get(_ context.Context, sessionID string) (*State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return state.clone(), nil
}

// RequireActive checks under the controller lock that the session exists
// and has not been finalized.
func (c *Controller) RequireActive(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if !state.Active {
		return fmt.Errorf("%w: %s", ErrNotActive, sessionID)
	}
	return nil
}

// Dispatch republishes the event if its session exists and is active.
func (c *Controller) Dispatch(ctx context.Context, event *bus.Event) error {
	if err := c.RequireActive(ctx, event.SessionID); err != nil {
		return err
	}
	c.logger.Info("session dispatch",
		"session_id", event.SessionID,
		"source", string(event.Source),
		"target", string(event.Target))
	return c.bus.Publish(ctx, event)
}

// Finalize closes a session. The session row survives; only Active flips.
// Closing an already closed session is idempotent.
func (c *Controller) Finalize(ctx context.Context, sessionID string) (*State, error) {
	c.mu.Lock()
	state, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	state.Active = false
	snap := state.clone()
	c.mu.Unlock()

	c.logger.Info("session finalized", "session_id", sessionID)
	if c.tel != nil {
		c.tel.Inc("sessions.closed", 1)
	}
	if err := c.bus.Publish(ctx, bus.NewEvent(sessionID, bus.TopicController, bus.TopicBroadcast, bus.Lifecycle{Event: "session_closed"})); err != nil {
		c.logger.Warn("session closed broadcast failed", "session_id", sessionID, "error", err)
	}
	return snap, nil
}
