// Package bus is the in-process publish/subscribe spine of the session
// pipeline.
//
// Events carry a closed set of typed payloads ([Payload]) and are addressed
// to a [Topic]. Dispatch is serialized per topic: handlers for one topic
// never run concurrently with each other and always run in subscription
// order, while unrelated topics dispatch in parallel. Subscribers of
// [TopicBroadcast] receive every event regardless of its declared target.
//
// Handler failures are isolated: a handler that returns an error or panics
// is logged and counted, and delivery continues to the remaining handlers.
// The publisher receives the joined errors but dispatch is never aborted
// mid-fan-out.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thenote/backend/pkg/telemetry"
)

// Topic is a logical pipeline stage addressed by event routing.
type Topic string

// Pipeline topics.
const (
	TopicLiveAudio          Topic = "live_audio_input"
	TopicSoundUnderstanding Topic = "sound_understanding"
	TopicLanguageLyric      Topic = "language_lyric"
	TopicImagination        Topic = "imagination"
	TopicVoiceSynth         Topic = "voice_performance"
	TopicMemory             Topic = "adaptive_memory"
	TopicController         Topic = "controller"

	// TopicBroadcast is the pseudo-target whose subscribers receive every
	// published event.
	TopicBroadcast Topic = "broadcast"
)

// Event is one immutable pipeline message.
type Event struct {
	SessionID string    `json:"session_id"`
	Source    Topic     `json:"source"`
	Target    Topic     `json:"target"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(sessionID string, source, target Topic, payload Payload) *Event {
	return &Event{
		SessionID: sessionID,
		Source:    source,
		Target:    target,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Handler consumes one event. Returning an error marks the delivery failed
// for this subscriber only.
type Handler func(ctx context.Context, event *Event) error

// Bus routes events to subscribed handlers.
type Bus struct {
	mu     sync.Mutex // guards the topic table
	topics map[Topic]*topicState

	tel    *telemetry.Registry
	logger *slog.Logger
}

type topicState struct {
	dispatch sync.Mutex // serializes handler execution for this topic
	mu       sync.Mutex // guards handlers
	handlers []Handler
}

// New creates a bus. tel and logger may be nil.
func New(tel *telemetry.Registry, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[Topic]*topicState),
		tel:    tel,
		logger: logger,
	}
}

func (b *Bus) topic(t Topic) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.topics[t]
	if ts == nil {
		ts = &topicState{}
		b.topics[t] = ts
	}
	return ts
}

// Subscribe registers a handler for a topic. Safe under concurrent calls;
// handlers run in subscription order.
func (b *Bus) Subscribe(t Topic, h Handler) {
	ts := b.topic(t)
	ts.mu.Lock()
	ts.handlers = append(ts.handlers, h)
	ts.mu.Unlock()
	b.logger.Debug("bus: handler subscribed", "topic", string(t))
}

// Publish delivers the event to every handler of its target topic, then to
// every broadcast handler, in subscription order. Handler errors and panics
// are isolated per handler; the joined errors are returned after the full
// fan-out completes.
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	if event.Target == "" {
		return errors.New("bus: event has no target")
	}

	target := b.topic(event.Target)
	target.dispatch.Lock()
	err := b.deliver(ctx, target, event)
	target.dispatch.Unlock()

	if event.Target != TopicBroadcast {
		bc := b.topic(TopicBroadcast)
		bc.dispatch.Lock()
		err = errors.Join(err, b.deliver(ctx, bc, event))
		bc.dispatch.Unlock()
	}

	if b.tel != nil {
		b.tel.Inc(fmt.Sprintf("events.%s.%s", event.Source, event.Target), 1)
	}
	return err
}

// deliver runs all handlers of ts against the event. The caller holds the
// topic's dispatch lock.
func (b *Bus) deliver(ctx context.Context, ts *topicState, event *Event) error {
	ts.mu.Lock()
	handlers := make([]Handler, len(ts.handlers))
	copy(handlers, ts.handlers)
	ts.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := b.invoke(ctx, h, event); err != nil {
			errs = append(errs, err)
			if b.tel != nil {
				b.tel.Inc("bus.handler_failures", 1)
			}
			b.logger.Error("bus: handler failed",
				"session_id", event.SessionID,
				"source", string(event.Source),
				"target", string(event.Target),
				"error", err)
		}
	}
	return errors.Join(errs...)
}

// invoke runs one handler, converting a panic into an error so a broken
// subscriber cannot take down the publisher.
func (b *Bus) invoke(ctx context.Context, h Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panicked: %v", r)
		}
	}()
	return h(ctx, event)
}
