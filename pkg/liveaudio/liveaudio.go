// Package liveaudio ingests client audio frames into the pipeline.
//
// Ingest computes signal levels, fans the frame out to registered listeners
// synchronously, then publishes it toward the analysis stage. Listeners run
// in registration order under the listener lock; they are intended for
// cheap taps (meters, recorders), not heavy work.
package liveaudio

import (
	"context"
	"log/slog"
	"sync"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/telemetry"
)

// Listener observes every ingested frame after level computation.
type Listener func(*audio.Frame)

// Input is the frame ingestion front end.
type Input struct {
	mu        sync.Mutex
	listeners []Listener

	bus    *bus.Bus
	tel    *telemetry.Registry
	logger *slog.Logger
}

// NewInput creates an input publishing frames on b.
func NewInput(b *bus.Bus, tel *telemetry.Registry, logger *slog.Logger) *Input {
	if logger == nil {
		logger = slog.Default()
	}
	return &Input{bus: b, tel: tel, logger: logger}
}

// RegisterListener appends a listener. Listeners are never removed; they
// live as long as the input.
func (in *Input) RegisterListener(l Listener) {
	in.mu.Lock()
	in.listeners = append(in.listeners, l)
	in.mu.Unlock()
}

// Ingest computes RMS/peak on the frame, notifies listeners, publishes the
// frame to the sound-understanding topic and returns the mutated frame.
// Fails with audio.ErrEmptyFrame when the frame has no samples.
func (in *Input) Ingest(ctx context.Context, frame *audio.Frame) (*audio.Frame, error) {
	if err := frame.ComputeLevels(); err != nil {
		return nil, err
	}

	in.mu.Lock()
	for _, l := range in.listeners {
		l(frame)
	}
	in.mu.Unlock()

	in.logger.Info("audio frame ingested",
		"session_id", frame.SessionID,
		"frame_id", frame.FrameID,
		"rms", *frame.RMS,
		"peak", *frame.Peak,
		"duration_ms", frame.DurationMS)
	in.tel.Inc("audio.frames", 1)

	event := bus.NewEvent(frame.SessionID, bus.TopicLiveAudio, bus.TopicSoundUnderstanding, bus.Frame{Frame: frame})
	if err := in.bus.Publish(ctx, event); err != nil {
		return nil, err
	}
	return frame, nil
}
