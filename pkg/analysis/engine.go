// Package analysis runs the sound-understanding stage of the pipeline.
//
// The engine consumes audio frames from the bus, extracts pitch, rhythm,
// spectrum, timbre and emotion with [dsp], and retains results in a
// capacity-bounded LRU cache backed by a durable badger archive. Results
// are published downstream to the lyric stage after every pass.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/audio/dsp"
	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/telemetry"
)

// ErrNotFound is returned when no analysis exists for a frame.
var ErrNotFound = errors.New("analysis: not found")

// DefaultCacheCapacity bounds the in-memory result index when Options
// leaves it zero.
const DefaultCacheCapacity = 4096

// Options configures the engine.
type Options struct {
	Bus           *bus.Bus
	Telemetry     *telemetry.Registry
	Archive       *Archive
	Logger        *slog.Logger
	CacheCapacity int
}

// Engine is the sound-understanding stage.
type Engine struct {
	mu    sync.Mutex
	cache *lruCache

	bus     *bus.Bus
	tel     *telemetry.Registry
	archive *Archive
	logger  *slog.Logger
}

// NewEngine creates an engine. The archive is required; cache capacity
// defaults to DefaultCacheCapacity.
func NewEngine(opts Options) *Engine {
	cap := opts.CacheCapacity
	if cap <= 0 {
		cap = DefaultCacheCapacity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cache:   newLRUCache(cap),
		bus:     opts.Bus,
		tel:     opts.Telemetry,
		archive: opts.Archive,
		logger:  logger,
	}
}

// AnalyzeFrame runs the full DSP pass over one frame, retains the result
// and publishes it to the lyric stage.
func (e *Engine) AnalyzeFrame(ctx context.Context, frame *audio.Frame) (*dsp.Analysis, error) {
	start := time.Now()
	mono := frame.Mono()

	pitch := dsp.DetectPitch(mono, frame.SampleRate)
	rhythm := dsp.DetectRhythm(mono, frame.SampleRate)
	spectrum := dsp.SpectralEnergy(mono, frame.SampleRate)
	emotion := dsp.EstimateEmotion(pitch, rhythm)
	timbre := dsp.ComputeTimbre(spectrum)

	result := &dsp.Analysis{
		SessionID:     frame.SessionID,
		SourceFrameID: frame.FrameID,
		Pitch:         pitch,
		Rhythm:        rhythm,
		Spectrum:      spectrum,
		Emotion:       emotion,
		Timbre:        timbre,
	}

	e.mu.Lock()
	e.cache.put(result)
	e.mu.Unlock()
	if err := e.archive.Put(ctx, result); err != nil {
		return nil, err
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	e.logger.Info("analysis completed",
		"session_id", frame.SessionID,
		"frame_id", frame.FrameID,
		"pitch_hz", pitch.Hz,
		"bpm", rhythm.BPM,
		"emotion", emotion.Label,
		"duration_ms", elapsed)
	e.tel.Inc("analysis.frames", 1)
	e.tel.Observe("analysis.frame_duration", elapsed)

	event := bus.NewEvent(frame.SessionID, bus.TopicSoundUnderstanding, bus.TopicLanguageLyric, bus.Analysis{Analysis: result})
	if err := e.bus.Publish(ctx, event); err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves a prior result, consulting the cache first and falling back
// to the archive. Returns ErrNotFound when neither has it.
func (e *Engine) Get(ctx context.Context, sessionID, frameID string) (*dsp.Analysis, error) {
	e.mu.Lock()
	cached := e.cache.get(sessionID, frameID)
	e.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	result, err := e.archive.Get(ctx, sessionID, frameID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache.put(result)
	e.mu.Unlock()
	return result, nil
}

// OnEvent dispatches a bus event: a fresh frame is analyzed, a retrieval
// request is looked up, anything else yields (nil, nil).
func (e *Engine) OnEvent(ctx context.Context, event *bus.Event) (*dsp.Analysis, error) {
	switch p := event.Payload.(type) {
	case bus.Frame:
		return e.AnalyzeFrame(ctx, p.Frame)
	case bus.Retrieval:
		return e.Get(ctx, event.SessionID, p.FrameID)
	default:
		return nil, nil
	}
}

// HandleEvent adapts OnEvent to the bus.Handler signature.
func (e *Engine) HandleEvent(ctx context.Context, event *bus.Event) error {
	_, err := e.OnEvent(ctx, event)
	return err
}
