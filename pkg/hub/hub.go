// Package hub composes the pipeline and exposes it over HTTP and
// WebSocket.
//
// The hub owns every component: bus, session controller, audio input,
// analysis engine, memory store, streamer and creative collaborators. Bus
// wiring happens here — the analysis engine subscribes to the
// sound-understanding topic and the streamer to broadcast — so the
// components themselves stay unaware of each other.
package hub

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thenote/backend/pkg/analysis"
	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/config"
	"github.com/thenote/backend/pkg/creative"
	"github.com/thenote/backend/pkg/liveaudio"
	"github.com/thenote/backend/pkg/memory"
	"github.com/thenote/backend/pkg/session"
	"github.com/thenote/backend/pkg/storage"
	"github.com/thenote/backend/pkg/stream"
	"github.com/thenote/backend/pkg/telemetry"
)

// Hub is the composition root.
type Hub struct {
	cfg    *config.Config
	logger *slog.Logger

	Telemetry *telemetry.Registry
	Bus       *bus.Bus
	Sessions  *session.Controller
	Input     *liveaudio.Input
	Engine    *analysis.Engine
	Memory    *memory.Store
	Streamer  *stream.Streamer
	Generator creative.Generator
	Renderer  creative.Renderer

	archive *analysis.Archive
	blobs   storage.BlobStore
}

// New builds a hub from configuration. Call Close when done.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tel := telemetry.NewRegistry()
	b := bus.New(tel, logger)

	archive, err := analysis.OpenArchive(analysis.ArchiveOptions{Dir: cfg.ArchiveDir()})
	if err != nil {
		return nil, fmt.Errorf("hub: open archive: %w", err)
	}
	engine := analysis.NewEngine(analysis.Options{
		Bus:           b,
		Telemetry:     tel,
		Archive:       archive,
		Logger:        logger,
		CacheCapacity: cfg.CacheCapacity,
	})

	mem, err := memory.Open(cfg.MemoryPath(), tel, logger)
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("hub: open memory store: %w", err)
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		archive.Close()
		mem.Close()
		return nil, err
	}

	h := &Hub{
		cfg:       cfg,
		logger:    logger,
		Telemetry: tel,
		Bus:       b,
		Sessions:  session.NewController(b, tel, logger),
		Input:     liveaudio.NewInput(b, tel, logger),
		Engine:    engine,
		Memory:    mem,
		Streamer:  stream.NewStreamer(logger),
		Generator: newGenerator(cfg, tel, logger),
		Renderer:  creative.NewVoiceRenderer(blobs, tel, logger),
		archive:   archive,
		blobs:     blobs,
	}

	b.Subscribe(bus.TopicSoundUnderstanding, engine.HandleEvent)
	b.Subscribe(bus.TopicBroadcast, h.Streamer.HandleEvent)
	return h, nil
}

func newBlobStore(cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "s3":
		client := s3.New(s3.Options{Region: cfg.Storage.Region})
		return storage.NewS3(client, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	default:
		store, err := storage.NewLocal(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("hub: open blob store: %w", err)
		}
		return store, nil
	}
}

func newGenerator(cfg *config.Config, tel *telemetry.Registry, logger *slog.Logger) creative.Generator {
	if cfg.Generator.Kind == "openai" {
		return creative.NewOpenAIGenerator(
			cfg.Generator.APIKey,
			cfg.Generator.BaseURL,
			cfg.Generator.Model,
			tel, logger)
	}
	return creative.NewStubGenerator(tel, logger)
}

// Close releases the archive and memory store.
func (h *Hub) Close() error {
	memErr := h.Memory.Close()
	if err := h.archive.Close(); err != nil {
		return err
	}
	return memErr
}
