package liveaudio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/telemetry"
)

func testFrame(t *testing.T) *audio.Frame {
	t.Helper()
	n := 800
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 8000))
	}
	return &audio.Frame{
		SessionID:  "sess_1",
		FrameID:    audio.NewFrameID(),
		SampleRate: 8000,
		Channels:   1,
		DurationMS: 100,
		Waveform:   audio.EncodeSamples(samples),
	}
}

func TestIngestComputesLevelsAndPublishes(t *testing.T) {
	tel := telemetry.NewRegistry()
	b := bus.New(tel, nil)
	in := NewInput(b, tel, nil)

	var published *audio.Frame
	b.Subscribe(bus.TopicSoundUnderstanding, func(_ context.Context, e *bus.Event) error {
		if p, ok := e.Payload.(bus.Frame); ok {
			published = p.Frame
		}
		return nil
	})

	frame := testFrame(t)
	got, err := in.Ingest(context.Background(), frame)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got.RMS == nil || got.Peak == nil {
		t.Fatal("levels not computed")
	}
	if published == nil {
		t.Fatal("frame not published to the analysis topic")
	}
	if published.FrameID != frame.FrameID {
		t.Errorf("published frame %q, want %q", published.FrameID, frame.FrameID)
	}
	if tel.Snapshot()["counter.audio.frames"] != 1 {
		t.Error("audio.frames counter not incremented")
	}
}

func TestIngestEmptyFrame(t *testing.T) {
	b := bus.New(nil, nil)
	in := NewInput(b, telemetry.NewRegistry(), nil)
	frame := &audio.Frame{SessionID: "sess_1", FrameID: audio.NewFrameID(), SampleRate: 8000, Channels: 1, DurationMS: 10}
	if _, err := in.Ingest(context.Background(), frame); !errors.Is(err, audio.ErrEmptyFrame) {
		t.Fatalf("Ingest = %v, want ErrEmptyFrame", err)
	}
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	b := bus.New(nil, nil)
	in := NewInput(b, telemetry.NewRegistry(), nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		in.RegisterListener(func(f *audio.Frame) {
			if f.RMS == nil {
				t.Error("listener saw frame before level computation")
			}
			order = append(order, i)
		})
	}

	if _, err := in.Ingest(context.Background(), testFrame(t)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("listener order = %v, want [0 1 2]", order)
	}
}
