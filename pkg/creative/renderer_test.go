package creative

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/storage"
	"github.com/thenote/backend/pkg/telemetry"
)

func newTestRenderer(t *testing.T) (*VoiceRenderer, *storage.Local) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewVoiceRenderer(store, telemetry.NewRegistry(), nil), store
}

func TestRenderProducesWAVTake(t *testing.T) {
	ctx := context.Background()
	r, store := newTestRenderer(t)

	in := &RenderInstruction{
		SessionID: "sess_1",
		RenderID:  audio.NewRenderID(),
		Text:      "neon rivers under glass",
	}
	out, err := r.Render(ctx, in)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if out.SessionID != in.SessionID || out.RenderID != in.RenderID {
		t.Errorf("rendered ids = %q/%q", out.SessionID, out.RenderID)
	}
	if out.DurationMS < 1200 {
		t.Errorf("duration = %v ms, want at least the 1.2 s floor", out.DurationMS)
	}
	if out.Loudness <= -96 || out.Loudness >= 0 {
		t.Errorf("loudness = %v dBFS, want audible and below full scale", out.Loudness)
	}
	if len(out.Checksum) != 64 {
		t.Errorf("checksum = %q, want 64 hex chars", out.Checksum)
	}

	wav, err := base64.StdEncoding.DecodeString(out.URLOrBlob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("blob is not a RIFF/WAVE container")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != RenderSampleRate {
		t.Errorf("sample rate = %d, want %d", rate, RenderSampleRate)
	}

	// The take is also persisted through the blob store.
	stored, err := store.Get(ctx, "renders/sess_1/"+in.RenderID+".wav")
	if err != nil {
		t.Fatalf("stored take: %v", err)
	}
	if len(stored) != len(wav) {
		t.Errorf("stored %d bytes, inline %d", len(stored), len(wav))
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	ctx := context.Background()
	r := NewVoiceRenderer(nil, nil, nil)

	id := audio.NewRenderID()
	first, err := r.Render(ctx, &RenderInstruction{SessionID: "s", RenderID: id, Text: "same words"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Render(ctx, &RenderInstruction{SessionID: "s", RenderID: id, Text: "same words"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Checksum != second.Checksum {
		t.Fatal("same text rendered to different checksums")
	}

	other, err := r.Render(ctx, &RenderInstruction{SessionID: "s", RenderID: id, Text: "different words"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Checksum == first.Checksum {
		t.Fatal("different text rendered to the same checksum")
	}
}

func TestRenderMelodyContour(t *testing.T) {
	ctx := context.Background()
	r := NewVoiceRenderer(nil, nil, nil)

	out, err := r.Render(ctx, &RenderInstruction{
		SessionID: "s",
		RenderID:  audio.NewRenderID(),
		Text:      "ah",
		Melody:    []float64{60, 64, 67, 64, 60, 62, 64, 65, 67, 69, 71, 72, 71, 69, 67},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 15 contour steps at 80 ms each.
	want := 15 * noteSeconds * 1000
	if math.Abs(out.DurationMS-want) > 50 {
		t.Errorf("duration = %v ms, want ~%v", out.DurationMS, want)
	}
}

func TestRenderRejectsInvalidInstruction(t *testing.T) {
	r := NewVoiceRenderer(nil, nil, nil)
	_, err := r.Render(context.Background(), &RenderInstruction{SessionID: "s", RenderID: "bogus", Text: "x"})
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("Render = %v, want ErrInvalidInstruction", err)
	}
}

func TestSynthesizeEmptyContourYieldsSilence(t *testing.T) {
	samples := synthesize(nil, nil)
	if len(samples) != RenderSampleRate {
		t.Fatalf("got %d samples, want one second", len(samples))
	}
	for _, s := range samples {
		if s != 0 {
			t.Fatal("expected silence")
		}
	}
}
