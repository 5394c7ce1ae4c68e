package hub

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/audio/dsp"
	"github.com/thenote/backend/pkg/config"
	"github.com/thenote/backend/pkg/creative"
	"github.com/thenote/backend/pkg/memory"
	"github.com/thenote/backend/pkg/session"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, *config.Config) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Storage.Dir = filepath.Join(cfg.DataDir, "blobs")
	cfg.CacheCapacity = 64

	h, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return h, srv, cfg
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func createSession(t *testing.T, srv *httptest.Server, sessionID string) {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{
		"session_id": sessionID,
		"user_id":    "user_1",
		"intent":     "creative_session",
	})
	if status != http.StatusCreated {
		t.Fatalf("create session: %d %s", status, body)
	}
}

func sineFrameBody(sessionID string, hz float64, seconds float64) *audio.Frame {
	const rate = 8000
	n := int(rate * seconds)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * hz * float64(i) / rate))
	}
	return &audio.Frame{
		SessionID:  sessionID,
		SampleRate: rate,
		Channels:   1,
		DurationMS: seconds * 1000,
		Waveform:   audio.EncodeSamples(samples),
	}
}

func TestSessionAudioAnalysisEndToEnd(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_e2e")

	// Duplicate creation conflicts.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{
		"session_id": "sess_e2e", "user_id": "user_1",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate create = %d, want 409", status)
	}

	// Ingest a steady 330 Hz tone.
	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_e2e/audio", sineFrameBody("sess_e2e", 330, 0.2))
	if status != http.StatusAccepted {
		t.Fatalf("audio = %d %s", status, body)
	}
	var frame audio.Frame
	if err := json.Unmarshal(body, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.RMS == nil || math.Abs(*frame.RMS-1/math.Sqrt2) > 0.02 {
		t.Errorf("frame RMS = %v, want ~0.707", frame.RMS)
	}
	if !audio.ValidFrameID(frame.FrameID) {
		t.Errorf("server did not assign a frame id: %q", frame.FrameID)
	}

	// The analysis is retrievable and matches the tone.
	status, body = doJSON(t, http.MethodGet, srv.URL+"/sessions/sess_e2e/analysis/"+frame.FrameID, nil)
	if status != http.StatusOK {
		t.Fatalf("analysis get = %d %s", status, body)
	}
	var result dsp.Analysis
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Pitch.Hz < 300 || result.Pitch.Hz > 360 {
		t.Errorf("pitch = %v, want ~330", result.Pitch.Hz)
	}
	if result.Rhythm.BPM != 100 {
		t.Errorf("steady tone bpm = %v, want the 100 fallback", result.Rhythm.BPM)
	}

	// Close the session; ingestion is now rejected.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_e2e/close", nil)
	if status != http.StatusOK {
		t.Fatalf("close = %d %s", status, body)
	}
	var closed session.State
	if err := json.Unmarshal(body, &closed); err != nil {
		t.Fatal(err)
	}
	if closed.Active {
		t.Error("session still active after close")
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_e2e/audio", sineFrameBody("sess_e2e", 330, 0.1))
	if status != http.StatusConflict {
		t.Fatalf("audio after close = %d, want 409", status)
	}

	// Closing again is idempotent.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_e2e/close", nil)
	if status != http.StatusOK {
		t.Fatalf("second close = %d, want 200", status)
	}
}

func TestAudioErrorTaxonomy(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_audio")

	// Unknown session.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_ghost/audio", sineFrameBody("sess_ghost", 440, 0.1))
	if status != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", status)
	}

	// Session mismatch between path and body.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_audio/audio", sineFrameBody("sess_other", 440, 0.1))
	if status != http.StatusBadRequest {
		t.Errorf("session mismatch = %d, want 400", status)
	}

	// Invalid sample rate.
	bad := sineFrameBody("sess_audio", 440, 0.1)
	bad.SampleRate = 0
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_audio/audio", bad)
	if status != http.StatusBadRequest {
		t.Errorf("invalid frame = %d, want 400", status)
	}

	// Empty waveform is well-formed but unprocessable.
	empty := sineFrameBody("sess_audio", 440, 0.1)
	empty.Waveform = nil
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_audio/audio", empty)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("empty frame = %d, want 422", status)
	}
}

func TestTranscriptGatedBySessionState(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_tx")

	chunk := map[string]any{
		"start_ms":   0.0,
		"end_ms":     1200.0,
		"text":       "city lights after rain",
		"confidence": 0.92,
		"language":   "en",
	}
	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_tx/transcript", chunk)
	if status != http.StatusAccepted {
		t.Fatalf("transcript = %d %s", status, body)
	}
	var got audio.TranscriptChunk
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if !audio.ValidChunkID(got.ChunkID) {
		t.Errorf("chunk id not assigned: %q", got.ChunkID)
	}

	doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_tx/close", nil)
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_tx/transcript", chunk)
	if status != http.StatusConflict {
		t.Fatalf("transcript after close = %d, want 409", status)
	}
}

func TestGenerateAndRender(t *testing.T) {
	_, srv, cfg := newTestHub(t)
	createSession(t, srv, "sess_gen")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_gen/generate", map[string]any{
		"prompt":         "neon rivers under glass",
		"modes":          []string{"lyric", "melody"},
		"emotional_goal": "somber",
	})
	if status != http.StatusOK {
		t.Fatalf("generate = %d %s", status, body)
	}
	var bundle creative.GenerationBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		t.Fatal(err)
	}
	if len(bundle.Outputs) != 2 || bundle.Outputs[0].Type != creative.ModeLyric {
		t.Fatalf("bundle outputs = %+v", bundle.Outputs)
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_gen/render", map[string]any{
		"text": "neon rivers under glass",
	})
	if status != http.StatusOK {
		t.Fatalf("render = %d %s", status, body)
	}
	var rendered creative.RenderedAudio
	if err := json.Unmarshal(body, &rendered); err != nil {
		t.Fatal(err)
	}
	if len(rendered.Checksum) != 64 || rendered.DurationMS <= 0 {
		t.Errorf("rendered = %+v", rendered)
	}

	// The take is persisted in the local blob store.
	take := filepath.Join(cfg.Storage.Dir, "renders", "sess_gen", rendered.RenderID+".wav")
	if _, err := os.Stat(take); err != nil {
		t.Errorf("persisted take: %v", err)
	}

	// Bad generation mode maps to 400.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_gen/generate", map[string]any{
		"prompt": "x", "modes": []string{"haiku"},
	})
	if status != http.StatusBadRequest {
		t.Errorf("bad mode = %d, want 400", status)
	}
}

func TestMemoryRoutes(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_mem")

	// Missing consent token is invalid.
	status, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_mem/memory", map[string]any{
		"user_id": "user_1",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("no consent = %d, want 400", status)
	}

	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_mem/memory", map[string]any{
		"user_id":           "user_1",
		"consent_token":     "tok",
		"profile_embedding": []float64{0.25, 0.75},
		"context_summary":   "likes rainy textures",
	})
	if status != http.StatusCreated {
		t.Fatalf("memory upsert = %d %s", status, body)
	}
	var rec memory.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.RetentionPolicy != memory.Retention90Days {
		t.Errorf("default retention = %q", rec.RetentionPolicy)
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/memory/user_1", nil)
	if status != http.StatusOK {
		t.Fatalf("profile = %d %s", status, body)
	}
	var profile memory.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		t.Fatal(err)
	}
	if len(profile.Embeddings) != 2 || profile.Embeddings[1] != 0.75 {
		t.Errorf("profile embeddings = %v", profile.Embeddings)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/memory/nobody", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown user = %d, want 404", status)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/memory/user_1?limit=bogus", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", status)
	}
}

func TestWebSocketStreamsPipelineEvents(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_ws")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/sess_ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	status, body := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_ws/audio", sineFrameBody("sess_ws", 440, 0.1))
	if status != http.StatusAccepted {
		t.Fatalf("audio = %d %s", status, body)
	}

	// The frame and its analysis both reach the stream.
	type envelope struct {
		SessionID string          `json:"session_id"`
		Kind      string          `json:"kind"`
		Payload   json.RawMessage `json:"payload"`
	}
	kinds := make(map[string]bool)
	for i := 0; i < 2; i++ {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope %d: %v", i, err)
		}
		if env.SessionID != "sess_ws" {
			t.Errorf("envelope session = %q", env.SessionID)
		}
		kinds[env.Kind] = true
	}
	if !kinds["audio_frame"] || !kinds["analysis"] {
		t.Fatalf("streamed kinds = %v, want audio_frame and analysis", kinds)
	}

	// Unknown sessions cannot attach.
	badURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/sess_ghost"
	if _, resp, err := websocket.DefaultDialer.Dial(badURL, nil); err == nil {
		t.Fatal("dial to unknown session succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusNotFound {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("unknown session ws status = %d, want 404", code)
	}

	// Neither can closed ones.
	if status, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions/sess_ws/close", nil); status != http.StatusOK {
		t.Fatalf("close = %d", status)
	}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial to closed session succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusConflict {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("closed session ws status = %d, want 409", code)
	}
}

func TestTelemetryEndpoint(t *testing.T) {
	_, srv, _ := newTestHub(t)
	createSession(t, srv, "sess_tel")

	status, body := doJSON(t, http.MethodGet, srv.URL+"/telemetry", nil)
	if status != http.StatusOK {
		t.Fatalf("telemetry = %d", status)
	}
	var snap map[string]float64
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap["counter.sessions.created"] != 1 {
		t.Errorf("sessions.created = %v, snapshot %v", snap["counter.sessions.created"], snap)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	_, srv, _ := newTestHub(t)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]any{"user_id": "u"})
	if status != http.StatusBadRequest {
		t.Errorf("missing session_id = %d, want 400", status)
	}
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/sessions", "not an object")
	if status != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", status)
	}
}
