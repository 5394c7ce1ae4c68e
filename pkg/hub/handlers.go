package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/thenote/backend/pkg/analysis"
	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/bus"
	"github.com/thenote/backend/pkg/creative"
	"github.com/thenote/backend/pkg/memory"
	"github.com/thenote/backend/pkg/session"
)

// Sentinel errors for the HTTP boundary.
var (
	// ErrBadRequest covers malformed bodies and parameters.
	ErrBadRequest = errors.New("hub: bad request")

	// ErrSessionMismatch is returned when a body names a different
	// session than the request path.
	ErrSessionMismatch = errors.New("hub: session mismatch")
)

// Handler returns the hub's HTTP surface.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/close", h.handleCloseSession)
	mux.HandleFunc("POST /sessions/{id}/audio", h.handleAudio)
	mux.HandleFunc("POST /sessions/{id}/transcript", h.handleTranscript)
	mux.HandleFunc("POST /sessions/{id}/generate", h.handleGenerate)
	mux.HandleFunc("POST /sessions/{id}/render", h.handleRender)
	mux.HandleFunc("POST /sessions/{id}/memory", h.handleMemoryUpsert)
	mux.HandleFunc("GET /sessions/{id}/analysis/{frame}", h.handleAnalysisGet)
	mux.HandleFunc("GET /memory/{user}", h.handleMemoryProfile)
	mux.HandleFunc("GET /telemetry", h.handleTelemetry)
	mux.HandleFunc("GET /ws/sessions/{id}", h.handleWebSocket)
	return mux
}

// writeError maps pipeline errors onto the HTTP taxonomy and emits a JSON
// error body.
func (h *Hub) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrDuplicate), errors.Is(err, session.ErrNotActive):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotFound), errors.Is(err, analysis.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, audio.ErrEmptyFrame):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, audio.ErrInvalidFrame),
		errors.Is(err, audio.ErrInvalidChunk),
		errors.Is(err, creative.ErrInvalidRequest),
		errors.Is(err, creative.ErrInvalidInstruction),
		errors.Is(err, memory.ErrInvalidRecord),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrSessionMismatch):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", ErrBadRequest, err)
	}
	return nil
}

func (h *Hub) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var meta session.Metadata
	if err := decodeJSON(r, &meta); err != nil {
		h.writeError(w, err)
		return
	}
	if meta.SessionID == "" || meta.UserID == "" {
		h.writeError(w, fmt.Errorf("%w: session_id and user_id are required", ErrBadRequest))
		return
	}
	state, err := h.Sessions.Create(r.Context(), meta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h *Hub) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.Sessions.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Hub) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var frame audio.Frame
	if err := decodeJSON(r, &frame); err != nil {
		h.writeError(w, err)
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = sessionID
	} else if frame.SessionID != sessionID {
		h.writeError(w, fmt.Errorf("%w: frame names %s", ErrSessionMismatch, frame.SessionID))
		return
	}
	if frame.FrameID == "" {
		frame.FrameID = audio.NewFrameID()
	}
	if err := frame.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Sessions.RequireActive(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	ingested, err := h.Input.Ingest(r.Context(), &frame)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ingested)
}

func (h *Hub) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var chunk audio.TranscriptChunk
	if err := decodeJSON(r, &chunk); err != nil {
		h.writeError(w, err)
		return
	}
	if chunk.SessionID == "" {
		chunk.SessionID = sessionID
	} else if chunk.SessionID != sessionID {
		h.writeError(w, fmt.Errorf("%w: chunk names %s", ErrSessionMismatch, chunk.SessionID))
		return
	}
	if chunk.ChunkID == "" {
		chunk.ChunkID = audio.NewChunkID()
	}
	if err := chunk.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	event := bus.NewEvent(sessionID, bus.TopicLiveAudio, bus.TopicLanguageLyric, bus.Chunk{Chunk: &chunk})
	if err := h.Sessions.Dispatch(r.Context(), event); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, &chunk)
}

func (h *Hub) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var req creative.GenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	} else if req.SessionID != sessionID {
		h.writeError(w, fmt.Errorf("%w: request names %s", ErrSessionMismatch, req.SessionID))
		return
	}
	if req.RequestID == "" {
		req.RequestID = audio.NewGenerationID()
	}
	if err := h.Sessions.RequireActive(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	bundle, err := h.Generator.Generate(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	event := bus.NewEvent(sessionID, bus.TopicImagination, bus.TopicVoiceSynth, bus.Generation{Bundle: bundle})
	if err := h.Bus.Publish(r.Context(), event); err != nil {
		h.logger.Warn("generation publish failed", "session_id", sessionID, "error", err)
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (h *Hub) handleRender(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var in creative.RenderInstruction
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, err)
		return
	}
	if in.SessionID == "" {
		in.SessionID = sessionID
	} else if in.SessionID != sessionID {
		h.writeError(w, fmt.Errorf("%w: instruction names %s", ErrSessionMismatch, in.SessionID))
		return
	}
	if in.RenderID == "" {
		in.RenderID = audio.NewRenderID()
	}
	if err := h.Sessions.RequireActive(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	rendered, err := h.Renderer.Render(r.Context(), &in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	event := bus.NewEvent(sessionID, bus.TopicVoiceSynth, bus.TopicMemory, bus.Rendered{Audio: rendered})
	if err := h.Bus.Publish(r.Context(), event); err != nil {
		h.logger.Warn("render publish failed", "session_id", sessionID, "error", err)
	}
	writeJSON(w, http.StatusOK, rendered)
}

func (h *Hub) handleMemoryUpsert(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	var rec memory.Record
	if err := decodeJSON(r, &rec); err != nil {
		h.writeError(w, err)
		return
	}
	if rec.SessionID == "" {
		rec.SessionID = sessionID
	} else if rec.SessionID != sessionID {
		h.writeError(w, fmt.Errorf("%w: record names %s", ErrSessionMismatch, rec.SessionID))
		return
	}
	if rec.RetentionPolicy == "" {
		rec.RetentionPolicy = h.cfg.DefaultRetention
	}
	if _, err := h.Sessions.Get(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Memory.Upsert(r.Context(), &rec); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &rec)
}

func (h *Hub) handleMemoryProfile(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, fmt.Errorf("%w: bad limit %q", ErrBadRequest, raw))
			return
		}
		limit = n
	}
	profile, err := h.Memory.FetchProfile(r.Context(), memory.Query{
		UserID: r.PathValue("user"),
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if profile == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile"})
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Hub) handleAnalysisGet(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Get(r.Context(), r.PathValue("id"), r.PathValue("frame"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Hub) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Telemetry.Snapshot())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket attaches a client to its session's event stream. Only
// active sessions accept subscribers; the connection stays registered
// until the client goes away, and incoming messages are drained and
// discarded.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := h.Sessions.RequireActive(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	h.Streamer.Register(sessionID, conn)
	defer func() {
		h.Streamer.Unregister(sessionID, conn)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
