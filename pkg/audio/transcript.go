package audio

import (
	"errors"
	"fmt"
)

// ErrInvalidChunk is returned when a transcript chunk fails wire validation.
var ErrInvalidChunk = errors.New("audio: invalid transcript chunk")

// TranscriptChunk is one recognized span of speech within a session.
type TranscriptChunk struct {
	SessionID  string  `json:"session_id"`
	ChunkID    string  `json:"chunk_id"`
	StartMS    float64 `json:"start_ms"`
	EndMS      float64 `json:"end_ms"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Validate checks the chunk's wire constraints.
func (c *TranscriptChunk) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidChunk)
	}
	if !ValidChunkID(c.ChunkID) {
		return fmt.Errorf("%w: malformed chunk_id %q", ErrInvalidChunk, c.ChunkID)
	}
	if c.StartMS < 0 {
		return fmt.Errorf("%w: start_ms must be non-negative", ErrInvalidChunk)
	}
	if c.EndMS <= c.StartMS {
		return fmt.Errorf("%w: end_ms must be strictly greater than start_ms", ErrInvalidChunk)
	}
	if c.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidChunk)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidChunk, c.Confidence)
	}
	return nil
}
