// Package creative holds the generative collaborator contracts: content
// generation (lyric, melody, metaphor, structure) and voice rendering.
//
// The engines themselves are pluggable. The package ships a deterministic
// stub generator, an OpenAI-backed generator for lyric work, and a
// synthesis renderer, all behind the Generator and Renderer interfaces so
// the rest of the pipeline never depends on a concrete engine.
package creative

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/thenote/backend/pkg/audio"
)

// Sentinel errors.
var (
	ErrInvalidRequest     = errors.New("creative: invalid generation request")
	ErrInvalidInstruction = errors.New("creative: invalid render instruction")
)

// Mode selects one kind of generated output.
type Mode string

// Generation modes.
const (
	ModeLyric     Mode = "lyric"
	ModeMelody    Mode = "melody"
	ModeMetaphor  Mode = "metaphor"
	ModeStructure Mode = "structure"
)

var validModes = map[Mode]bool{
	ModeLyric:     true,
	ModeMelody:    true,
	ModeMetaphor:  true,
	ModeStructure: true,
}

var keyPattern = regexp.MustCompile(`^[A-G](#|b)?m?$`)

// GenerationRequest asks a generator for one or more creative outputs.
type GenerationRequest struct {
	SessionID     string   `json:"session_id"`
	RequestID     string   `json:"request_id"`
	Prompt        string   `json:"prompt"`
	Modes         []Mode   `json:"modes"`
	EmotionalGoal string   `json:"emotional_goal,omitempty"`
	Tempo         *float64 `json:"tempo,omitempty"`
	Key           string   `json:"key,omitempty"`
}

// Validate checks the request's identifiers, prompt, modes and music
// parameters.
func (r *GenerationRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidRequest)
	}
	if !audio.ValidGenerationID(r.RequestID) {
		return fmt.Errorf("%w: malformed request_id %q", ErrInvalidRequest, r.RequestID)
	}
	if r.Prompt == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if len(r.Modes) == 0 {
		return fmt.Errorf("%w: no modes requested", ErrInvalidRequest)
	}
	for _, m := range r.Modes {
		if !validModes[m] {
			return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, m)
		}
	}
	if r.Tempo != nil && *r.Tempo <= 0 {
		return fmt.Errorf("%w: non-positive tempo", ErrInvalidRequest)
	}
	if r.Key != "" && !keyPattern.MatchString(r.Key) {
		return fmt.Errorf("%w: malformed key %q", ErrInvalidRequest, r.Key)
	}
	return nil
}

// GeneratedItem is one output of a generation pass.
type GeneratedItem struct {
	Type       Mode           `json:"type"`
	Payload    map[string]any `json:"payload"`
	Confidence float64        `json:"confidence"`
}

// GenerationBundle groups the outputs of one request.
type GenerationBundle struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	Outputs   []GeneratedItem `json:"outputs"`
}

// RenderInstruction asks a renderer to synthesize a vocal take.
// Melody, when present, is a MIDI note contour; otherwise the pitch
// contour is derived from the text.
type RenderInstruction struct {
	SessionID    string    `json:"session_id"`
	RenderID     string    `json:"render_id"`
	Text         string    `json:"text"`
	Melody       []float64 `json:"melody,omitempty"`
	VoiceProfile string    `json:"voice_profile,omitempty"`
	Dynamics     string    `json:"dynamics,omitempty"`
	Format       string    `json:"format,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

// Default render parameters.
const (
	DefaultVoiceProfile = "luminous_alto"
	DefaultDynamics     = "mezzo-forte"
	DefaultFormat       = "wav"
)

// Validate checks identifiers and text, then fills defaulted fields.
func (in *RenderInstruction) Validate() error {
	if in.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidInstruction)
	}
	if !audio.ValidRenderID(in.RenderID) {
		return fmt.Errorf("%w: malformed render_id %q", ErrInvalidInstruction, in.RenderID)
	}
	if in.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidInstruction)
	}
	if in.VoiceProfile == "" {
		in.VoiceProfile = DefaultVoiceProfile
	}
	if in.Dynamics == "" {
		in.Dynamics = DefaultDynamics
	}
	if in.Format == "" {
		in.Format = DefaultFormat
	}
	if in.Format != "wav" {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInstruction, in.Format)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	return nil
}

// RenderedAudio is the result of a voice render: the encoded take plus its
// measured properties.
type RenderedAudio struct {
	SessionID  string  `json:"session_id"`
	RenderID   string  `json:"render_id"`
	URLOrBlob  string  `json:"url_or_blob"`
	DurationMS float64 `json:"duration_ms"`
	Loudness   float64 `json:"loudness"`
	Checksum   string  `json:"checksum"`
}

// Generator produces creative content for a session.
type Generator interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationBundle, error)
}

// Renderer synthesizes a vocal performance.
type Renderer interface {
	Render(ctx context.Context, in *RenderInstruction) (*RenderedAudio, error)
}
