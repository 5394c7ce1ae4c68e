package bus

import (
	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/audio/dsp"
	"github.com/thenote/backend/pkg/creative"
)

// Kind discriminates the closed set of event payloads.
type Kind string

// Payload kinds.
const (
	KindLifecycle  Kind = "lifecycle"
	KindFrame      Kind = "audio_frame"
	KindAnalysis   Kind = "analysis"
	KindChunk      Kind = "transcript_chunk"
	KindRetrieval  Kind = "retrieval"
	KindGeneration Kind = "generation"
	KindRender     Kind = "render"
)

// Payload is the closed union of event payloads. Consumers type-switch on
// the concrete variants instead of key-probing a generic map.
type Payload interface {
	Kind() Kind
}

// Lifecycle announces a session state change on the broadcast topic.
type Lifecycle struct {
	Event string `json:"event"`
}

func (Lifecycle) Kind() Kind { return KindLifecycle }

// Frame carries a raw audio frame to the analysis stage.
type Frame struct {
	Frame *audio.Frame `json:"frame"`
}

func (Frame) Kind() Kind { return KindFrame }

// Analysis carries one DSP result downstream.
type Analysis struct {
	Analysis *dsp.Analysis `json:"analysis"`
}

func (Analysis) Kind() Kind { return KindAnalysis }

// Chunk carries a transcript span to the lyric stage.
type Chunk struct {
	Chunk *audio.TranscriptChunk `json:"chunk"`
}

func (Chunk) Kind() Kind { return KindChunk }

// Retrieval asks the analysis stage for a previously computed result.
type Retrieval struct {
	FrameID string `json:"frame_id"`
}

func (Retrieval) Kind() Kind { return KindRetrieval }

// Generation carries a finished creative bundle to the performance stage.
type Generation struct {
	Bundle *creative.GenerationBundle `json:"bundle"`
}

func (Generation) Kind() Kind { return KindGeneration }

// Rendered carries a synthesized vocal take toward the memory stage.
type Rendered struct {
	Audio *creative.RenderedAudio `json:"audio"`
}

func (Rendered) Kind() Kind { return KindRender }
