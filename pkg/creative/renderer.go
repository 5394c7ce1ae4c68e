package creative

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/thenote/backend/pkg/audio"
	"github.com/thenote/backend/pkg/storage"
	"github.com/thenote/backend/pkg/telemetry"
)

// RenderSampleRate is the output rate of synthesized takes, in Hz.
const RenderSampleRate = 22050

// Synthesis parameters.
const (
	noteSeconds     = 0.08 // per contour step
	minTakeSeconds  = 1.2
	vibratoRateHz   = 5.0
	vibratoSemis    = 0.5
	basePitchHz     = 220.0
	attackFraction  = 0.05
	releaseFraction = 0.10
)

// VoiceRenderer synthesizes vocal takes as vibrato sine contours and
// persists the encoded WAV through a blob store.
type VoiceRenderer struct {
	store  storage.BlobStore
	tel    *telemetry.Registry
	logger *slog.Logger
}

// NewVoiceRenderer creates a renderer. The store may be nil, in which case
// takes are returned inline only.
func NewVoiceRenderer(store storage.BlobStore, tel *telemetry.Registry, logger *slog.Logger) *VoiceRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceRenderer{store: store, tel: tel, logger: logger}
}

// Render synthesizes the instruction into a WAV take. The pitch contour
// comes from the melody when given (MIDI note numbers), otherwise it is
// derived from the text. The result carries the base64 WAV, its duration,
// RMS loudness in dBFS and a checksum over the quantized PCM.
func (r *VoiceRenderer) Render(ctx context.Context, in *RenderInstruction) (*RenderedAudio, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var freqs, amps []float64
	if len(in.Melody) > 0 {
		freqs, amps = melodyToPitches(in.Melody)
	} else {
		freqs, amps = textToPitches(in.Text)
	}
	samples := synthesize(freqs, amps)

	wav := audio.EncodeWAV(samples, RenderSampleRate)
	rendered := &RenderedAudio{
		SessionID:  in.SessionID,
		RenderID:   in.RenderID,
		URLOrBlob:  base64.StdEncoding.EncodeToString(wav),
		DurationMS: float64(len(samples)) / RenderSampleRate * 1000,
		Loudness:   audio.LoudnessDBFS(samples),
		Checksum:   audio.Checksum(samples),
	}

	if r.store != nil {
		path := fmt.Sprintf("renders/%s/%s.wav", in.SessionID, in.RenderID)
		if err := r.store.Put(ctx, path, wav, "audio/wav"); err != nil {
			return nil, fmt.Errorf("creative: persist take: %w", err)
		}
	}

	r.logger.Info("voice render completed",
		"session_id", in.SessionID,
		"render_id", in.RenderID,
		"duration_ms", rendered.DurationMS,
		"loudness_dbfs", rendered.Loudness,
		"voice_profile", in.VoiceProfile)
	if r.tel != nil {
		r.tel.Inc("voice.renders", 1)
		r.tel.Observe("voice.render_duration", float64(time.Since(start).Microseconds())/1000)
	}
	return rendered, nil
}

// melodyToPitches converts MIDI note numbers to frequencies at a fixed
// intensity.
func melodyToPitches(melody []float64) (freqs, amps []float64) {
	freqs = make([]float64, len(melody))
	amps = make([]float64, len(melody))
	for i, midi := range melody {
		freqs[i] = 440 * math.Pow(2, (midi-69)/12)
		amps[i] = 0.8
	}
	return freqs, amps
}

// textToPitches derives a contour from the text: each character picks a
// semitone offset around the base pitch, with a slow amplitude swell.
func textToPitches(text string) (freqs, amps []float64) {
	runes := []rune(text)
	freqs = make([]float64, len(runes))
	amps = make([]float64, len(runes))
	for i, c := range runes {
		offset := float64(int(c)%24 - 12)
		freqs[i] = basePitchHz * math.Pow(2, offset/12)
		amps[i] = 0.6 + 0.4*math.Sin(float64(i)/5)
	}
	return freqs, amps
}

// synthesize renders the contour as sequential vibrato sine segments with
// a fading envelope across the take and soft clipping.
func synthesize(freqs, amps []float64) []float32 {
	n := len(freqs)
	if n == 0 {
		return make([]float32, RenderSampleRate)
	}
	total := math.Max(minTakeSeconds, float64(n)*noteSeconds)
	segSamples := int(total * RenderSampleRate / float64(n))

	out := make([]float32, 0, segSamples*n)
	depth := vibratoSemis / 12
	for idx := 0; idx < n; idx++ {
		// The take decays from 0.8 to 0.2 across the contour.
		fade := 0.8
		if n > 1 {
			fade = 0.8 - 0.6*float64(idx)/float64(n-1)
		}
		amp := amps[idx] * fade
		attack := int(float64(segSamples) * attackFraction)
		release := int(float64(segSamples) * releaseFraction)
		for s := 0; s < segSamples; s++ {
			t := float64(s) / RenderSampleRate
			f := freqs[idx] * math.Pow(2, depth*math.Sin(2*math.Pi*vibratoRateHz*t))
			v := amp * math.Sin(2*math.Pi*f*t)
			if attack > 0 && s < attack {
				v *= float64(s) / float64(attack)
			}
			if release > 0 && s >= segSamples-release {
				v *= float64(segSamples-s) / float64(release)
			}
			out = append(out, float32(math.Tanh(v)))
		}
	}
	return out
}
