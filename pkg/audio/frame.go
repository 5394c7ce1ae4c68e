// Package audio defines the wire-level audio types shared by the session
// pipeline: PCM frames submitted by clients, transcript chunks, and the
// helpers for decoding, level measurement, WAV encoding and checksums.
//
// Waveforms travel as little-endian float32 PCM, channel-interleaved, and
// are base64-encoded on the JSON wire. Frames are transient: the raw
// waveform is not retained once analysis has consumed it.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"regexp"
)

// Sentinel errors.
var (
	// ErrEmptyFrame is returned when a frame carries zero samples.
	ErrEmptyFrame = errors.New("audio: frame contains no samples")

	// ErrInvalidFrame is returned when a frame fails wire validation.
	ErrInvalidFrame = errors.New("audio: invalid frame")
)

// MaxSampleRate is the exclusive upper bound for Frame.SampleRate.
const MaxSampleRate = 384000

// MaxChannels is the inclusive upper bound for Frame.Channels.
const MaxChannels = 8

var frameIDPattern = regexp.MustCompile(`^frame_[0-9a-f]{32}$`)

// Frame is one chunk of client audio scoped to a session.
//
// FrameID is unique per session. RMS and Peak are computed by the ingest
// path ([github.com/thenote/backend/pkg/liveaudio]); they are nil until a
// frame has passed through it.
type Frame struct {
	SessionID   string   `json:"session_id"`
	FrameID     string   `json:"frame_id"`
	SampleRate  int      `json:"sample_rate"`
	Channels    int      `json:"channels"`
	DurationMS  float64  `json:"duration_ms"`
	Waveform    []byte   `json:"waveform_base64"`
	RMS         *float64 `json:"rms,omitempty"`
	Peak        *float64 `json:"peak,omitempty"`
	TimestampMS float64  `json:"timestamp_ms"`
}

// Validate checks the frame's wire constraints. It does not require the
// waveform to be non-empty; empty frames are rejected later by
// [Frame.ComputeLevels] with [ErrEmptyFrame] so callers can tell a decode
// failure from silence.
func (f *Frame) Validate() error {
	if f.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrInvalidFrame)
	}
	if !frameIDPattern.MatchString(f.FrameID) {
		return fmt.Errorf("%w: malformed frame_id %q", ErrInvalidFrame, f.FrameID)
	}
	if f.SampleRate <= 0 || f.SampleRate >= MaxSampleRate {
		return fmt.Errorf("%w: sample_rate %d out of range", ErrInvalidFrame, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: channels %d out of range", ErrInvalidFrame, f.Channels)
	}
	if f.DurationMS <= 0 {
		return fmt.Errorf("%w: duration_ms must be positive", ErrInvalidFrame)
	}
	if len(f.Waveform)%4 != 0 {
		return fmt.Errorf("%w: waveform length %d is not a whole number of float32 samples", ErrInvalidFrame, len(f.Waveform))
	}
	return nil
}

// Samples decodes the waveform into interleaved float32 samples.
func (f *Frame) Samples() []float32 {
	n := len(f.Waveform) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(f.Waveform[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// Mono returns the channel-averaged mono signal as float64.
// Trailing samples that do not fill a whole interleaved group are dropped.
func (f *Frame) Mono() []float64 {
	samples := f.Samples()
	ch := f.Channels
	if ch <= 1 {
		out := make([]float64, len(samples))
		for i, s := range samples {
			out[i] = float64(s)
		}
		return out
	}
	n := len(samples) / ch
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(samples[i*ch+c])
		}
		out[i] = sum / float64(ch)
	}
	return out
}

// ComputeLevels fills RMS and Peak from the mono signal.
// Returns ErrEmptyFrame when the frame carries zero samples.
func (f *Frame) ComputeLevels() error {
	mono := f.Mono()
	if len(mono) == 0 {
		return ErrEmptyFrame
	}
	var sumSq, peak float64
	for _, s := range mono {
		sumSq += s * s
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSq / float64(len(mono)))
	f.RMS = &rms
	f.Peak = &peak
	return nil
}

// EncodeSamples packs float32 samples into the little-endian wire layout.
func EncodeSamples(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
