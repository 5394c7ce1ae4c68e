// Package dsp extracts musical features from mono PCM signals: fundamental
// pitch, rhythm, spectral band energies, timbre and a coarse emotion
// estimate.
//
// All detectors are total functions: degenerate input (silence, too few
// envelope peaks) resolves to documented fallback values instead of errors,
// so a live analysis pipeline never stalls on a quiet frame.
package dsp

import (
	"fmt"
	"math"
)

// Pitch is a fundamental-frequency estimate.
type Pitch struct {
	Hz         float64 `json:"hz" msgpack:"hz"`
	Note       string  `json:"note" msgpack:"note"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// Rhythm is a tempo estimate derived from the amplitude envelope.
type Rhythm struct {
	BPM           float64 `json:"bpm" msgpack:"bpm"`
	Swing         float64 `json:"swing" msgpack:"swing"`
	TimeSignature [2]int  `json:"time_signature" msgpack:"time_signature"`
}

// Band is the relative energy of one named frequency band.
type Band struct {
	Name   string  `json:"band" msgpack:"band"`
	Energy float64 `json:"energy" msgpack:"energy"`
}

// Emotion is a valence/arousal estimate in [-1, 1] with a coarse label.
type Emotion struct {
	Valence float64 `json:"valence" msgpack:"valence"`
	Arousal float64 `json:"arousal" msgpack:"arousal"`
	Label   string  `json:"label" msgpack:"label"`
}

// Timbre describes tone color as algebraic combinations of band energies,
// each clipped to [0, 1].
type Timbre struct {
	Brightness  float64 `json:"brightness" msgpack:"brightness"`
	Warmth      float64 `json:"warmth" msgpack:"warmth"`
	Roughness   float64 `json:"roughness" msgpack:"roughness"`
	Breathiness float64 `json:"breathiness" msgpack:"breathiness"`
}

// Analysis is the structured result of one DSP pass over one audio frame,
// keyed by (SessionID, SourceFrameID).
type Analysis struct {
	SessionID     string  `json:"session_id" msgpack:"session_id"`
	SourceFrameID string  `json:"source_frame_id" msgpack:"source_frame_id"`
	Pitch         Pitch   `json:"pitch" msgpack:"pitch"`
	Rhythm        Rhythm  `json:"rhythm" msgpack:"rhythm"`
	Spectrum      []Band  `json:"spectrum" msgpack:"spectrum"`
	Emotion       Emotion `json:"emotion" msgpack:"emotion"`
	Timbre        Timbre  `json:"timbre" msgpack:"timbre"`
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// HzToNote maps a frequency to the nearest equal-temperament note name.
// Non-positive frequencies map to "C3".
func HzToNote(hz float64) string {
	if hz <= 0 {
		return "C3"
	}
	midi := int(math.Round(69 + 12*math.Log2(hz/440.0)))
	octave := midi/12 - 1
	return fmt.Sprintf("%s%d", noteNames[((midi%12)+12)%12], octave)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DetectPitch estimates the fundamental frequency by autocorrelation.
//
// The DC-removed signal is autocorrelated over lags corresponding to 40 Hz
// through 1 kHz fundamentals; the lag with the strongest correlation wins.
// Confidence is the winning correlation relative to the zero-lag energy.
// Silence yields the fixed default (middle C, confidence 0).
func DetectPitch(mono []float64, sampleRate int) Pitch {
	n := len(mono)
	centered := make([]float64, n)
	var mean float64
	for _, s := range mono {
		mean += s
	}
	if n > 0 {
		mean /= float64(n)
	}
	var energy float64
	for i, s := range mono {
		centered[i] = s - mean
		energy += centered[i] * centered[i]
	}
	if energy == 0 {
		return Pitch{Hz: 261.63, Note: "C4", Confidence: 0}
	}

	minPeriod := sampleRate / 1000
	if minPeriod < 1 {
		minPeriod = 1
	}
	maxPeriod := sampleRate / 40
	if maxPeriod < minPeriod+1 {
		maxPeriod = minPeriod + 1
	}

	bestLag, bestCorr, nonZero := 0, 0.0, false
	for lag := minPeriod; lag < maxPeriod && lag < n; lag++ {
		var corr float64
		for i := 0; i+lag < n; i++ {
			corr += centered[i] * centered[i+lag]
		}
		if corr != 0 {
			nonZero = true
		}
		if bestLag == 0 || corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 || !nonZero {
		return Pitch{Hz: 261.63, Note: "C4", Confidence: 0.1}
	}

	hz := float64(sampleRate) / float64(bestLag)
	return Pitch{
		Hz:         hz,
		Note:       HzToNote(hz),
		Confidence: clip(bestCorr/energy, 0, 1),
	}
}

// DetectRhythm estimates tempo from envelope peak spacing.
//
// The rectified signal is smoothed with a 100 ms moving-average box filter;
// strict local maxima of the envelope mark onsets. Fewer than two peaks
// resolves to the 100 BPM fallback; an envelope too short to hold a peak
// resolves to 120 BPM. BPM is clamped to [50, 220], swing is the interval
// coefficient of variation clipped to [0, 1]. Time signature is fixed 4/4.
func DetectRhythm(mono []float64, sampleRate int) Rhythm {
	window := int(float64(sampleRate) * 0.1)
	if window < 1 {
		window = 1
	}
	if len(mono) < window {
		return Rhythm{BPM: 120.0, Swing: 0, TimeSignature: [2]int{4, 4}}
	}

	// Valid-mode moving average over the rectified signal.
	envLen := len(mono) - window + 1
	envelope := make([]float64, envLen)
	var acc float64
	for i := 0; i < window; i++ {
		acc += math.Abs(mono[i])
	}
	envelope[0] = acc / float64(window)
	for i := 1; i < envLen; i++ {
		acc += math.Abs(mono[i+window-1]) - math.Abs(mono[i-1])
		envelope[i] = acc / float64(window)
	}
	if envLen < 3 {
		return Rhythm{BPM: 120.0, Swing: 0, TimeSignature: [2]int{4, 4}}
	}

	// Strict local maxima. The tolerance keeps float rounding in the
	// running-sum envelope from minting peaks on a steady tone; any
	// musical onset clears it by orders of magnitude.
	var envMax float64
	for _, e := range envelope {
		if e > envMax {
			envMax = e
		}
	}
	tol := 1e-9 * envMax
	var peaks []int
	for i := 1; i < envLen-1; i++ {
		if envelope[i] > envelope[i-1]+tol && envelope[i] > envelope[i+1]+tol {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) < 2 {
		return Rhythm{BPM: 100.0, Swing: 0, TimeSignature: [2]int{4, 4}}
	}

	intervals := make([]float64, len(peaks)-1)
	var meanInterval float64
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i]-peaks[i-1]) / float64(sampleRate)
		meanInterval += intervals[i-1]
	}
	meanInterval /= float64(len(intervals))

	bpm := 120.0
	if meanInterval > 0 {
		bpm = 60.0 / meanInterval
	}

	var variance float64
	for _, iv := range intervals {
		d := iv - meanInterval
		variance += d * d
	}
	variance /= float64(len(intervals))
	swing := clip(math.Sqrt(variance)/(meanInterval+1e-6), 0, 1)

	return Rhythm{
		BPM:           clip(bpm, 50, 220),
		Swing:         swing,
		TimeSignature: [2]int{4, 4},
	}
}

// bandEdges defines the 7 fixed analysis bands in Hz, [low, high).
var bandEdges = []struct {
	name      string
	low, high float64
}{
	{"sub_bass", 20, 60},
	{"bass", 60, 250},
	{"low_mid", 250, 500},
	{"mid", 500, 2000},
	{"high_mid", 2000, 6000},
	{"presence", 6000, 12000},
	{"brilliance", 12000, 20000},
}

// SpectralEnergy partitions the FFT magnitude spectrum into the 7 fixed
// bands. Each band's energy is its magnitude share of the whole spectrum,
// so the bands approximately partition unit mass. Empty input yields nil.
func SpectralEnergy(mono []float64, sampleRate int) []Band {
	mags, binHz := realMagnitudes(mono, sampleRate)
	if mags == nil {
		return nil
	}
	var total float64
	for _, m := range mags {
		total += m
	}
	total += 1e-9

	bands := make([]Band, 0, len(bandEdges))
	for _, be := range bandEdges {
		var sum float64
		for i, m := range mags {
			f := float64(i) * binHz
			if f >= be.low && f < be.high {
				sum += m
			}
		}
		bands = append(bands, Band{Name: be.name, Energy: sum / total})
	}
	return bands
}

// ComputeTimbre derives tone-color descriptors from band energies.
func ComputeTimbre(bands []Band) Timbre {
	m := make(map[string]float64, len(bands))
	for _, b := range bands {
		m[b.Name] = b.Energy
	}
	return Timbre{
		Brightness:  clip(m["presence"]+m["brilliance"], 0, 1),
		Warmth:      clip(m["bass"]+m["low_mid"], 0, 1),
		Roughness:   clip(m["high_mid"], 0, 1),
		Breathiness: clip(m["mid"]*0.5, 0, 1),
	}
}

// EstimateEmotion maps tempo and pitch onto a valence/arousal plane.
//
// Both dimensions are computed in [0, 1] from linear normalizations of BPM
// and Hz, bucketed into a label, then rescaled to [-1, 1] for the stored
// estimate.
func EstimateEmotion(pitch Pitch, rhythm Rhythm) Emotion {
	tempoScore := clip((rhythm.BPM-60)/160, 0, 1)
	pitchScore := clip((pitch.Hz-140)/600, 0, 1)
	valence := tempoScore*0.55 + pitchScore*0.45
	arousal := clip(tempoScore*0.7+rhythm.Swing*0.3, 0, 1)

	label := "somber"
	switch {
	case valence > 0.6:
		label = "uplifting"
	case valence > 0.3:
		label = "contemplative"
	}
	return Emotion{
		Valence: valence*2 - 1,
		Arousal: arousal*2 - 1,
		Label:   label,
	}
}
