package audio

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// QuantizeInt16 converts float32 samples in [-1, 1] to int16 PCM bytes,
// little-endian. Values outside the range are clipped.
func QuantizeInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// Checksum returns the hex sha256 of the int16-quantized PCM, the wire
// checksum carried by rendered audio.
func Checksum(samples []float32) string {
	sum := sha256.Sum256(QuantizeInt16(samples))
	return hex.EncodeToString(sum[:])
}

// EncodeWAV wraps int16-quantized samples in a minimal RIFF/WAVE container.
// Mono only; sampleRate is in Hz.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := QuantizeInt16(samples)
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	u32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+len(pcm)))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM format
	buf = append(buf, u16(numChannels)...)
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(byteRate))...)
	buf = append(buf, u16(uint16(blockAlign))...)
	buf = append(buf, u16(bitsPerSample)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(len(pcm)))...)
	buf = append(buf, pcm...)
	return buf
}

// LoudnessDBFS returns the RMS loudness of samples in dBFS.
// Silence maps to -96 dBFS rather than negative infinity.
func LoudnessDBFS(samples []float32) float64 {
	if len(samples) == 0 {
		return -96
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms <= 0 {
		return -96
	}
	db := 20 * math.Log10(rms)
	if db < -96 {
		db = -96
	}
	return db
}
