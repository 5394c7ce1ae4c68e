package dsp

import "math"

// fft performs an in-place radix-2 Cooley-Tukey FFT over re/im, which must
// share a power-of-2 length.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	j := 0
	for i := 0; i < n-1; i++ {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		angle := -2.0 * math.Pi / float64(size)
		wR := math.Cos(angle)
		wI := math.Sin(angle)
		for start := 0; start < n; start += size {
			tR, tI := 1.0, 0.0
			for k := 0; k < half; k++ {
				u := start + k
				v := u + half
				tmpR := tR*re[v] - tI*im[v]
				tmpI := tR*im[v] + tI*re[v]
				re[v] = re[u] - tmpR
				im[v] = im[u] - tmpI
				re[u] += tmpR
				im[u] += tmpI
				tR, tI = tR*wR-tI*wI, tR*wI+tI*wR
			}
		}
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// realMagnitudes computes the magnitude spectrum of a real signal.
// The input is zero-padded to a power of two; the returned slice holds the
// non-redundant half (nfft/2 + 1 bins). The second return value is the bin
// width in Hz.
func realMagnitudes(signal []float64, sampleRate int) ([]float64, float64) {
	if len(signal) == 0 {
		return nil, 0
	}
	nfft := nextPow2(len(signal))
	re := make([]float64, nfft)
	im := make([]float64, nfft)
	copy(re, signal)
	fft(re, im)

	bins := nfft/2 + 1
	mags := make([]float64, bins)
	for i := 0; i < bins; i++ {
		mags[i] = math.Hypot(re[i], im[i])
	}
	return mags, float64(sampleRate) / float64(nfft)
}
