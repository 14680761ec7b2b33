package dsp

// FadeEdges applies a linear fade-in over the first ramp samples and a linear
// fade-out over the last ramp samples. The ramp is clamped to half the
// segment so the two ramps never overlap.
func FadeEdges(samples []float64, ramp int) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)

	if ramp > len(out)/2 {
		ramp = len(out) / 2
	}

	if ramp <= 0 {
		return out
	}

	last := len(out) - 1

	for i := 0; i < ramp; i++ {
		gain := RampValue(i, ramp)
		out[i] *= gain
		out[last-i] *= gain
	}

	return out
}

// RampValue returns the i-th of n points evenly spaced over [0, 1], matching
// a linspace from silence to unity.
func RampValue(i, n int) float64 {
	if n <= 1 {
		return 1
	}

	return float64(i) / float64(n-1)
}
