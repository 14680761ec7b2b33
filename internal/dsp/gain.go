// Package dsp holds the sample-level operations used by the prosody engine:
// gain, fades, time stretching, pitch shifting, level measurement and
// silence detection. Every function returns a new slice and leaves its input
// untouched.
package dsp

import (
	"math"

	"github.com/faiface/beep/effects"

	"github.com/book-expert/prosody-service/internal/audio"
)

const decibelBase = 10

// GainFactor converts a decibel change to a linear amplitude factor.
func GainFactor(db float64) float64 {
	return math.Pow(decibelBase, db/20)
}

// ApplyGain scales samples by db decibels and hard-clips the result to
// ±ceiling. A zero change returns an exact copy.
func ApplyGain(samples []float64, db, ceiling float64) []float64 {
	out := make([]float64, len(samples))
	if db == 0 {
		copy(out, samples)

		return out
	}

	volume := &effects.Volume{
		Streamer: audio.NewSampleStreamer(samples),
		Base:     decibelBase,
		Volume:   db / 20,
		Silent:   false,
	}

	buf := make([][2]float64, len(samples))

	n, _ := volume.Stream(buf)
	for i := 0; i < n; i++ {
		out[i] = ClipTo(buf[i][0], ceiling)
	}

	return out
}

// Clip limits a sample to full scale.
func Clip(sample float64) float64 {
	return ClipTo(sample, audio.FULL_SCALE)
}

// ClipTo limits a sample to [-ceiling, ceiling].
func ClipTo(sample, ceiling float64) float64 {
	switch {
	case sample > ceiling:
		return ceiling
	case sample < -ceiling:
		return -ceiling
	default:
		return sample
	}
}

// Peak returns the largest absolute sample value.
func Peak(samples []float64) float64 {
	peak := 0.0

	for _, sample := range samples {
		if abs := math.Abs(sample); abs > peak {
			peak = abs
		}
	}

	return peak
}

// Scale multiplies every sample by factor.
func Scale(samples []float64, factor float64) []float64 {
	out := make([]float64, len(samples))
	for i, sample := range samples {
		out[i] = sample * factor
	}

	return out
}
