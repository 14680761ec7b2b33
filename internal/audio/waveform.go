// Package audio provides the mono waveform type used by the prosody pipeline
// together with WAV decoding and encoding.
package audio

import (
	"errors"
	"fmt"
)

// Constants for the output sample format.
const (
	OUTPUT_BIT_DEPTH = 16
	OUTPUT_CHANNELS  = 1
	FULL_SCALE       = 1.0
	PCM16_SCALE      = 32767
)

// Constants for validation limits.
const (
	MIN_SAMPLE_RATE = 1
	MAX_SAMPLE_RATE = 192000
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between %d and %d Hz, got %d"
)

// Common errors for the audio package.
var (
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrInvalidRange      = errors.New("invalid sample range")
	ErrEmptyAudio        = errors.New("audio contains no samples")
)

// Waveform is an immutable mono buffer of floating-point samples nominally in
// [-1, 1]. Every transform produces a new Waveform.
type Waveform struct {
	samples    []float64
	sampleRate int
}

// NewWaveform copies samples into a new Waveform.
func NewWaveform(samples []float64, sampleRate int) (*Waveform, error) {
	rateErr := ValidateSampleRate(sampleRate)
	if rateErr != nil {
		return nil, rateErr
	}

	owned := make([]float64, len(samples))
	copy(owned, samples)

	return &Waveform{samples: owned, sampleRate: sampleRate}, nil
}

// wrap takes ownership of samples without copying.
func wrap(samples []float64, sampleRate int) *Waveform {
	return &Waveform{samples: samples, sampleRate: sampleRate}
}

// SampleRate returns the sample rate in Hz.
func (w *Waveform) SampleRate() int {
	return w.sampleRate
}

// Len returns the number of samples.
func (w *Waveform) Len() int {
	return len(w.samples)
}

// Seconds returns the duration in seconds.
func (w *Waveform) Seconds() float64 {
	return float64(len(w.samples)) / float64(w.sampleRate)
}

// Samples returns a copy of the sample buffer.
func (w *Waveform) Samples() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)

	return out
}

// ValidateSampleRate checks that the sample rate is within supported bounds.
func ValidateSampleRate(sampleRate int) error {
	if sampleRate < MIN_SAMPLE_RATE || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(
			ERR_FMT_SAMPLE_RATE_RANGE,
			ErrInvalidSampleRate,
			MIN_SAMPLE_RATE,
			MAX_SAMPLE_RATE,
			sampleRate,
		)
	}

	return nil
}
