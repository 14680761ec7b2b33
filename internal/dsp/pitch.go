package dsp

import (
	"fmt"
	"math"

	"github.com/faiface/beep"

	"github.com/book-expert/prosody-service/internal/audio"
)

// resampleQuality is the Lagrange interpolation order used by beep.
const resampleQuality = 4

// SemitoneRatio converts a semitone offset to a frequency ratio.
func SemitoneRatio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// Resample plays samples back ratio times faster: the result has
// round(len/ratio) samples and every frequency is multiplied by ratio.
func Resample(samples []float64, ratio float64) ([]float64, error) {
	if !isPositiveFinite(ratio) {
		return nil, fmt.Errorf("%w: ratio %v", ErrInvalidFactor, ratio)
	}

	target := int(math.Round(float64(len(samples)) / ratio))

	if ratio == 1 {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, nil
	}

	if len(samples) < 2*resampleQuality {
		return nil, fmt.Errorf("%w: %d samples", ErrTooShort, len(samples))
	}

	resampler := beep.ResampleRatio(resampleQuality, ratio, audio.NewSampleStreamer(samples))

	resampled, err := audio.Drain(resampler, target)
	if err != nil {
		return nil, err
	}

	return fitLength(resampled, target), nil
}

// PitchShift moves every frequency by semitones while keeping the duration:
// the buffer is stretched to len*ratio with pitch preserved, then resampled
// back to len. Positive values raise the pitch.
func PitchShift(samples []float64, sampleRate int, semitones float64) ([]float64, error) {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return nil, fmt.Errorf("%w: semitones %v", ErrInvalidFactor, semitones)
	}

	if semitones == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, nil
	}

	ratio := SemitoneRatio(semitones)

	stretched, err := Stretch(samples, sampleRate, 1/ratio)
	if err != nil {
		return nil, fmt.Errorf("pitch shift stretch: %w", err)
	}

	shifted, err := Resample(stretched, ratio)
	if err != nil {
		return nil, fmt.Errorf("pitch shift resample: %w", err)
	}

	return fitLength(shifted, len(samples)), nil
}

// fitLength truncates or zero-pads samples to exactly n.
func fitLength(samples []float64, n int) []float64 {
	if len(samples) == n {
		return samples
	}

	out := make([]float64, n)
	copy(out, samples)

	return out
}
