package dsp

import (
	"errors"
	"fmt"
	"math"
)

// WSOLA tuning.
const (
	frameSeconds   = 0.030
	minFrameLength = 64
	searchStride   = 2
	normEpsilon    = 1e-3
)

var (
	// ErrInvalidFactor is returned for non-positive or non-finite factors.
	ErrInvalidFactor = errors.New("factor must be a positive finite number")
	// ErrTooShort is returned when a buffer is shorter than one analysis frame.
	ErrTooShort = errors.New("buffer too short to process")
)

// FrameLength returns the WSOLA frame length for a sample rate: 30 ms,
// rounded down to an even count.
func FrameLength(sampleRate int) int {
	frame := int(float64(sampleRate) * frameSeconds)
	frame -= frame % 2

	if frame < minFrameLength {
		return minFrameLength
	}

	return frame
}

// Stretch changes the tempo of samples by speed while preserving pitch.
// The result has round(len/speed) samples; speed 2 halves the duration.
// It uses waveform-similarity overlap-add with a Hann window at 50% overlap.
func Stretch(samples []float64, sampleRate int, speed float64) ([]float64, error) {
	if !isPositiveFinite(speed) {
		return nil, fmt.Errorf("%w: speed %v", ErrInvalidFactor, speed)
	}

	if speed == 1 {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, nil
	}

	frame := FrameLength(sampleRate)
	if len(samples) < frame {
		return nil, fmt.Errorf("%w: %d samples, need at least %d", ErrTooShort, len(samples), frame)
	}

	hop := frame / 2
	tolerance := frame / 4
	outLen := int(math.Round(float64(len(samples)) / speed))
	window := hann(frame)

	out := make([]float64, outLen+frame)
	norm := make([]float64, outLen+frame)
	previous := 0

	for synth := 0; synth < outLen; synth += hop {
		nominal := int(math.Round(float64(synth) * speed))

		position := nominal
		if synth > 0 {
			position = bestAlignment(samples, previous+hop, nominal, tolerance, hop)
		}

		for i := 0; i < frame; i++ {
			out[synth+i] += sampleAt(samples, position+i) * window[i]
			norm[synth+i] += window[i]
		}

		previous = position
	}

	for i := 0; i < outLen; i++ {
		if norm[i] > normEpsilon {
			out[i] /= norm[i]
		} else {
			out[i] = sampleAt(samples, int(math.Round(float64(i)*speed)))
		}
	}

	return out[:outLen], nil
}

// bestAlignment searches nominal±tolerance for the frame start whose leading
// overlap region best matches the natural continuation of the previous frame.
func bestAlignment(samples []float64, continuation, nominal, tolerance, overlap int) int {
	best := nominal
	bestScore := math.Inf(-1)

	for candidate := nominal - tolerance; candidate <= nominal+tolerance; candidate++ {
		if candidate < 0 {
			continue
		}

		score := 0.0
		energy := 0.0

		for i := 0; i < overlap; i += searchStride {
			value := sampleAt(samples, candidate+i)
			score += value * sampleAt(samples, continuation+i)
			energy += value * value
		}

		if energy > 0 {
			score /= math.Sqrt(energy)
		}

		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}

	return best
}

// hann returns a periodic Hann window, which sums to one at 50% overlap.
func hann(n int) []float64 {
	window := make([]float64, n)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}

	return window
}

func sampleAt(samples []float64, i int) float64 {
	if i < 0 || i >= len(samples) {
		return 0
	}

	return samples[i]
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
