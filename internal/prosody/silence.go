package prosody

import (
	"math"

	"github.com/book-expert/prosody-service/internal/dsp"
)

// compaction records one removed silent run: input samples [Start, End)
// became Kept zeros.
type compaction struct {
	dsp.Range

	Kept int
}

// TimeMap converts times on the input timeline to the timeline left after
// silence removal.
type TimeMap struct {
	sampleRate int
	runs       []compaction
}

// Seconds maps an input time to the compacted timeline. A time inside a
// removed run maps into the kept zeros, saturating at their end.
func (m TimeMap) Seconds(seconds float64) float64 {
	if len(m.runs) == 0 || !isFinite(seconds) {
		return seconds
	}

	position := int(math.Round(seconds * float64(m.sampleRate)))
	shift := 0

	for _, run := range m.runs {
		if position < run.Start {
			break
		}

		if position < run.End {
			return float64(run.Start-shift+min(position-run.Start, run.Kept)) / float64(m.sampleRate)
		}

		shift += run.Len() - run.Kept
	}

	return float64(position-shift) / float64(m.sampleRate)
}

// Remap returns copies of directives with their times mapped. Silence
// durations are generated audio and stay as requested.
func (m TimeMap) Remap(directives []Directive) []Directive {
	out := make([]Directive, len(directives))

	for i, directive := range directives {
		directive.StartTime = m.Seconds(directive.StartTime)
		if directive.Kind == KindProsody {
			directive.EndTime = m.Seconds(directive.EndTime)
		}

		out[i] = directive
	}

	return out
}

// RemoveSilence replaces every run quieter than threshDB lasting at least
// minSilence seconds with keep seconds of zeros.
func RemoveSilence(samples []float64, sampleRate int, minSilence, threshDB, keep float64) ([]float64, TimeMap) {
	ranges := dsp.DetectSilence(samples, sampleRate, minSilence, threshDB)
	timeMap := TimeMap{sampleRate: sampleRate, runs: make([]compaction, 0, len(ranges))}

	if len(ranges) == 0 {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, timeMap
	}

	keepLen := int(math.Round(keep * float64(sampleRate)))
	out := make([]float64, 0, len(samples))
	previous := 0

	for _, silent := range ranges {
		kept := min(keepLen, silent.Len())

		out = append(out, samples[previous:silent.Start]...)
		out = append(out, make([]float64, kept)...)
		previous = silent.End

		timeMap.runs = append(timeMap.runs, compaction{Range: silent, Kept: kept})
	}

	out = append(out, samples[previous:]...)

	return out, timeMap
}
