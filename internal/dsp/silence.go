package dsp

import "math"

const (
	levelFrameSeconds = 0.010
	silenceFloorDB    = -120.0
)

// Range is a half-open sample interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of samples in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// LevelDB returns the RMS level of samples in dBFS. Digital silence reports
// a -120 dB floor instead of -Inf.
func LevelDB(samples []float64) float64 {
	if len(samples) == 0 {
		return silenceFloorDB
	}

	sum := 0.0
	for _, sample := range samples {
		sum += sample * sample
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return silenceFloorDB
	}

	return math.Max(20*math.Log10(rms), silenceFloorDB)
}

// DetectSilence returns every run of 10 ms frames quieter than threshDB that
// lasts at least minSilence seconds. Ranges are sorted and disjoint.
func DetectSilence(samples []float64, sampleRate int, minSilence, threshDB float64) []Range {
	frame := int(float64(sampleRate) * levelFrameSeconds)
	if frame < 1 {
		frame = 1
	}

	minLen := int(minSilence * float64(sampleRate))
	if minLen < 1 {
		minLen = 1
	}

	var (
		ranges  []Range
		runFrom = -1
	)

	flush := func(end int) {
		if runFrom >= 0 && end-runFrom >= minLen {
			ranges = append(ranges, Range{Start: runFrom, End: end})
		}

		runFrom = -1
	}

	for start := 0; start < len(samples); start += frame {
		end := min(start+frame, len(samples))

		if LevelDB(samples[start:end]) < threshDB {
			if runFrom < 0 {
				runFrom = start
			}

			continue
		}

		flush(start)
	}

	flush(len(samples))

	return ranges
}
