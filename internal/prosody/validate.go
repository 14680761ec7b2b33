package prosody

import (
	"fmt"
	"math"
	"sort"
)

// Validated is a directive that passed validation, in start-time order.
// Index is its position in the caller's list; Clamped is set when its end
// time was pulled back to the end of the audio.
type Validated struct {
	Index     int
	Directive Directive
	Clamped   bool
}

// Validate checks every directive against totalDuration and returns them
// stably sorted by start time. It is all-or-nothing: the first invalid
// directive (in caller order) aborts with a *ValidationError. Prosody end
// times past the end of the audio are clamped.
//
// Silence directives are insertions and occupy no input time; at equal start
// times they sort ahead of prosody ranges. A directive that starts before the
// previous prosody range ends is rejected with ErrOverlap.
func Validate(directives []Directive, totalDuration float64) ([]Validated, error) {
	validated := make([]Validated, 0, len(directives))

	for index, directive := range directives {
		checked, err := validateOne(index, directive, totalDuration)
		if err != nil {
			return nil, err
		}

		validated = append(validated, checked)
	}

	sort.SliceStable(validated, func(i, j int) bool {
		left, right := validated[i].Directive, validated[j].Directive
		if left.StartTime != right.StartTime {
			return left.StartTime < right.StartTime
		}

		// A silence sharing a start time with a range is inserted before it.
		return left.Kind == KindSilence && right.Kind == KindProsody
	})

	overlapErr := checkOverlaps(validated)
	if overlapErr != nil {
		return nil, overlapErr
	}

	return validated, nil
}

func validateOne(index int, directive Directive, totalDuration float64) (Validated, error) {
	start := directive.StartTime

	switch directive.Kind {
	case KindSilence:
		if !isFinite(start) || start < 0 || start > totalDuration {
			return Validated{}, &ValidationError{
				Index:  index,
				Reason: fmt.Sprintf("start_time %v outside [0, %v]", start, totalDuration),
				Err:    ErrOutOfBounds,
			}
		}

		if !isFinite(directive.Duration) || directive.Duration <= 0 {
			return Validated{}, &ValidationError{
				Index:  index,
				Reason: fmt.Sprintf("duration %v", directive.Duration),
				Err:    ErrInvalidDuration,
			}
		}

		return Validated{Index: index, Directive: directive}, nil

	case KindProsody:
		end := directive.EndTime
		if !isFinite(start) || !isFinite(end) || start < 0 || end <= start {
			return Validated{}, &ValidationError{
				Index:  index,
				Reason: fmt.Sprintf("start=%v end=%v", start, end),
				Err:    ErrInvalidRange,
			}
		}

		speed := directive.Params.SpeedChange
		if !isFinite(speed) || speed <= 0 {
			return Validated{}, &ValidationError{
				Index:  index,
				Reason: fmt.Sprintf("speed_change %v", speed),
				Err:    ErrInvalidSpeed,
			}
		}

		if !isFinite(directive.Params.PitchShift) || !isFinite(directive.Params.VolumeChange) {
			return Validated{}, &ValidationError{
				Index:  index,
				Reason: "pitch_shift and volume_change must be finite",
				Err:    ErrInvalidRange,
			}
		}

		clamped := false

		if end > totalDuration {
			directive.EndTime = totalDuration
			clamped = true

			if directive.EndTime <= start {
				return Validated{}, &ValidationError{
					Index:  index,
					Reason: fmt.Sprintf("start_time %v at or past the end of the audio (%v)", start, totalDuration),
					Err:    ErrInvalidRange,
				}
			}
		}

		return Validated{Index: index, Directive: directive, Clamped: clamped}, nil

	default:
		return Validated{}, &ValidationError{
			Index:  index,
			Reason: fmt.Sprintf("type %q", directive.Kind),
			Err:    ErrUnknownDirective,
		}
	}
}

func checkOverlaps(validated []Validated) error {
	consumed := 0.0

	for _, item := range validated {
		if item.Directive.StartTime < consumed {
			return &ValidationError{
				Index:  item.Index,
				Reason: fmt.Sprintf("starts at %v before the previous range ends at %v", item.Directive.StartTime, consumed),
				Err:    ErrOverlap,
			}
		}

		if item.Directive.Kind == KindProsody {
			consumed = item.Directive.EndTime
		}
	}

	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
