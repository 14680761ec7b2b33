package prosody

import "math"

// SegmentKind says how a segment's samples are produced.
type SegmentKind int

const (
	// SegmentPassthrough copies input samples unchanged.
	SegmentPassthrough SegmentKind = iota
	// SegmentSilence is generated zeros that consume no input.
	SegmentSilence
	// SegmentModified is an input slice run through the transform engine.
	SegmentModified
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentPassthrough:
		return "passthrough"
	case SegmentSilence:
		return "silence"
	case SegmentModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Segment is one contiguous piece of the output plan. Start and End are the
// input sample range [Start, End); silence segments have Start == End and
// produce Length zeros.
type Segment struct {
	Kind           SegmentKind
	Start          int
	End            int
	Length         int
	Params         ProsodyParams
	DirectiveIndex int
}

// SourceLen returns the number of input samples the segment consumes.
func (s Segment) SourceLen() int {
	return s.End - s.Start
}

// Plan walks validated directives with a cursor and returns the segment
// list. Passthrough and modified segments tile [0, totalSamples) exactly;
// silence segments are inserted at their start time without advancing the
// cursor.
func Plan(validated []Validated, totalSamples, sampleRate int) []Segment {
	segments := make([]Segment, 0, 2*len(validated)+1)
	cursor := 0

	passthroughTo := func(end int) {
		if end > cursor {
			segments = append(segments, Segment{
				Kind:           SegmentPassthrough,
				Start:          cursor,
				End:            end,
				Length:         end - cursor,
				DirectiveIndex: -1,
			})
			cursor = end
		}
	}

	for _, item := range validated {
		directive := item.Directive
		start := toSample(directive.StartTime, sampleRate, totalSamples)

		passthroughTo(start)

		switch directive.Kind {
		case KindSilence:
			length := int(math.Round(directive.Duration * float64(sampleRate)))
			if length <= 0 {
				continue
			}

			segments = append(segments, Segment{
				Kind:           SegmentSilence,
				Start:          cursor,
				End:            cursor,
				Length:         length,
				DirectiveIndex: item.Index,
			})

		case KindProsody:
			end := toSample(directive.EndTime, sampleRate, totalSamples)
			if end <= cursor {
				continue
			}

			segments = append(segments, Segment{
				Kind:           SegmentModified,
				Start:          cursor,
				End:            end,
				Length:         end - cursor,
				Params:         directive.Params,
				DirectiveIndex: item.Index,
			})
			cursor = end
		}
	}

	passthroughTo(totalSamples)

	return segments
}

// toSample rounds seconds to the nearest sample index within [0, total].
func toSample(seconds float64, sampleRate, total int) int {
	index := int(math.Round(seconds * float64(sampleRate)))

	return max(0, min(index, total))
}
