package prosody

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Kind identifies the variant of a Directive.
type Kind string

const (
	KindSilence Kind = "silence"
	KindProsody Kind = "prosody"
)

// Defaults applied to absent record fields.
const (
	DEFAULT_SILENCE_DURATION = 1.0
	DEFAULT_SPEED_CHANGE     = 1.0
)

// ProsodyParams are the per-segment transform parameters. PitchShift is in
// semitones, VolumeChange in dB and SpeedChange a tempo multiplier.
type ProsodyParams struct {
	PitchShift   float64
	VolumeChange float64
	SpeedChange  float64
}

// Directive is one requested edit. Times are seconds on the input timeline.
// Duration is used by silence directives, EndTime and Params by prosody ones.
type Directive struct {
	Kind      Kind
	StartTime float64
	EndTime   float64
	Duration  float64
	Params    ProsodyParams
}

// Silence returns a directive that inserts duration seconds of silence at start.
func Silence(start, duration float64) Directive {
	return Directive{Kind: KindSilence, StartTime: start, Duration: duration}
}

// Prosody returns a directive that transforms [start, end).
func Prosody(start, end float64, params ProsodyParams) Directive {
	return Directive{Kind: KindProsody, StartTime: start, EndTime: end, Params: params}
}

// Record is the wire form of a directive as received from clients and edit
// files. Optional fields are pointers so absence can be told from zero.
type Record struct {
	Type         string   `json:"type"                    toml:"type"`
	StartTime    float64  `json:"start_time"              toml:"start_time"`
	EndTime      *float64 `json:"end_time,omitempty"      toml:"end_time,omitempty"`
	Duration     *float64 `json:"duration,omitempty"      toml:"duration,omitempty"`
	PitchShift   *float64 `json:"pitch_shift,omitempty"   toml:"pitch_shift,omitempty"`
	VolumeChange *float64 `json:"volume_change,omitempty" toml:"volume_change,omitempty"`
	SpeedChange  *float64 `json:"speed_change,omitempty"  toml:"speed_change,omitempty"`
}

// EditList is the document form of an edit file.
type EditList struct {
	Modifications []Record `json:"modifications" toml:"modifications"`
}

// DirectivesFromRecords converts wire records to directives, applying field
// defaults. Unknown types and prosody records without an end time fail with a
// *ValidationError.
func DirectivesFromRecords(records []Record) ([]Directive, error) {
	directives := make([]Directive, 0, len(records))

	for index, record := range records {
		switch Kind(strings.ToLower(strings.TrimSpace(record.Type))) {
		case KindSilence:
			directives = append(directives, Silence(record.StartTime, valueOr(record.Duration, DEFAULT_SILENCE_DURATION)))
		case KindProsody:
			if record.EndTime == nil {
				return nil, &ValidationError{Index: index, Reason: "end_time is required", Err: ErrInvalidRange}
			}

			directives = append(directives, Prosody(record.StartTime, *record.EndTime, ProsodyParams{
				PitchShift:   valueOr(record.PitchShift, 0),
				VolumeChange: valueOr(record.VolumeChange, 0),
				SpeedChange:  valueOr(record.SpeedChange, DEFAULT_SPEED_CHANGE),
			}))
		default:
			return nil, &ValidationError{
				Index:  index,
				Reason: fmt.Sprintf("type %q", record.Type),
				Err:    ErrUnknownDirective,
			}
		}
	}

	return directives, nil
}

// ParseEditsJSON decodes either a bare JSON array of records or an object
// with a "modifications" array.
func ParseEditsJSON(data []byte) ([]Record, error) {
	trimmed := strings.TrimSpace(string(data))

	if strings.HasPrefix(trimmed, "[") {
		var records []Record

		err := json.Unmarshal(data, &records)
		if err != nil {
			return nil, fmt.Errorf("failed to decode edit list: %w", err)
		}

		return records, nil
	}

	var list EditList

	err := json.Unmarshal(data, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to decode edit list: %w", err)
	}

	return list.Modifications, nil
}

// ParseEditsTOML decodes a TOML document with [[modifications]] tables.
func ParseEditsTOML(data []byte) ([]Record, error) {
	var list EditList

	err := toml.Unmarshal(data, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to decode edit list: %w", err)
	}

	return list.Modifications, nil
}

func valueOr(value *float64, fallback float64) float64 {
	if value == nil {
		return fallback
	}

	return *value
}
