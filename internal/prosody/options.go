package prosody

import (
	"fmt"
	"math"
)

// Options configures one pipeline run. All durations are in seconds. Options
// are read-only while a request is processed.
type Options struct {
	RemoveSilence      bool    `json:"remove_silence"       toml:"remove_silence"`
	MinSilenceLen      float64 `json:"min_silence_len"      toml:"min_silence_len"`
	SilenceThresh      float64 `json:"silence_thresh"       toml:"silence_thresh"`
	KeepSilence        float64 `json:"keep_silence"         toml:"keep_silence"`
	FadeDuration       float64 `json:"fade_duration"        toml:"fade_duration"`
	SilenceBetweenMods float64 `json:"silence_between_mods" toml:"silence_between_mods"`
	CrossFadeDuration  float64 `json:"cross_fade_duration"  toml:"cross_fade_duration"`
	GlobalSpeedChange  float64 `json:"global_speed_change"  toml:"global_speed_change"`
	GlobalPitchChange  float64 `json:"global_pitch_change"  toml:"global_pitch_change"`
	OutputPath         string  `json:"output_path"          toml:"output_path"`
}

// DefaultOptions returns the stock configuration: hard concatenation with
// 50 ms edge fades and no global change.
func DefaultOptions() Options {
	return Options{
		RemoveSilence:      false,
		MinSilenceLen:      0.5,
		SilenceThresh:      -40,
		KeepSilence:        0.25,
		FadeDuration:       0.05,
		SilenceBetweenMods: 0.02,
		CrossFadeDuration:  0,
		GlobalSpeedChange:  1.0,
		GlobalPitchChange:  0,
		OutputPath:         "",
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	nonNegative := []struct {
		name  string
		value float64
	}{
		{"min_silence_len", o.MinSilenceLen},
		{"keep_silence", o.KeepSilence},
		{"fade_duration", o.FadeDuration},
		{"silence_between_mods", o.SilenceBetweenMods},
		{"cross_fade_duration", o.CrossFadeDuration},
	}

	for _, option := range nonNegative {
		if option.value < 0 || math.IsNaN(option.value) || math.IsInf(option.value, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v",
				ErrInvalidOptions, option.name, option.value)
		}
	}

	if o.GlobalSpeedChange <= 0 || math.IsNaN(o.GlobalSpeedChange) || math.IsInf(o.GlobalSpeedChange, 0) {
		return fmt.Errorf("%w: global_speed_change must be greater than zero, got %v",
			ErrInvalidOptions, o.GlobalSpeedChange)
	}

	if math.IsNaN(o.GlobalPitchChange) || math.IsInf(o.GlobalPitchChange, 0) {
		return fmt.Errorf("%w: global_pitch_change must be finite", ErrInvalidOptions)
	}

	if math.IsNaN(o.SilenceThresh) {
		return fmt.Errorf("%w: silence_thresh must be a number", ErrInvalidOptions)
	}

	return nil
}

func (o Options) hasGlobalChange() bool {
	return o.GlobalSpeedChange != 1 || o.GlobalPitchChange != 0
}
