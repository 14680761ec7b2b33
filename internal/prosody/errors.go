package prosody

import (
	"errors"
	"fmt"
)

// Stage names a step of the pipeline. Fatal errors report the stage they
// occurred in.
type Stage string

// Pipeline stages in execution order.
const (
	STAGE_LOAD             Stage = "load"
	STAGE_SILENCE_REMOVAL  Stage = "silence_removal"
	STAGE_VALIDATE         Stage = "validate"
	STAGE_TRANSFORM        Stage = "transform"
	STAGE_ASSEMBLE         Stage = "assemble"
	STAGE_GLOBAL_TRANSFORM Stage = "global_transform"
	STAGE_NORMALIZE        Stage = "normalize"
	STAGE_ENCODE           Stage = "encode"
)

// Validation failures. Each is wrapped in a *ValidationError naming the
// offending directive.
var (
	ErrOutOfBounds      = errors.New("start time outside the audio")
	ErrInvalidRange     = errors.New("invalid time range")
	ErrInvalidSpeed     = errors.New("speed change must be greater than zero")
	ErrInvalidDuration  = errors.New("silence duration must be greater than zero")
	ErrOverlap          = errors.New("directive overlaps a previous directive")
	ErrUnknownDirective = errors.New("unknown directive type")
)

var (
	// ErrCrossfadeTooLong is returned by Assemble when two neighbours are too
	// short to share a usable crossfade.
	ErrCrossfadeTooLong = errors.New("crossfade longer than adjacent segments")
	// ErrInvalidOptions is returned for out-of-range pipeline options.
	ErrInvalidOptions = errors.New("invalid pipeline options")
)

// ValidationError reports the directive that failed validation. Index is the
// position in the caller's list.
type ValidationError struct {
	Index  int
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("modification %d: %s: %v", e.Index+1, e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StageError is a fatal pipeline error tagged with the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Result is the structured outcome of one request.
type Result struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Message    string `json:"message,omitempty"`
	Stage      Stage  `json:"stage,omitempty"`
}

// ResultFromError builds a failure Result. Errors without a stage are
// reported without one.
func ResultFromError(err error) Result {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return Result{Success: false, Message: stageErr.Err.Error(), Stage: stageErr.Stage}
	}

	return Result{Success: false, Message: err.Error()}
}
