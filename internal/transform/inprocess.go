// Package transform provides the pitch and tempo implementations behind
// core.AudioTransform.
package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/dsp"
)

// Transform kinds accepted by New.
const (
	KIND_INPROCESS = "inprocess"
	KIND_EXTERNAL  = "external"
)

// InProcess stretches and shifts audio with the pure-Go routines in dsp.
type InProcess struct{}

// NewInProcess returns the in-process transform.
func NewInProcess() *InProcess {
	return &InProcess{}
}

// Name implements core.AudioTransform.
func (t *InProcess) Name() string {
	return KIND_INPROCESS
}

// Apply implements core.AudioTransform.
func (t *InProcess) Apply(
	ctx context.Context,
	samples []float64,
	sampleRate int,
	params core.TransformParams,
) ([]float64, error) {
	paramsErr := checkParams(params)
	if paramsErr != nil {
		return nil, paramsErr
	}

	stretched, err := dsp.Stretch(samples, sampleRate, params.Speed)
	if err != nil {
		return nil, fmt.Errorf("%w: tempo: %w", core.ErrTransformFailed, err)
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransformFailed, ctxErr)
	}

	shifted, err := dsp.PitchShift(stretched, sampleRate, params.PitchShift)
	if err != nil {
		return nil, fmt.Errorf("%w: pitch: %w", core.ErrTransformFailed, err)
	}

	return shifted, nil
}

func checkParams(params core.TransformParams) error {
	if params.Speed <= 0 || math.IsNaN(params.Speed) || math.IsInf(params.Speed, 0) {
		return fmt.Errorf("%w: speed %v", core.ErrTransformFailed, params.Speed)
	}

	if math.IsNaN(params.PitchShift) || math.IsInf(params.PitchShift, 0) {
		return fmt.Errorf("%w: pitch shift %v", core.ErrTransformFailed, params.PitchShift)
	}

	return nil
}

var _ core.AudioTransform = (*InProcess)(nil)
