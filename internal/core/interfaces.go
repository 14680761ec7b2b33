// Package core defines the interfaces shared by the prosody engine, the
// worker and the collaborators it talks to.
package core

import (
	"context"
	"errors"
)

// ErrTransformFailed marks a pitch or tempo step that could not process its
// input. Callers recover by keeping the untransformed samples.
var ErrTransformFailed = errors.New("audio transform failed")

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// TransformParams describes a tempo and pitch change. Speed is a tempo
// multiplier (2 halves the duration); PitchShift is in semitones, positive
// raises the pitch.
type TransformParams struct {
	Speed      float64
	PitchShift float64
}

// IsIdentity reports whether the params leave audio untouched.
func (p TransformParams) IsIdentity() bool {
	return p.Speed == 1 && p.PitchShift == 0
}

// AudioTransform applies tempo then pitch changes to a mono buffer. The result
// has round(len/Speed) samples regardless of PitchShift. Failures wrap
// ErrTransformFailed.
type AudioTransform interface {
	Apply(ctx context.Context, samples []float64, sampleRate int, params TransformParams) ([]float64, error)
	Name() string
}

// Synthesizer produces speech from a reference voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, referenceAudio []byte, referenceText, targetText string) ([]byte, error)
}

// Word is a single recognized word with its start time in seconds.
type Word struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcriber turns speech into word-level timestamped text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte, language string) ([]Word, error)
}
