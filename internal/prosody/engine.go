// Package prosody implements the prosody-modification engine: it validates
// and orders edit directives, splits the input into passthrough, silence and
// modified segments, transforms and fades the modified ones, assembles the
// result and normalizes it so nothing clips.
package prosody

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/dsp"
)

// OUTPUT_PREFIX names files written when the caller gives no output path.
const OUTPUT_PREFIX = "modified_"

// GAIN_HEADROOM is the clip ceiling of the volume step: 40 dB above full
// scale. The normalizer brings the assembled buffer back to full scale.
const GAIN_HEADROOM = 100.0

// Engine runs the pipeline. It holds no per-request state and is safe for
// concurrent use as long as its transform is.
type Engine struct {
	transform core.AudioTransform
	outputDir string
	log       *logger.Logger
}

// NewEngine creates an engine. outputDir receives generated output files when
// a request names no destination; empty means the system temp directory.
func NewEngine(transform core.AudioTransform, outputDir string, log *logger.Logger) *Engine {
	return &Engine{transform: transform, outputDir: outputDir, log: log}
}

// Process applies directives to wave and returns the normalized result.
// Validation failures abort before any audio is touched.
func (e *Engine) Process(
	ctx context.Context,
	wave *audio.Waveform,
	directives []Directive,
	opts Options,
) (*audio.Waveform, error) {
	optsErr := opts.Validate()
	if optsErr != nil {
		return nil, stageError(STAGE_VALIDATE, optsErr)
	}

	rate := wave.SampleRate()
	source := wave.Samples()

	if opts.RemoveSilence {
		compacted, timeMap := RemoveSilence(source, rate, opts.MinSilenceLen, opts.SilenceThresh, opts.KeepSilence)
		e.log.Info("Removed silence: %d -> %d samples", len(source), len(compacted))

		source = compacted
		directives = timeMap.Remap(directives)

		err := checkpoint(ctx, STAGE_SILENCE_REMOVAL)
		if err != nil {
			return nil, err
		}
	}

	totalDuration := float64(len(source)) / float64(rate)

	validated, err := Validate(directives, totalDuration)
	if err != nil {
		e.log.Error("Validation failed: %v", err)

		return nil, stageError(STAGE_VALIDATE, err)
	}

	for _, item := range validated {
		if item.Clamped {
			e.log.Warn("Modification %d: end_time exceeds the audio duration, clamped to %.3fs",
				item.Index+1, totalDuration)
		}
	}

	segments := Plan(validated, len(source), rate)
	e.log.Info("Planned %d segments for %d modifications over %.3fs", len(segments), len(validated), totalDuration)

	parts := e.render(ctx, source, rate, segments, opts)

	err = checkpoint(ctx, STAGE_TRANSFORM)
	if err != nil {
		return nil, err
	}

	assembled, err := e.assemble(parts, int(math.Round(opts.CrossFadeDuration*float64(rate))))
	if err != nil {
		return nil, stageError(STAGE_ASSEMBLE, err)
	}

	if opts.hasGlobalChange() {
		assembled = e.applyGlobal(ctx, assembled, rate, opts)

		err = checkpoint(ctx, STAGE_GLOBAL_TRANSFORM)
		if err != nil {
			return nil, err
		}
	}

	normalized, peak := Normalize(assembled)
	if peak > audio.FULL_SCALE {
		e.log.Info("Normalized output, peak was %.3f", peak)
	}

	result, err := audio.NewWaveform(normalized, rate)
	if err != nil {
		return nil, stageError(STAGE_NORMALIZE, err)
	}

	return result, nil
}

// ModifyFile loads inputPath, processes it and writes the result. The output
// goes to opts.OutputPath or, when empty, to a generated file. It returns the
// path written.
func (e *Engine) ModifyFile(ctx context.Context, inputPath string, directives []Directive, opts Options) (string, error) {
	wave, err := audio.LoadFile(inputPath)
	if err != nil {
		e.log.Error("Failed to load %s: %v", inputPath, err)

		return "", stageError(STAGE_LOAD, err)
	}

	e.log.Info("Loaded %s: %d Hz, %.2fs", inputPath, wave.SampleRate(), wave.Seconds())

	processed, err := e.Process(ctx, wave, directives, opts)
	if err != nil {
		return "", err
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = e.generatedPath()
	}

	writeErr := audio.WriteFile(outputPath, processed)
	if writeErr != nil {
		e.log.Error("Failed to write %s: %v", outputPath, writeErr)

		return "", stageError(STAGE_ENCODE, writeErr)
	}

	e.log.Info("Wrote %s (%.2fs)", outputPath, processed.Seconds())

	return outputPath, nil
}

// ModifyBytes is ModifyFile for in-memory WAV data.
func (e *Engine) ModifyBytes(ctx context.Context, wavData []byte, directives []Directive, opts Options) ([]byte, error) {
	wave, err := audio.DecodeBytes(wavData)
	if err != nil {
		return nil, stageError(STAGE_LOAD, err)
	}

	processed, err := e.Process(ctx, wave, directives, opts)
	if err != nil {
		return nil, err
	}

	encoded, err := audio.EncodeBytes(processed)
	if err != nil {
		return nil, stageError(STAGE_ENCODE, err)
	}

	return encoded, nil
}

// Run converts wire records and runs ModifyFile, folding the outcome into a
// Result.
func (e *Engine) Run(ctx context.Context, inputPath string, records []Record, opts Options) Result {
	directives, err := DirectivesFromRecords(records)
	if err != nil {
		return ResultFromError(stageError(STAGE_VALIDATE, err))
	}

	outputPath, err := e.ModifyFile(ctx, inputPath, directives, opts)
	if err != nil {
		return ResultFromError(err)
	}

	return Result{Success: true, OutputPath: outputPath, Message: "audio modified", Stage: ""}
}

// checkpoint stops the pipeline after stage when the request was canceled.
// Transform failures are recovered from, a canceled context is not.
func checkpoint(ctx context.Context, stage Stage) error {
	err := ctx.Err()
	if err != nil {
		return stageError(stage, err)
	}

	return nil
}

func (e *Engine) generatedPath() string {
	dir := e.outputDir
	if dir == "" {
		dir = os.TempDir()
	}

	return filepath.Join(dir, OUTPUT_PREFIX+uuid.NewString()+".wav")
}

// render produces the output samples of every segment, inserting the
// configured gap between directly adjacent modified segments.
func (e *Engine) render(ctx context.Context, source []float64, rate int, segments []Segment, opts Options) [][]float64 {
	fadeLen := int(math.Round(opts.FadeDuration * float64(rate)))
	gapLen := int(math.Round(opts.SilenceBetweenMods * float64(rate)))
	parts := make([][]float64, 0, len(segments))
	previous := SegmentPassthrough

	for _, segment := range segments {
		switch segment.Kind {
		case SegmentPassthrough:
			parts = append(parts, source[segment.Start:segment.End])
		case SegmentSilence:
			parts = append(parts, make([]float64, segment.Length))
		case SegmentModified:
			if previous == SegmentModified && gapLen > 0 {
				parts = append(parts, make([]float64, gapLen))
			}

			transformed := e.transformSegment(ctx, source[segment.Start:segment.End], rate, segment)
			parts = append(parts, dsp.FadeEdges(transformed, fadeLen))
		}

		previous = segment.Kind
	}

	return parts
}

// transformSegment applies volume, then tempo and pitch. A failed tempo or
// pitch step keeps the volume-adjusted samples.
func (e *Engine) transformSegment(ctx context.Context, samples []float64, rate int, segment Segment) []float64 {
	adjusted := dsp.ApplyGain(samples, segment.Params.VolumeChange, GAIN_HEADROOM)

	params := core.TransformParams{Speed: segment.Params.SpeedChange, PitchShift: segment.Params.PitchShift}
	if params.IsIdentity() {
		return adjusted
	}

	transformed, err := e.transform.Apply(ctx, adjusted, rate, params)
	if err != nil {
		e.log.Warn("Modification %d: %s transform failed, keeping untransformed segment: %v",
			segment.DirectiveIndex+1, e.transform.Name(), err)

		return adjusted
	}

	e.log.Info("Modification %d: speed %.2fx, pitch %+.2f st, volume %+.1f dB (%d -> %d samples)",
		segment.DirectiveIndex+1, params.Speed, params.PitchShift, segment.Params.VolumeChange,
		len(samples), len(transformed))

	return transformed
}

// assemble tries the requested crossfade once and falls back to hard
// concatenation when the crossfade does not fit.
func (e *Engine) assemble(parts [][]float64, crossfade int) ([]float64, error) {
	assembled, err := Assemble(parts, crossfade)
	if err == nil {
		return assembled, nil
	}

	if crossfade == 0 || !errors.Is(err, ErrCrossfadeTooLong) {
		return nil, err
	}

	e.log.Warn("Crossfade of %d samples does not fit, retrying without crossfade: %v", crossfade, err)

	assembled, retryErr := Assemble(parts, 0)
	if retryErr != nil {
		return nil, fmt.Errorf("assembly retry without crossfade failed: %w", retryErr)
	}

	return assembled, nil
}

func (e *Engine) applyGlobal(ctx context.Context, samples []float64, rate int, opts Options) []float64 {
	params := core.TransformParams{Speed: opts.GlobalSpeedChange, PitchShift: opts.GlobalPitchChange}

	transformed, err := e.transform.Apply(ctx, samples, rate, params)
	if err != nil {
		e.log.Warn("Global change (speed %.2fx, pitch %+.2f st) failed, keeping assembled audio: %v",
			params.Speed, params.PitchShift, err)

		return samples
	}

	e.log.Info("Applied global change: speed %.2fx, pitch %+.2f st", params.Speed, params.PitchShift)

	return transformed
}

// Normalize rescales samples by 1/peak when the peak exceeds full scale. It
// returns the result and the peak measured before scaling.
func Normalize(samples []float64) ([]float64, float64) {
	peak := dsp.Peak(samples)
	if peak <= audio.FULL_SCALE {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, peak
	}

	scaled := dsp.Scale(samples, 1/peak)
	for i, sample := range scaled {
		scaled[i] = dsp.Clip(sample)
	}

	return scaled, peak
}
