// Package multistyle renders a styled script with the registered reference
// voices and joins the results into one waveform.
package multistyle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/dsp"
	"github.com/book-expert/prosody-service/internal/script"
	"github.com/book-expert/prosody-service/internal/speechtype"
)

// OUTPUT_PREFIX names rendered multi-style files.
const OUTPUT_PREFIX = "multi_style_"

const (
	errFmtSegment          = "segment %d (%s): %w"
	logFmtSegmentFailed    = "Failed to synthesize segment %d (%s): %v"
	logFmtSegmentProcessed = "Synthesized segment %d/%d (%s): %d samples"
)

var (
	// ErrEmptyScript is returned when the script has no speakable text.
	ErrEmptyScript = errors.New("script has no text to synthesize")
	// ErrRegularMissing is returned when the default style is not registered.
	ErrRegularMissing = errors.New("no Regular speech type is configured")
	// ErrReferenceMissing is returned when a style's reference clip is gone.
	ErrReferenceMissing = errors.New("reference audio not found")
)

// Generator turns scripts into speech.
type Generator struct {
	registry    *speechtype.Registry
	synthesizer core.Synthesizer
	workers     int
	log         *logger.Logger
}

// NewGenerator creates a generator backed by registry and synthesizer that
// keeps at most workers synthesis calls in flight.
func NewGenerator(
	registry *speechtype.Registry,
	synthesizer core.Synthesizer,
	workers int,
	log *logger.Logger,
) *Generator {
	if workers < 1 {
		workers = 1
	}

	return &Generator{registry: registry, synthesizer: synthesizer, workers: workers, log: log}
}

// Generate synthesizes every segment of text and concatenates them at the
// sample rate of the first one. overrides replace the reference transcript
// of a style when non-blank.
func (g *Generator) Generate(ctx context.Context, text string, overrides map[string]string) (*audio.Waveform, []script.Segment, error) {
	segments := script.Parse(text)
	if len(segments) == 0 {
		return nil, nil, ErrEmptyScript
	}

	g.log.Info("Parsed %d script segments", len(segments))

	reloaded, refreshErr := g.registry.Refresh()
	if refreshErr != nil {
		g.log.Warn("Failed to reload speech types, using the loaded set: %v", refreshErr)
	} else if reloaded {
		g.log.Info("Reloaded speech types from %s", g.registry.Path())
	}

	if !g.registry.Has(script.DEFAULT_STYLE) {
		return nil, nil, ErrRegularMissing
	}

	references, err := g.loadReferences(segments)
	if err != nil {
		return nil, nil, err
	}

	waves, err := g.synthesizeAll(ctx, segments, references, overrides)
	if err != nil {
		return nil, nil, err
	}

	rate := waves[0].SampleRate()
	joined := make([]float64, 0, len(waves)*waves[0].Len())

	for i, wave := range waves {
		samples := wave.Samples()

		if wave.SampleRate() != rate {
			samples, err = dsp.Resample(samples, float64(wave.SampleRate())/float64(rate))
			if err != nil {
				return nil, nil, fmt.Errorf(errFmtSegment, i+1, segments[i].Style, err)
			}
		}

		joined = append(joined, samples...)
	}

	result, err := audio.NewWaveform(joined, rate)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble script audio: %w", err)
	}

	return result, segments, nil
}

// ReferenceText picks the transcript sent with a style's reference clip.
// Only the default style uses its stored transcript; other styles are
// transcribed by the synthesizer unless the caller overrides them.
func ReferenceText(style, stored string, overrides map[string]string) string {
	if override := strings.TrimSpace(overrides[style]); override != "" {
		return override
	}

	if style != script.DEFAULT_STYLE {
		return ""
	}

	return stored
}

// synthesizeAll renders every segment through a bounded worker pool and
// returns the decoded waveforms in script order. The first failing segment
// cancels the calls still in flight.
func (g *Generator) synthesizeAll(
	ctx context.Context,
	segments []script.Segment,
	references map[string]reference,
	overrides map[string]string,
) ([]*audio.Waveform, error) {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var waitGroup sync.WaitGroup

	waves := make([]*audio.Waveform, len(segments))
	errs := make([]error, len(segments))
	workerPool := make(chan struct{}, g.workers)

	for segmentIndex, segment := range segments {
		// Slots are taken in script order so a single worker runs sequentially.
		workerPool <- struct{}{}

		waitGroup.Add(1)

		go func(index int, segment script.Segment) {
			defer waitGroup.Done()
			defer func() { <-workerPool }()

			wave, err := g.synthesizeSegment(poolCtx, segment, references[segment.Style], overrides)
			if err != nil {
				errs[index] = fmt.Errorf(errFmtSegment, index+1, segment.Style, err)
				g.log.Error(logFmtSegmentFailed, index+1, segment.Style, err)
				cancel()

				return
			}

			waves[index] = wave
			g.log.Info(logFmtSegmentProcessed, index+1, len(segments), segment.Style, wave.Len())
		}(segmentIndex, segment)
	}

	waitGroup.Wait()

	var canceled error

	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			if canceled == nil {
				canceled = err
			}
		default:
			return nil, err
		}
	}

	if canceled != nil {
		return nil, canceled
	}

	return waves, nil
}

func (g *Generator) synthesizeSegment(
	ctx context.Context,
	segment script.Segment,
	ref reference,
	overrides map[string]string,
) (*audio.Waveform, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	refText := ReferenceText(segment.Style, ref.entry.RefText, overrides)

	wavData, err := g.synthesizer.Synthesize(ctx, ref.data, refText, script.NormalizeTarget(segment.Text))
	if err != nil {
		return nil, err
	}

	return audio.DecodeBytes(wavData)
}

type reference struct {
	entry speechtype.Entry
	data  []byte
}

// loadReferences checks every style up front so a missing voice fails the
// request before any synthesis call.
func (g *Generator) loadReferences(segments []script.Segment) (map[string]reference, error) {
	references := make(map[string]reference)

	for _, style := range script.Styles(segments) {
		entry, err := g.registry.Get(style)
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(entry.Audio)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for %s: %s", ErrReferenceMissing, style, entry.Audio)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read reference for %s: %w", style, err)
		}

		references[style] = reference{entry: entry, data: data}
	}

	return references, nil
}
