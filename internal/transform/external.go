package transform

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/prosody-service/internal/audio"
	"github.com/book-expert/prosody-service/internal/core"
	"github.com/book-expert/prosody-service/internal/dsp"
)

// DEFAULT_FFMPEG_BINARY is used when no binary path is configured.
const DEFAULT_FFMPEG_BINARY = "ffmpeg"

// atempo only accepts factors in this range per filter instance.
const (
	minAtempo = 0.5
	maxAtempo = 2.0
)

// External shells out to ffmpeg for every call. Each call works in its own
// temp directory, which is removed on every return path.
type External struct {
	binary  string
	tempDir string
	log     *logger.Logger
}

// NewExternal creates an ffmpeg-backed transform. tempDir may be empty to use
// the system default.
func NewExternal(binary, tempDir string, log *logger.Logger) *External {
	if binary == "" {
		binary = DEFAULT_FFMPEG_BINARY
	}

	return &External{binary: binary, tempDir: tempDir, log: log}
}

// Name implements core.AudioTransform.
func (t *External) Name() string {
	return KIND_EXTERNAL
}

// Apply implements core.AudioTransform.
func (t *External) Apply(
	ctx context.Context,
	samples []float64,
	sampleRate int,
	params core.TransformParams,
) ([]float64, error) {
	paramsErr := checkParams(params)
	if paramsErr != nil {
		return nil, paramsErr
	}

	target := int(math.Round(float64(len(samples)) / params.Speed))

	if params.IsIdentity() {
		out := make([]float64, len(samples))
		copy(out, samples)

		return out, nil
	}

	workDir, err := os.MkdirTemp(t.tempDir, "prosody-ffmpeg-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create work dir: %w", core.ErrTransformFailed, err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil && t.log != nil {
			t.log.Warn("Failed to remove transform work dir '%s': %v", workDir, removeErr)
		}
	}()

	inputPath := filepath.Join(workDir, "in.wav")
	outputPath := filepath.Join(workDir, "out.wav")

	// The WAV round trip is 16-bit, so headroom above full scale is carried
	// as a gain and restored after decoding.
	peak := dsp.Peak(samples)
	headroom := 1.0

	if peak > audio.FULL_SCALE {
		headroom = peak
		samples = dsp.Scale(samples, 1/headroom)
	}

	wave, err := audio.NewWaveform(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransformFailed, err)
	}

	writeErr := audio.WriteFile(inputPath, wave)
	if writeErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransformFailed, writeErr)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-filter:a", FilterGraph(sampleRate, params),
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		outputPath,
	}

	// #nosec G204 -- the binary comes from configuration and arguments are built here
	cmd := exec.CommandContext(ctx, t.binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s execution failed: %w - output: %s",
			core.ErrTransformFailed, t.binary, err, string(output))
	}

	result, err := audio.LoadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrTransformFailed, err)
	}

	processed := result.Samples()
	if headroom != 1 {
		processed = dsp.Scale(processed, headroom)
	}

	fitted := make([]float64, target)
	copy(fitted, processed)

	return fitted, nil
}

// FilterGraph builds the ffmpeg audio filter for params: tempo first, then a
// pitch change implemented as a sample-rate change compensated by atempo.
func FilterGraph(sampleRate int, params core.TransformParams) string {
	var filters []string

	if params.Speed != 1 {
		filters = append(filters, atempoChain(params.Speed)...)
	}

	if params.PitchShift != 0 {
		ratio := math.Pow(2, params.PitchShift/12)
		shifted := int(math.Round(float64(sampleRate) * ratio))

		filters = append(filters,
			"asetrate="+strconv.Itoa(shifted),
			"aresample="+strconv.Itoa(sampleRate),
		)
		filters = append(filters, atempoChain(1/ratio)...)
	}

	if len(filters) == 0 {
		return "anull"
	}

	return strings.Join(filters, ",")
}

// atempoChain splits factor into atempo stages that each stay in range.
func atempoChain(factor float64) []string {
	var chain []string

	for factor > maxAtempo {
		chain = append(chain, formatAtempo(maxAtempo))
		factor /= maxAtempo
	}

	for factor < minAtempo {
		chain = append(chain, formatAtempo(minAtempo))
		factor /= minAtempo
	}

	return append(chain, formatAtempo(factor))
}

func formatAtempo(factor float64) string {
	return "atempo=" + strconv.FormatFloat(factor, 'f', 6, 64)
}

var _ core.AudioTransform = (*External)(nil)
