package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

const (
	// PCM16_PRECISION is the byte width of a 16-bit sample.
	PCM16_PRECISION = OUTPUT_BIT_DEPTH / 8

	filePermissions = 0o600
	dirPermissions  = 0o750
	tempFilePattern = ".prosody-*.wav"
)

// Error messages.
const (
	errFmtDecodeWAV     = "failed to decode WAV data: %w"
	errFmtReadAudioFile = "failed to read audio file %s: %w"
	errFmtEncodeWAV     = "failed to encode WAV data: %w"
	errFmtCreateTemp    = "failed to create temp file in %s: %w"
	errFmtRenameOutput  = "failed to move %s into place: %w"
)

// ErrOutputPathEmpty is returned when no destination is given.
var ErrOutputPathEmpty = errors.New("output path cannot be empty")

// Decode reads a WAV stream and averages all channels down to mono.
func Decode(r io.Reader) (*Waveform, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeWAV, err)
	}

	defer func() {
		_ = streamer.Close()
	}()

	rate := int(format.SampleRate)

	rateErr := ValidateSampleRate(rate)
	if rateErr != nil {
		return nil, rateErr
	}

	correction := decodeCorrection(format.Precision)

	samples, drainErr := Drain(streamer, streamer.Len())
	if drainErr != nil {
		return nil, fmt.Errorf(errFmtDecodeWAV, drainErr)
	}

	if correction != 1 {
		for i := range samples {
			samples[i] *= correction
		}
	}

	return wrap(samples, rate), nil
}

// decodeCorrection rescales what beep's WAV reader returns for signed PCM
// (16 and 24 bit). It divides by 2^bits-1 while its encoder multiplies by
// 2^(bits-1)-1, so without the factor every decode loses 6 dB. 8-bit PCM is
// unsigned and already symmetric.
func decodeCorrection(precision int) float64 {
	if precision < 2 {
		return 1
	}

	bits := float64(precision * 8)

	return (math.Exp2(bits) - 1) / (math.Exp2(bits-1) - 1)
}

// quantize rounds each sample to the nearest 16-bit step and offsets it by
// half a step away from zero, so beep's truncating encoder lands exactly on
// that step. Decoded 16-bit input therefore encodes back to identical PCM.
func quantize(samples []float64) []float64 {
	out := make([]float64, len(samples))

	for i, sample := range samples {
		step := math.Round(math.Max(-FULL_SCALE, math.Min(FULL_SCALE, sample)) * PCM16_SCALE)
		if step == 0 {
			continue
		}

		out[i] = (step + math.Copysign(0.5, step)) / PCM16_SCALE
	}

	return out
}

// DecodeBytes decodes an in-memory WAV file.
func DecodeBytes(data []byte) (*Waveform, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	return Decode(bytes.NewReader(data))
}

// LoadFile reads and decodes a WAV file from disk.
func LoadFile(path string) (*Waveform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadAudioFile, path, err)
	}

	return DecodeBytes(data)
}

// Encode writes the waveform as a mono 16-bit PCM WAV file. Samples are
// clamped to full scale, scaled by 32767 and rounded.
func Encode(w io.WriteSeeker, wave *Waveform) error {
	format := beep.Format{
		SampleRate:  beep.SampleRate(wave.sampleRate),
		NumChannels: OUTPUT_CHANNELS,
		Precision:   PCM16_PRECISION,
	}

	err := wav.Encode(w, NewSampleStreamer(quantize(wave.samples)), format)
	if err != nil {
		return fmt.Errorf(errFmtEncodeWAV, err)
	}

	return nil
}

// EncodeBytes encodes the waveform into an in-memory WAV file.
func EncodeBytes(wave *Waveform) ([]byte, error) {
	tempFile, err := os.CreateTemp("", tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateTemp, os.TempDir(), err)
	}

	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
	}()

	encodeErr := Encode(tempFile, wave)
	if encodeErr != nil {
		return nil, encodeErr
	}

	data, readErr := os.ReadFile(tempFile.Name())
	if readErr != nil {
		return nil, fmt.Errorf(errFmtReadAudioFile, tempFile.Name(), readErr)
	}

	return data, nil
}

// WriteFile encodes the waveform to path. The data is written to a sibling
// temp file and renamed into place, so path never holds a partial file.
func WriteFile(path string, wave *Waveform) error {
	if path == "" {
		return ErrOutputPathEmpty
	}

	dir := filepath.Dir(path)

	mkdirErr := os.MkdirAll(dir, dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, mkdirErr)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf(errFmtCreateTemp, dir, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tempFile.Close()
			_ = os.Remove(tempFile.Name())
		}
	}()

	encodeErr := Encode(tempFile, wave)
	if encodeErr != nil {
		return encodeErr
	}

	syncErr := tempFile.Sync()
	if syncErr != nil {
		return fmt.Errorf(errFmtEncodeWAV, syncErr)
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		return fmt.Errorf(errFmtEncodeWAV, closeErr)
	}

	chmodErr := os.Chmod(tempFile.Name(), filePermissions)
	if chmodErr != nil {
		return fmt.Errorf(errFmtEncodeWAV, chmodErr)
	}

	renameErr := os.Rename(tempFile.Name(), path)
	if renameErr != nil {
		return fmt.Errorf(errFmtRenameOutput, path, renameErr)
	}

	committed = true

	return nil
}
