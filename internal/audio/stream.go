package audio

import (
	"fmt"

	"github.com/faiface/beep"
)

const drainBufferSize = 1024

// SampleStreamer adapts a mono sample slice to beep.Streamer. Each sample is
// duplicated onto both beep channels.
type SampleStreamer struct {
	samples []float64
	pos     int
}

// NewSampleStreamer returns a streamer positioned at the first sample. The
// slice is read, never written.
func NewSampleStreamer(samples []float64) *SampleStreamer {
	return &SampleStreamer{samples: samples}
}

// Stream implements beep.Streamer.
func (s *SampleStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}

	n := copyFrames(buf, s.samples[s.pos:])
	s.pos += n

	return n, true
}

// Err implements beep.Streamer.
func (s *SampleStreamer) Err() error {
	return nil
}

// Len returns the total number of samples.
func (s *SampleStreamer) Len() int {
	return len(s.samples)
}

// Position returns the index of the next sample to be streamed.
func (s *SampleStreamer) Position() int {
	return s.pos
}

// Seek moves the stream to sample p.
func (s *SampleStreamer) Seek(p int) error {
	if p < 0 || p > len(s.samples) {
		return fmt.Errorf("%w: seek to %d of %d", ErrInvalidRange, p, len(s.samples))
	}

	s.pos = p

	return nil
}

// Close implements beep.StreamSeekCloser.
func (s *SampleStreamer) Close() error {
	return nil
}

func copyFrames(buf [][2]float64, src []float64) int {
	n := len(buf)
	if len(src) < n {
		n = len(src)
	}

	for i := 0; i < n; i++ {
		buf[i][0] = src[i]
		buf[i][1] = src[i]
	}

	return n
}

// Drain reads a streamer to exhaustion, averaging both channels to mono.
// sizeHint preallocates the result.
func Drain(streamer beep.Streamer, sizeHint int) ([]float64, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}

	out := make([]float64, 0, sizeHint)
	buf := make([][2]float64, drainBufferSize)

	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, (buf[i][0]+buf[i][1])/2)
		}

		if !ok {
			break
		}
	}

	streamErr := streamer.Err()
	if streamErr != nil {
		return nil, fmt.Errorf("failed to drain audio stream: %w", streamErr)
	}

	return out, nil
}

var _ beep.StreamSeekCloser = (*SampleStreamer)(nil)
