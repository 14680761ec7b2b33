package prosody

import (
	"fmt"

	"github.com/book-expert/prosody-service/internal/dsp"
)

// minCrossfade is the shortest overlap that still forms a ramp.
const minCrossfade = 2

// Assemble joins parts in order. With crossfade == 0 the result is the exact
// concatenation. Otherwise each boundary blends the last L samples of the
// left part with the first L of the right using complementary linear ramps,
// where L is crossfade limited by what each neighbour has left. A boundary
// where L < 2 fails with ErrCrossfadeTooLong.
func Assemble(parts [][]float64, crossfade int) ([]float64, error) {
	total := 0
	for _, part := range parts {
		total += len(part)
	}

	out := make([]float64, 0, total)

	if crossfade <= 0 {
		for _, part := range parts {
			out = append(out, part...)
		}

		return out, nil
	}

	// Samples of the previous part not already blended with its own left
	// neighbour.
	available := 0

	for index, part := range parts {
		if index == 0 {
			out = append(out, part...)
			available = len(part)

			continue
		}

		overlap := min(crossfade, available, len(part))
		if overlap < minCrossfade {
			return nil, fmt.Errorf("%w: boundary %d allows %d samples, need at least %d",
				ErrCrossfadeTooLong, index, overlap, minCrossfade)
		}

		tail := len(out) - overlap
		for i := 0; i < overlap; i++ {
			fadeIn := dsp.RampValue(i, overlap)
			out[tail+i] = out[tail+i]*(1-fadeIn) + part[i]*fadeIn
		}

		out = append(out, part[overlap:]...)
		available = len(part) - overlap
	}

	return out, nil
}
