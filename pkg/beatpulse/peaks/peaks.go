// Package peaks picks the loudest sample of every half-second window of a
// rendered stereo buffer. Each pick is treated as a beat candidate.
package peaks

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
)

// WindowSeconds is the duration scanned for a single peak.
const WindowSeconds = 0.5

// ErrTooFewChannels is returned for buffers with fewer than two channels.
var ErrTooFewChannels = errors.New("peak extraction needs at least two channels")

// Peak is the loudest sample of one window.
type Peak struct {
	Position int     `json:"position"` // sample index from the start of the buffer
	Volume   float64 `json:"volume"`   // max(|ch0|, |ch1|) at Position
}

// WindowSize returns the window length in samples for sampleRate. It is
// never smaller than one sample.
func WindowSize(sampleRate int) int {
	return max(sampleRate/2, 1)
}

// NumWindows returns how many peaks a channel of length samples yields.
func NumWindows(length, sampleRate int) int {
	if length <= 0 {
		return 0
	}
	size := WindowSize(sampleRate)
	return (length + size - 1) / size
}

// Extract runs a sequential Extractor over buf.
func Extract(buf *audio.Buffer) ([]Peak, error) {
	return Extractor{}.Extract(buf)
}

// Extractor splits the window scan across Workers goroutines. Output is
// identical to a sequential scan.
type Extractor struct {
	Workers int
}

// Extract returns one Peak per window, in window order. Only the first two
// channels are read. Empty channels yield an empty, non-nil list.
func (e Extractor) Extract(buf *audio.Buffer) ([]Peak, error) {
	if err := validate(buf); err != nil {
		return nil, err
	}

	left, right := buf.Channels[0], buf.Channels[1]
	size := WindowSize(buf.SampleRate)
	n := NumWindows(len(left), buf.SampleRate)
	out := make([]Peak, n)

	workers := e.Workers
	if workers <= 1 || n < 2*workers {
		scanWindows(left, right, size, 0, n, out)
		return out, nil
	}

	per := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for from := 0; from < n; from += per {
		to := min(from+per, n)
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			scanWindows(left, right, size, from, to, out)
		}(from, to)
	}
	wg.Wait()

	return out, nil
}

// scanWindows fills out[from:to]. Ties keep the earliest index.
func scanWindows(left, right []float64, size, from, to int, out []Peak) {
	for w := from; w < to; w++ {
		start := w * size
		end := min(start+size, len(left))

		best := Peak{Position: start, Volume: volumeAt(left, right, start)}
		for i := start + 1; i < end; i++ {
			if v := volumeAt(left, right, i); v > best.Volume {
				best = Peak{Position: i, Volume: v}
			}
		}
		out[w] = best
	}
}

func volumeAt(left, right []float64, i int) float64 {
	return math.Max(math.Abs(left[i]), math.Abs(right[i]))
}

func validate(buf *audio.Buffer) error {
	if buf == nil {
		return errors.New("nil buffer")
	}
	if buf.NumChannels() < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewChannels, buf.NumChannels())
	}
	return buf.Validate()
}

// Positions returns the sample positions of list in order.
func Positions(list []Peak) []int {
	out := make([]int, len(list))
	for i, p := range list {
		out[i] = p.Position
	}
	return out
}
