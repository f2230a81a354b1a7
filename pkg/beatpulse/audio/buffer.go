package audio

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSampleRate is returned for buffers whose sample rate is not positive.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrMismatchedChannels is returned when the channels of one buffer differ in length.
	ErrMismatchedChannels = errors.New("channels differ in length")
)

// Buffer is a block of de-interleaved samples, conventionally in [-1, 1].
// Every channel has the same length and shares SampleRate.
type Buffer struct {
	Channels   [][]float64
	SampleRate int
}

// NewBuffer allocates a silent buffer of numChannels x length samples.
func NewBuffer(numChannels, length, sampleRate int) *Buffer {
	chans := make([][]float64, numChannels)
	for i := range chans {
		chans[i] = make([]float64, length)
	}
	return &Buffer{Channels: chans, SampleRate: sampleRate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Len returns the number of samples per channel.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playing time of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.SampleRate) * float64(time.Second))
}

// Validate checks the buffer's structural preconditions.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("nil buffer")
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, b.SampleRate)
	}
	n := b.Len()
	for i, ch := range b.Channels {
		if len(ch) != n {
			return fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d", ErrMismatchedChannels, i, len(ch), n)
		}
	}
	return nil
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	out := &Buffer{Channels: make([][]float64, len(b.Channels)), SampleRate: b.SampleRate}
	for i, ch := range b.Channels {
		out.Channels[i] = append([]float64(nil), ch...)
	}
	return out
}

// Remix returns a copy of the buffer with exactly numChannels channels.
// Mono input is duplicated into every output channel; surplus channels are
// dropped; missing channels beyond the source are filled by repeating the
// last source channel.
func (b *Buffer) Remix(numChannels int) *Buffer {
	out := &Buffer{Channels: make([][]float64, numChannels), SampleRate: b.SampleRate}
	if len(b.Channels) == 0 {
		for i := range out.Channels {
			out.Channels[i] = []float64{}
		}
		return out
	}
	for i := range out.Channels {
		src := b.Channels[min(i, len(b.Channels)-1)]
		out.Channels[i] = append([]float64(nil), src...)
	}
	return out
}
