package audio

import (
	"errors"
	"testing"
	"time"
)

func TestBufferValidate(t *testing.T) {
	tests := []struct {
		name    string
		buf     *Buffer
		wantErr error
	}{
		{
			name: "Valid stereo",
			buf:  &Buffer{Channels: [][]float64{{0, 1}, {0, -1}}, SampleRate: 44100},
		},
		{
			name: "Empty channels are valid",
			buf:  &Buffer{Channels: [][]float64{{}, {}}, SampleRate: 44100},
		},
		{
			name:    "Zero sample rate",
			buf:     &Buffer{Channels: [][]float64{{0}}, SampleRate: 0},
			wantErr: ErrInvalidSampleRate,
		},
		{
			name:    "Negative sample rate",
			buf:     &Buffer{Channels: [][]float64{{0}}, SampleRate: -8000},
			wantErr: ErrInvalidSampleRate,
		},
		{
			name:    "Mismatched lengths",
			buf:     &Buffer{Channels: [][]float64{{0, 0, 0}, {0}}, SampleRate: 22050},
			wantErr: ErrMismatchedChannels,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.buf.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBufferDuration(t *testing.T) {
	buf := NewBuffer(2, 44100, 44100)
	if got := buf.Duration(); got != time.Second {
		t.Errorf("Expected 1s, got %v", got)
	}

	var nilBuf *Buffer
	if nilBuf.Len() != 0 || nilBuf.NumChannels() != 0 || nilBuf.Duration() != 0 {
		t.Error("Expected zero values for nil buffer")
	}
}

func TestBufferRemix(t *testing.T) {
	mono := &Buffer{Channels: [][]float64{{0.1, 0.2, 0.3}}, SampleRate: 8000}

	stereo := mono.Remix(2)
	if stereo.NumChannels() != 2 {
		t.Fatalf("Expected 2 channels, got %d", stereo.NumChannels())
	}
	for c := 0; c < 2; c++ {
		for i, v := range mono.Channels[0] {
			if stereo.Channels[c][i] != v {
				t.Errorf("Channel %d sample %d: expected %f, got %f", c, i, v, stereo.Channels[c][i])
			}
		}
	}

	stereo.Channels[0][0] = 9
	if mono.Channels[0][0] != 0.1 {
		t.Error("Remix must not alias the source buffer")
	}

	surround := NewBuffer(6, 4, 48000)
	if got := surround.Remix(2).NumChannels(); got != 2 {
		t.Errorf("Expected surplus channels dropped, got %d", got)
	}

	empty := (&Buffer{SampleRate: 8000}).Remix(2)
	if empty.NumChannels() != 2 || empty.Len() != 0 {
		t.Errorf("Expected 2 empty channels, got %d x %d", empty.NumChannels(), empty.Len())
	}
}
