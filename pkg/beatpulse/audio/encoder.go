package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// EncodeWAV writes buf as interleaved integer PCM. Samples outside [-1, 1]
// are clipped.
func EncodeWAV(w io.WriteSeeker, buf *Buffer, bitDepth int) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.NumChannels() == 0 {
		return fmt.Errorf("cannot encode a buffer without channels")
	}
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	numChannels := buf.NumChannels()
	frames := buf.Len()
	maxVal := float64(int64(1)<<(bitDepth-1)) - 1

	data := make([]int, frames*numChannels)
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			v := math.Max(-1, math.Min(1, buf.Channels[c][i]))
			data[i*numChannels+c] = int(math.Round(v * maxVal))
		}
	}

	enc := wav.NewEncoder(w, buf.SampleRate, bitDepth, numChannels, wavFormatPCM)
	pcm := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		return fmt.Errorf("writing PCM data: %w", err)
	}
	return enc.Close()
}

// WriteWAVFile encodes buf as 16-bit PCM into path.
func WriteWAVFile(path string, buf *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, buf, 16); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
