package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decoder turns an encoded audio payload into a Buffer.
type Decoder interface {
	Decode(ctx context.Context, name string, r io.Reader) (*Buffer, error)
}

// Format identifies a container recognised by FileDecoder.
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// DetectFormat guesses the container from the file name, then from the
// leading bytes of the payload.
func DetectFormat(name string, head []byte) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	}

	if len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE" {
		return FormatWAV
	}
	if len(head) >= 3 && string(head[0:3]) == "ID3" {
		return FormatMP3
	}
	if len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return FormatMP3
	}
	return FormatUnknown
}

// FileDecoder decodes WAV and MP3 natively and hands anything else to
// ffmpeg for conversion into WAV.
type FileDecoder struct {
	// TempDir receives intermediate files for the ffmpeg path.
	TempDir string
	// DisableFFmpeg rejects unknown formats instead of shelling out.
	DisableFFmpeg bool
}

// Decode implements Decoder. Every failure is returned as *DecodeError.
func (d *FileDecoder) Decode(ctx context.Context, name string, r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Name: name, Err: fmt.Errorf("reading payload: %w", err)}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Name: name, Err: errors.New("empty payload")}
	}

	var buf *Buffer
	switch DetectFormat(name, data[:min(len(data), 16)]) {
	case FormatWAV:
		buf, err = DecodeWAV(bytes.NewReader(data))
	case FormatMP3:
		buf, err = DecodeMP3(bytes.NewReader(data))
	default:
		if d.DisableFFmpeg {
			err = errors.New("unsupported audio format")
		} else {
			buf, err = d.decodeWithFFmpeg(ctx, name, data)
		}
	}
	if err != nil {
		return nil, &DecodeError{Name: name, Err: err}
	}
	if err := buf.Validate(); err != nil {
		return nil, &DecodeError{Name: name, Err: err}
	}
	return buf, nil
}

func (d *FileDecoder) decodeWithFFmpeg(ctx context.Context, name string, data []byte) (*Buffer, error) {
	tempDir := d.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	src, err := os.CreateTemp(tempDir, "beatpulse-src-*"+filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(src.Name())

	if _, err := src.Write(data); err != nil {
		src.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := src.Close(); err != nil {
		return nil, err
	}

	wavPath, err := ConvertToWAV(ctx, src.Name(), tempDir, ConvertWAVConfig{Channels: 2})
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeWAV(f)
}

// WAV format tags from the fmt chunk.
const (
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV reads an integer PCM or 32-bit float WAV stream, keeping every
// channel. Extensible headers are read as integer PCM.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV/RIFF file")
	}

	format := dec.WavAudioFormat
	switch format {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatIEEEFloat:
		if dec.BitDepth != 32 {
			return nil, fmt.Errorf("unsupported float bit depth: %d", dec.BitDepth)
		}
	default:
		return nil, fmt.Errorf("unsupported WAV format tag: %d", format)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 {
		return nil, errors.New("WAV file declares no channels")
	}

	if format == wavFormatIEEEFloat {
		return deinterleaveFloat32(pcm), nil
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = pcm.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	return deinterleaveInts(pcm, bitDepth), nil
}

func deinterleaveInts(pcm *goaudio.IntBuffer, bitDepth int) *Buffer {
	numChannels := pcm.Format.NumChannels
	frames := len(pcm.Data) / numChannels
	out := NewBuffer(numChannels, frames, pcm.Format.SampleRate)

	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			v := pcm.Data[i*numChannels+c]
			if bitDepth == 8 {
				// 8-bit WAV samples are unsigned.
				v -= 128
			}
			out.Channels[c][i] = float64(v) * scale
		}
	}
	return out
}

// deinterleaveFloat32 recovers float samples from the raw 32-bit words the
// wav decoder hands back as ints.
func deinterleaveFloat32(pcm *goaudio.IntBuffer) *Buffer {
	numChannels := pcm.Format.NumChannels
	frames := len(pcm.Data) / numChannels
	out := NewBuffer(numChannels, frames, pcm.Format.SampleRate)

	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			bits := uint32(int32(pcm.Data[i*numChannels+c]))
			out.Channels[c][i] = float64(math.Float32frombits(bits))
		}
	}
	return out
}

// DecodeMP3 decodes an MP3 stream. go-mp3 always produces 16-bit stereo.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("opening MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decoding MP3 frames: %w", err)
	}

	const numChannels = 2
	frames := len(raw) / (2 * numChannels)
	out := NewBuffer(numChannels, frames, dec.SampleRate())

	const scale = 1.0 / 32768.0
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			off := (i*numChannels + c) * 2
			s := int16(binary.LittleEndian.Uint16(raw[off : off+2]))
			out.Channels[c][i] = float64(s) * scale
		}
	}
	return out, nil
}

// DecodeFile opens path and decodes it with d.
func DecodeFile(ctx context.Context, d Decoder, path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Name: filepath.Base(path), Err: err}
	}
	defer f.Close()
	return d.Decode(ctx, filepath.Base(path), f)
}
