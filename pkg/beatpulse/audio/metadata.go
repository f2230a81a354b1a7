package audio

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// FFprobePath is the binary used by ReadMetadataFFmpeg.
var FFprobePath = "ffprobe"

func init() {
	if p := os.Getenv("FFPROBE_PATH"); p != "" {
		FFprobePath = p
	}
}

type Metadata struct {
	Filename    string
	Title       string
	Artist      string
	Album       string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
}

type ffprobeOutput struct {
	Format struct {
		Filename string            `json:"filename"`
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *ffprobeOutput) firstAudioStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// parseFFprobe converts raw `ffprobe -print_format json` output into Metadata.
func parseFFprobe(path string, out []byte) (*Metadata, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, err
	}

	audioStream := probe.firstAudioStream()
	if audioStream == nil {
		return nil, errors.New("no audio stream found")
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(audioStream.SampleRate)

	meta := &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    audioStream.Channels,
		BitDepth:    audioStream.BitsPerSample,
		Format:      probe.Format.Format,
	}

	// Tag keys differ in case between containers.
	for k, v := range probe.Format.Tags {
		switch k {
		case "title", "TITLE", "Title":
			meta.Title = v
		case "artist", "ARTIST", "Artist":
			meta.Artist = v
		case "album", "ALBUM", "Album":
			meta.Album = v
		}
	}

	return meta, nil
}

// ReadMetadataFFmpeg probes path with ffprobe.
func ReadMetadataFFmpeg(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return parseFFprobe(path, out)
}

// MetadataFromBuffer fills what can be derived from decoded samples alone.
func MetadataFromBuffer(path string, buf *Buffer) *Metadata {
	return &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: buf.Duration().Seconds(),
		SampleRate:  buf.SampleRate,
		Channels:    buf.NumChannels(),
		Format:      DetectFormat(path, nil).String(),
	}
}
