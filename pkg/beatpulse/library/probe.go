//go:build !js && !wasm
// +build !js,!wasm

package library

import (
	"context"
	"fmt"
	"math"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
)

// Describe builds a TrackInput for path. ffprobe is tried first; when it is
// missing or fails, the file is decoded with dec and the stream layout is
// read from the samples. Title and artist override probed tags when set.
func Describe(ctx context.Context, path, title, artist string, dec audio.Decoder) (TrackInput, error) {
	meta, err := audio.ReadMetadataFFmpeg(ctx, path)
	if err != nil {
		if dec == nil {
			dec = &audio.FileDecoder{}
		}
		buf, decErr := audio.DecodeFile(ctx, dec, path)
		if decErr != nil {
			return TrackInput{}, fmt.Errorf("describing %s: %w", path, decErr)
		}
		meta = audio.MetadataFromBuffer(path, buf)
	}

	in := InputFromMetadata(path, meta)
	if title != "" {
		in.Title = title
	}
	if artist != "" {
		in.Artist = artist
	}
	return in, nil
}

// InputFromMetadata converts probed metadata into a TrackInput.
func InputFromMetadata(path string, meta *audio.Metadata) TrackInput {
	in := TrackInput{Path: path}
	if meta == nil {
		return in
	}
	in.Title = meta.Title
	in.Artist = meta.Artist
	in.SampleRate = meta.SampleRate
	in.Channels = meta.Channels
	in.DurationMs = int(math.Round(meta.DurationSec * 1000))
	return in
}
