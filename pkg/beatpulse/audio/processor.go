package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/utils"
)

// FFmpegPath is the binary used for conversion and filtering. It can be
// overridden with the FFMPEG_PATH environment variable.
var FFmpegPath = "ffmpeg"

func init() {
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		FFmpegPath = p
	}
}

// FFmpegAvailable reports whether the ffmpeg binary can be found.
func FFmpegAvailable() bool {
	_, err := exec.LookPath(FFmpegPath)
	return err == nil
}

type ConvertWAVConfig struct {
	SampleRate int      // 0 keeps the source rate
	Channels   int      // 0 keeps the source layout
	Filters    []string // ffmpeg -af filter chain, applied in order
	Timeout    time.Duration
}

// ConvertToWAV converts an audio file to 16-bit PCM WAV and saves it to
// outputDir under the input's base name with a .wav extension.
func ConvertToWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, baseName+".wav")
	if outputPath == inputPath {
		outputPath = filepath.Join(outputDir, baseName+".converted.wav")
	}

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	args := []string{"-y", "-v", "quiet", "-i", inputPath}
	if cfg.Channels > 0 {
		args = append(args, "-ac", fmt.Sprintf("%d", cfg.Channels))
	}
	if cfg.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", cfg.SampleRate))
	}
	if len(cfg.Filters) > 0 {
		args = append(args, "-af", strings.Join(cfg.Filters, ","))
	}
	args = append(args, "-c:a", "pcm_s16le", tmpPath)

	cmd := exec.CommandContext(ctx, FFmpegPath, args...)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return "", fmt.Errorf("ffmpeg timed out: %w", errors.Join(ErrTransient, ctxErr))
			}
			return "", ctxErr
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}
