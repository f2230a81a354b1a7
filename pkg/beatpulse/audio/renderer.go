package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// RenderTarget describes the buffer a Renderer must produce.
type RenderTarget struct {
	SampleRate int
	Channels   int
}

// Renderer runs the offline low-pass -> high-pass chain over a decoded
// buffer. The returned buffer has the same duration as the input.
type Renderer interface {
	Render(ctx context.Context, buf *Buffer, target RenderTarget) (*Buffer, error)
}

// FilterConfig sets the corner frequencies of the analysis chain. The
// defaults match an untouched browser BiquadFilterNode: 350 Hz, Q 1.
type FilterConfig struct {
	LowPassHz  float64
	HighPassHz float64
	Q          float64
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{LowPassHz: 350, HighPassHz: 350, Q: 1}
}

func (c FilterConfig) withDefaults() FilterConfig {
	def := DefaultFilterConfig()
	if c.LowPassHz <= 0 {
		c.LowPassHz = def.LowPassHz
	}
	if c.HighPassHz <= 0 {
		c.HighPassHz = def.HighPassHz
	}
	if c.Q <= 0 {
		c.Q = def.Q
	}
	return c
}

// renderBlockSize bounds how many samples are filtered between
// cancellation checks.
const renderBlockSize = 1 << 16

// BiquadRenderer filters in-process with a cascade of RBJ biquads.
type BiquadRenderer struct {
	Filter FilterConfig
}

func NewBiquadRenderer(cfg FilterConfig) *BiquadRenderer {
	return &BiquadRenderer{Filter: cfg.withDefaults()}
}

func (r *BiquadRenderer) Render(ctx context.Context, buf *Buffer, target RenderTarget) (*Buffer, error) {
	const name = "biquad"
	if err := checkRenderInput(buf, target); err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}

	cfg := r.Filter.withDefaults()
	rate := float64(buf.SampleRate)
	coeffs := []biquad.Coefficients{
		design.Lowpass(cfg.LowPassHz, cfg.Q, rate),
		design.Highpass(cfg.HighPassHz, cfg.Q, rate),
	}

	out := buf.Remix(target.Channels)
	for _, ch := range out.Channels {
		chain := biquad.NewChain(coeffs)
		for start := 0; start < len(ch); start += renderBlockSize {
			if err := ctx.Err(); err != nil {
				return nil, &RenderError{Renderer: name, Err: err}
			}
			end := min(start+renderBlockSize, len(ch))
			chain.ProcessBlock(ch[start:end])
		}
	}
	return out, nil
}

// FFmpegRenderer delegates filtering to ffmpeg's lowpass/highpass filters.
// Timeouts are reported as transient so the caller may retry.
type FFmpegRenderer struct {
	Filter  FilterConfig
	TempDir string
}

func (r *FFmpegRenderer) Render(ctx context.Context, buf *Buffer, target RenderTarget) (*Buffer, error) {
	const name = "ffmpeg"
	if err := checkRenderInput(buf, target); err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}

	cfg := r.Filter.withDefaults()
	tempDir := r.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	workDir, err := os.MkdirTemp(tempDir, "beatpulse-render-*")
	if err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "source.wav")
	if err := WriteWAVFile(srcPath, buf.Remix(target.Channels)); err != nil {
		return nil, &RenderError{Renderer: name, Err: fmt.Errorf("writing source: %w", err)}
	}

	outPath, err := ConvertToWAV(ctx, srcPath, filepath.Join(workDir, "out"), ConvertWAVConfig{
		SampleRate: target.SampleRate,
		Channels:   target.Channels,
		Filters: []string{
			fmt.Sprintf("lowpass=f=%g:width_type=q:w=%g", cfg.LowPassHz, cfg.Q),
			fmt.Sprintf("highpass=f=%g:width_type=q:w=%g", cfg.HighPassHz, cfg.Q),
		},
	})
	if err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}

	f, err := os.Open(outPath)
	if err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}
	defer f.Close()

	out, err := DecodeWAV(f)
	if err != nil {
		return nil, &RenderError{Renderer: name, Err: err}
	}
	return out, nil
}

func checkRenderInput(buf *Buffer, target RenderTarget) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if target.Channels <= 0 {
		return errors.New("target channel count must be positive")
	}
	if target.SampleRate != buf.SampleRate {
		return fmt.Errorf("resampling is not supported: source %d Hz, target %d Hz", buf.SampleRate, target.SampleRate)
	}
	return nil
}
