package beatpulse

import (
	"os"
	"runtime"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
)

// EnvTempDir overrides the default directory for intermediate files.
const EnvTempDir = "BEATPULSE_TEMP_DIR"

type Config struct {
	TempDir  string
	AutoPlay bool
	Player   Player
	Decoder  Decoder
	Renderer Renderer
	Filter   audio.FilterConfig
	Logger   Logger

	// Tolerance is the beat window in samples. Zero means 10ms at the
	// track's sample rate.
	Tolerance int

	EstimateTempo bool
	// TrackRateTempo converts peak distances with the track's sample rate
	// instead of tempo.DefaultReferenceRate.
	TrackRateTempo bool

	// Workers is the number of goroutines used for peak extraction.
	Workers int
}

type Option func(*Config)

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithAutoPlay(enabled bool) Option {
	return func(c *Config) {
		c.AutoPlay = enabled
	}
}

func WithPlayer(p Player) Option {
	return func(c *Config) {
		c.Player = p
	}
}

func WithDecoder(d Decoder) Option {
	return func(c *Config) {
		c.Decoder = d
	}
}

func WithRenderer(r Renderer) Option {
	return func(c *Config) {
		c.Renderer = r
	}
}

// WithFilter sets the filter used by the default renderer.
func WithFilter(f audio.FilterConfig) Option {
	return func(c *Config) {
		c.Filter = f
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithTolerance(samples int) Option {
	return func(c *Config) {
		c.Tolerance = samples
	}
}

func WithEstimateTempo(enabled bool) Option {
	return func(c *Config) {
		c.EstimateTempo = enabled
	}
}

func WithTrackRateTempo(enabled bool) Option {
	return func(c *Config) {
		c.TrackRateTempo = enabled
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func defaultConfig() *Config {
	tempDir := os.Getenv(EnvTempDir)
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Config{
		TempDir:       tempDir,
		Filter:        audio.DefaultFilterConfig(),
		EstimateTempo: true,
		Workers:       runtime.NumCPU(),
	}
}

func (c *Config) validate() error {
	if c.AutoPlay && c.Player == nil {
		return &ConfigurationError{Field: "Player", Reason: "auto-play requires a player"}
	}
	if c.Tolerance < 0 {
		return &ConfigurationError{Field: "Tolerance", Reason: "must not be negative"}
	}
	if c.Workers < 0 {
		return &ConfigurationError{Field: "Workers", Reason: "must not be negative"}
	}
	return nil
}
