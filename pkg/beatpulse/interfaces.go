package beatpulse

import (
	"context"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
)

type Decoder = audio.Decoder

type Renderer = audio.Renderer

// Player starts playback of an analysed session. It is called at most once
// per session when auto-play is enabled.
type Player interface {
	Play(ctx context.Context, s *Session) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, s *Session) error

func (f PlayerFunc) Play(ctx context.Context, s *Session) error { return f(ctx, s) }

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
