package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/clock"
)

// terminalPlayer walks the track with a wall clock and prints a beat
// indicator. No audio is produced.
type terminalPlayer struct {
	out       io.Writer
	blockSize int

	beats    atomic.Int64
	finished chan struct{}
	once     sync.Once
}

func newTerminalPlayer(out io.Writer, blockSize int) *terminalPlayer {
	return &terminalPlayer{
		out:       out,
		blockSize: blockSize,
		finished:  make(chan struct{}),
	}
}

func (p *terminalPlayer) Play(ctx context.Context, s *beatpulse.Session) error {
	defer p.once.Do(func() { close(p.finished) })

	c := clock.NewWallClock(s.SampleRate(), p.blockSize, s.Duration())
	onBeat := false

	return clock.Run(ctx, c, func(tick clock.Tick) {
		beat := s.IsBeatNear(tick.Position)
		if beat && !onBeat {
			p.beats.Add(1)
		}
		onBeat = beat

		indicator := "  ·  "
		if beat {
			indicator = "█BEAT█"
		}
		fmt.Fprintf(p.out, "\r%s  %s / %s  %-6s", indicator,
			tick.Elapsed.Round(100*time.Millisecond),
			s.Duration().Round(time.Second),
			fmt.Sprintf("#%d", p.beats.Load()))
	})
}

// Finished is closed after the first Play returns.
func (p *terminalPlayer) Finished() <-chan struct{} {
	return p.finished
}

// Beats returns how many distinct beats were shown.
func (p *terminalPlayer) Beats() int64 {
	return p.beats.Load()
}
