// Package clock drives per-block playback ticks expressed as sample positions.
package clock

import (
	"context"
	"errors"
	"time"
)

// DefaultBlockSize matches a typical audio callback of 1024 frames.
const DefaultBlockSize = 1024

// Tick is one playback callback.
type Tick struct {
	Position int           // samples since playback started
	Elapsed  time.Duration // wall time since playback started
}

// Clock produces ticks until playback ends or ctx is done. The channel is
// closed when no more ticks will be sent.
type Clock interface {
	Ticks(ctx context.Context) <-chan Tick
}

// WallClock derives positions from elapsed wall time.
type WallClock struct {
	SampleRate int
	Interval   time.Duration // time between ticks; defaults to one DefaultBlockSize block
	Duration   time.Duration // stop after this much playback; zero runs until ctx ends

	now func() time.Time
}

// NewWallClock returns a clock ticking once per blockSize frames.
func NewWallClock(sampleRate, blockSize int, duration time.Duration) *WallClock {
	return &WallClock{
		SampleRate: sampleRate,
		Interval:   BlockInterval(blockSize, sampleRate),
		Duration:   duration,
	}
}

// BlockInterval returns the wall time covered by blockSize frames.
func BlockInterval(blockSize, sampleRate int) time.Duration {
	if blockSize <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(blockSize) * int64(time.Second) / int64(sampleRate))
}

// PositionAt converts elapsed wall time into a sample position.
func PositionAt(elapsed time.Duration, sampleRate int) int {
	if elapsed <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(elapsed) * int64(sampleRate) / int64(time.Second))
}

// Ticks starts the clock. The first tick is at position zero.
func (c *WallClock) Ticks(ctx context.Context) <-chan Tick {
	out := make(chan Tick)

	interval := c.Interval
	if interval <= 0 {
		interval = BlockInterval(DefaultBlockSize, c.SampleRate)
	}
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	now := c.now
	if now == nil {
		now = time.Now
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		start := now()
		elapsed := time.Duration(0)
		for {
			if c.Duration > 0 && elapsed >= c.Duration {
				return
			}

			select {
			case out <- Tick{Position: PositionAt(elapsed, c.SampleRate), Elapsed: elapsed}:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
				elapsed = now().Sub(start)
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Run calls fn for every tick from c. It returns nil when the clock ends on
// its own and ctx.Err() when cancelled.
func Run(ctx context.Context, c Clock, fn func(Tick)) error {
	if c == nil {
		return errors.New("nil clock")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for tick := range c.Ticks(ctx) {
		fn(tick)
	}
	return ctx.Err()
}
