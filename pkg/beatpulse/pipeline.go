// Package beatpulse loads a track, analyses it for beat candidates in the
// background and answers per-tick "on beat?" queries against the current
// track.
package beatpulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/matcher"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/tempo"
	"github.com/himanishpuri/BeatPulse/pkg/logger"
)

// RenderChannels is the channel count requested from the renderer.
const RenderChannels = 2

type Pipeline struct {
	config *Config
	log    Logger

	generation atomic.Uint64
	current    atomic.Pointer[Session]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewPipeline(opts ...Option) (*Pipeline, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger().Named("pipeline")
	}
	if cfg.Decoder == nil {
		cfg.Decoder = &audio.FileDecoder{TempDir: cfg.TempDir}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = audio.NewBiquadRenderer(cfg.Filter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		config: cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Load decodes r and makes it the current track. Analysis continues in the
// background; use Session.Wait to block on it. A decode failure leaves the
// current track untouched.
func (p *Pipeline) Load(ctx context.Context, name string, r io.Reader) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	buf, err := p.config.Decoder.Decode(ctx, name, r)
	if err != nil {
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			err = &DecodeError{Name: name, Err: err}
		}
		return nil, err
	}

	return p.LoadBuffer(name, buf)
}

// LoadFile opens path and calls Load.
func (p *Pipeline) LoadFile(ctx context.Context, path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Name: path, Err: err}
	}
	defer f.Close()

	return p.Load(ctx, filepath.Base(path), f)
}

// LoadBuffer makes an already decoded track current and starts analysing it.
func (p *Pipeline) LoadBuffer(name string, buf *audio.Buffer) (*Session, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if buf == nil {
		return nil, &DecodeError{Name: name, Err: errors.New("decoder returned no samples")}
	}
	if err := buf.Validate(); err != nil {
		return nil, &DecodeError{Name: name, Err: err}
	}

	s := newSession(uuid.NewString(), p.generation.Add(1), name, buf)
	ctx, cancel := context.WithCancel(p.ctx)
	s.cancel = cancel

	if prev := p.current.Swap(s); prev != nil {
		prev.stop()
	}
	p.log.Infof("Loaded %s (session %s, generation %d, %d Hz, %d channels, %s)",
		name, s.ID, s.Generation, buf.SampleRate, buf.NumChannels(), buf.Duration().Round(time.Millisecond))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.runAnalysis(ctx, s)
	}()

	return s, nil
}

func (p *Pipeline) runAnalysis(ctx context.Context, s *Session) {
	a, err := p.analyze(ctx, s.buffer)
	if err != nil {
		if !p.isCurrent(s) {
			p.log.Debugf("Dropping analysis error for superseded session %s: %v", s.ID, err)
			s.finish(ErrSuperseded)
			return
		}
		p.log.Errorf("Analysis of %s failed: %v", s.Name, err)
		s.finish(err)
		return
	}

	if !p.isCurrent(s) {
		p.log.Infof("Discarding late analysis for superseded session %s", s.ID)
		s.finish(ErrSuperseded)
		return
	}

	s.install(a)
	p.logAnalysis(s, a)
	s.finish(nil)

	if p.config.AutoPlay {
		p.autoPlay(ctx, s)
	}
}

// autoPlay starts the player at most once per session, and only while s is
// still the current track.
func (p *Pipeline) autoPlay(ctx context.Context, s *Session) {
	if !p.isCurrent(s) {
		p.log.Debugf("Skipping auto-play of superseded session %s", s.ID)
		return
	}
	if !s.played.CompareAndSwap(false, true) {
		return
	}
	if err := p.config.Player.Play(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Errorf("Auto-play of %s failed: %v", s.Name, err)
	}
}

// Analyze renders buf and extracts its peaks without touching the current
// session.
func (p *Pipeline) Analyze(ctx context.Context, buf *audio.Buffer) (*Analysis, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	return p.analyze(ctx, buf)
}

func (p *Pipeline) analyze(ctx context.Context, buf *audio.Buffer) (*Analysis, error) {
	start := time.Now()

	rendered, err := p.render(ctx, buf)
	if err != nil {
		return nil, err
	}

	list, err := peaks.Extractor{Workers: p.config.Workers}.Extract(rendered)
	if err != nil {
		return nil, &RenderError{Renderer: "output", Err: fmt.Errorf("extracting peaks: %w", err)}
	}

	tolerance := p.config.Tolerance
	if tolerance == 0 {
		tolerance = matcher.DefaultTolerance(rendered.SampleRate)
	}

	a := &Analysis{
		Peaks:      list,
		SampleRate: rendered.SampleRate,
		Tolerance:  tolerance,
		matcher:    matcher.New(list, tolerance),
	}

	if p.config.EstimateTempo {
		a.ReferenceRate = tempo.DefaultReferenceRate
		if p.config.TrackRateTempo {
			a.ReferenceRate = rendered.SampleRate
		}
		a.Histogram = tempo.EstimateWithRate(list, a.ReferenceRate)
		a.Candidates = a.Histogram.Candidates()
		a.Tempo, a.HasTempo = a.Histogram.Dominant()
	}

	a.Elapsed = time.Since(start)
	return a, nil
}

// render retries once when the renderer reports a transient failure.
func (p *Pipeline) render(ctx context.Context, buf *audio.Buffer) (*audio.Buffer, error) {
	target := audio.RenderTarget{SampleRate: buf.SampleRate, Channels: RenderChannels}

	out, err := p.config.Renderer.Render(ctx, buf, target)
	if err != nil && audio.IsTransient(err) && ctx.Err() == nil {
		p.log.Warnf("Render failed, retrying once: %v", err)
		out, err = p.config.Renderer.Render(ctx, buf, target)
	}
	if err != nil {
		var renderErr *RenderError
		if !errors.As(err, &renderErr) {
			err = &RenderError{Renderer: fmt.Sprintf("%T", p.config.Renderer), Err: err}
		}
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) logAnalysis(s *Session, a *Analysis) {
	p.log.Infof("Installed %d peaks for %s in %s", len(a.Peaks), s.Name, a.Elapsed.Round(time.Millisecond))
	if !a.HasTempo {
		return
	}
	p.log.Infof("Estimated tempo %.0f BPM (%d votes)", a.Tempo.Tempo, a.Tempo.Count)
	for _, c := range a.Histogram.Top(5) {
		p.log.Debugf("  candidate %.0f BPM: %d", c.Tempo, c.Count)
	}
}

func (p *Pipeline) isCurrent(s *Session) bool {
	return p.generation.Load() == s.Generation
}

// Current returns the current session, or nil before the first load.
func (p *Pipeline) Current() *Session {
	return p.current.Load()
}

// IsBeatNear checks position against the current track. It is false when
// no track is loaded or analysis is still pending.
func (p *Pipeline) IsBeatNear(position int) bool {
	return p.current.Load().IsBeatNear(position)
}

// Reanalyze renders the current track again and installs the new peaks. On
// failure the previous peaks stay in effect.
func (p *Pipeline) Reanalyze(ctx context.Context) (*Analysis, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	s := p.current.Load()
	if s == nil {
		return nil, ErrNoSession
	}

	a, err := p.analyze(ctx, s.buffer)
	if !p.isCurrent(s) {
		return nil, ErrSuperseded
	}
	if err != nil {
		p.log.Warnf("Re-analysis of %s failed, keeping previous peaks: %v", s.Name, err)
		s.record(err)
		return nil, err
	}

	s.install(a)
	s.record(nil)
	p.logAnalysis(s, a)
	return a, nil
}

// Close stops background analysis and waits for it to return.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.wg.Wait()
	return nil
}
