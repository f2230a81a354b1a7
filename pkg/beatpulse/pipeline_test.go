package beatpulse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.FATAL, Output: io.Discard})
}

// fakeDecoder serves pre-built buffers by name.
type fakeDecoder struct {
	tracks map[string]*audio.Buffer
}

func (d *fakeDecoder) Decode(_ context.Context, name string, r io.Reader) (*audio.Buffer, error) {
	io.Copy(io.Discard, r)
	buf, ok := d.tracks[name]
	if !ok {
		return nil, &audio.DecodeError{Name: name, Err: errors.New("unsupported payload")}
	}
	return buf.Clone(), nil
}

// fakeRenderer passes samples through. Renders of buffers registered in gates
// block until the gate is closed, ignoring ctx so late results can be
// produced on purpose.
type fakeRenderer struct {
	mu       sync.Mutex
	gates    map[int]chan struct{} // keyed by buffer length
	failures []error               // returned by successive calls before succeeding
	failAll  atomic.Bool
	calls    atomic.Int32
}

func (r *fakeRenderer) gate(length int) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[int]chan struct{})
	}
	ch := make(chan struct{})
	r.gates[length] = ch
	return ch
}

func (r *fakeRenderer) Render(_ context.Context, buf *audio.Buffer, target audio.RenderTarget) (*audio.Buffer, error) {
	r.calls.Add(1)

	r.mu.Lock()
	gate := r.gates[buf.Len()]
	var failure error
	if len(r.failures) > 0 {
		failure, r.failures = r.failures[0], r.failures[1:]
	}
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if r.failAll.Load() {
		return nil, &audio.RenderError{Renderer: "fake", Err: errors.New("filter graph broke")}
	}
	if failure != nil {
		return nil, failure
	}
	return buf.Remix(target.Channels), nil
}

// beatTrack returns a stereo track with one spike per half second window at
// offset within the window.
func beatTrack(seconds, offset int) *audio.Buffer {
	const rate = 44100
	buf := audio.NewBuffer(2, seconds*rate, rate)
	for start := 0; start+offset < buf.Len(); start += rate / 2 {
		buf.Channels[0][start+offset] = 0.9
	}
	return buf
}

func newTestPipeline(t *testing.T, dec Decoder, r Renderer, opts ...Option) *Pipeline {
	t.Helper()

	opts = append([]Option{
		WithDecoder(dec),
		WithRenderer(r),
		WithLogger(quietLogger()),
		WithTempDir(t.TempDir()),
	}, opts...)

	p, err := NewPipeline(opts...)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func waitSession(t *testing.T, s *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Timed out waiting for analysis of %s", s.Name)
	}
	return err
}

func TestNewPipelineConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		field string
	}{
		{"AutoPlay without player", []Option{WithAutoPlay(true)}, "Player"},
		{"Negative tolerance", []Option{WithTolerance(-1)}, "Tolerance"},
		{"Negative workers", []Option{WithWorkers(-2)}, "Workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.opts...)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}

	p, err := NewPipeline(WithAutoPlay(true), WithPlayer(PlayerFunc(func(context.Context, *Session) error { return nil })))
	if err != nil {
		t.Fatalf("Expected valid configuration, got %v", err)
	}
	p.Close()
}

func TestLoadInstallsPeaks(t *testing.T) {
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"beat.wav": beatTrack(2, 10)}}
	p := newTestPipeline(t, dec, &fakeRenderer{})

	s, err := p.Load(context.Background(), "beat.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := waitSession(t, s); err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}

	a := s.Analysis()
	if a == nil {
		t.Fatal("Expected analysis to be installed")
	}
	if len(a.Peaks) != 4 {
		t.Fatalf("Expected 4 peaks, got %d", len(a.Peaks))
	}
	if a.Tolerance != 441 {
		t.Errorf("Expected default tolerance 441, got %d", a.Tolerance)
	}
	if !a.HasTempo || a.Tempo.Tempo != 120 {
		t.Errorf("Expected dominant tempo 120, got %+v", a.Tempo)
	}

	tests := []struct {
		position int
		want     bool
	}{
		{10, true},
		{22060, true},
		{22060 + 440, true},
		{22060 + 441, false},
		{33000, false},
	}
	for _, tt := range tests {
		if got := p.IsBeatNear(tt.position); got != tt.want {
			t.Errorf("IsBeatNear(%d) = %v, expected %v", tt.position, got, tt.want)
		}
	}

	if p.Current() != s {
		t.Error("Loaded session should be current")
	}
}

func TestIsBeatNearWhileAnalysisPending(t *testing.T) {
	track := beatTrack(1, 0)
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"slow.wav": track}}
	r := &fakeRenderer{}
	gate := r.gate(track.Len())
	p := newTestPipeline(t, dec, r)

	if p.IsBeatNear(0) {
		t.Error("Expected no beats before any track is loaded")
	}

	s, err := p.Load(context.Background(), "slow.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if p.IsBeatNear(0) || s.Ready() || s.Err() != nil {
		t.Error("Expected an empty, error-free session while analysis is pending")
	}

	close(gate)
	if err := waitSession(t, s); err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}
	if !p.IsBeatNear(0) {
		t.Error("Expected beat at 0 once analysis is installed")
	}
}

func TestSupersededAnalysisIsDiscarded(t *testing.T) {
	first := beatTrack(2, 100)
	second := beatTrack(1, 5000)
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"first.wav": first, "second.wav": second}}
	r := &fakeRenderer{}
	gate := r.gate(first.Len())
	p := newTestPipeline(t, dec, r)

	s1, err := p.Load(context.Background(), "first.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load first failed: %v", err)
	}
	s2, err := p.Load(context.Background(), "second.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load second failed: %v", err)
	}
	if s2.Generation <= s1.Generation {
		t.Errorf("Expected increasing generations, got %d then %d", s1.Generation, s2.Generation)
	}

	if err := waitSession(t, s2); err != nil {
		t.Fatalf("Analysis of second track failed: %v", err)
	}

	// The first render finishes after it was replaced.
	close(gate)
	if err := waitSession(t, s1); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Expected ErrSuperseded for the replaced track, got %v", err)
	}

	if s1.Ready() {
		t.Error("Late analysis must not be installed")
	}
	if p.Current() != s2 {
		t.Error("Second session should remain current")
	}
	if p.IsBeatNear(100) {
		t.Error("Peaks of the replaced track leaked into the current session")
	}
	if !p.IsBeatNear(5000) {
		t.Error("Expected beat of the current track at 5000")
	}
}

func TestDecodeErrorKeepsCurrentSession(t *testing.T) {
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"good.wav": beatTrack(1, 0)}}
	p := newTestPipeline(t, dec, &fakeRenderer{})

	good, err := p.Load(context.Background(), "good.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	waitSession(t, good)

	_, err = p.Load(context.Background(), "broken.ogg", bytes.NewReader([]byte("junk")))
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected *DecodeError, got %v", err)
	}

	if p.Current() != good {
		t.Error("Decode failure must not replace the current session")
	}
	if !p.IsBeatNear(0) {
		t.Error("Previous peaks should stay in effect")
	}
}

func TestLoadBufferRejectsMalformedInput(t *testing.T) {
	p := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{})

	bad := &audio.Buffer{Channels: [][]float64{{0, 0}, {0}}, SampleRate: 44100}
	_, err := p.LoadBuffer("bad", bad)
	var decErr *DecodeError
	if !errors.As(err, &decErr) || !errors.Is(err, audio.ErrMismatchedChannels) {
		t.Errorf("Expected DecodeError wrapping ErrMismatchedChannels, got %v", err)
	}
	if p.Current() != nil {
		t.Error("No session should be created for malformed input")
	}
}

func TestRenderRetry(t *testing.T) {
	transient := fmt.Errorf("ffmpeg timed out: %w", ErrTransient)

	tests := []struct {
		name      string
		failures  []error
		wantErr   bool
		wantCalls int32
	}{
		{"Transient failure is retried", []error{transient}, false, 2},
		{"Second transient failure is surfaced", []error{transient, transient}, true, 2},
		{"Permanent failure is not retried", []error{errors.New("bad filter")}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"t.wav": beatTrack(1, 0)}}
			r := &fakeRenderer{failures: tt.failures}
			p := newTestPipeline(t, dec, r)

			s, err := p.Load(context.Background(), "t.wav", bytes.NewReader(nil))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			err = waitSession(t, s)

			if tt.wantErr {
				var renderErr *RenderError
				if !errors.As(err, &renderErr) {
					t.Errorf("Expected *RenderError, got %v", err)
				}
				if s.Ready() {
					t.Error("Failed analysis must not install peaks")
				}
			} else if err != nil {
				t.Errorf("Expected success after retry, got %v", err)
			}

			if got := r.calls.Load(); got != tt.wantCalls {
				t.Errorf("Expected %d render calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestAutoPlayOncePerSession(t *testing.T) {
	played := make(chan *Session, 4)
	player := PlayerFunc(func(_ context.Context, s *Session) error {
		if !s.Ready() {
			return errors.New("played before analysis was installed")
		}
		played <- s
		return nil
	})

	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"t.wav": beatTrack(1, 0)}}
	p := newTestPipeline(t, dec, &fakeRenderer{}, WithAutoPlay(true), WithPlayer(player))

	s, err := p.Load(context.Background(), "t.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	select {
	case got := <-played:
		if got != s {
			t.Error("Player received the wrong session")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Player was never invoked")
	}

	if _, err := p.Reanalyze(context.Background()); err != nil {
		t.Fatalf("Reanalyze failed: %v", err)
	}
	select {
	case <-played:
		t.Error("Player invoked more than once for one session")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReanalyze(t *testing.T) {
	p := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{})
	if _, err := p.Reanalyze(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Expected ErrNoSession, got %v", err)
	}

	r := &fakeRenderer{}
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"t.wav": beatTrack(1, 300)}}
	p = newTestPipeline(t, dec, r)

	s, _ := p.Load(context.Background(), "t.wav", bytes.NewReader(nil))
	if err := waitSession(t, s); err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}
	before := s.Analysis()

	r.failAll.Store(true)
	_, err := p.Reanalyze(context.Background())
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("Expected *RenderError, got %v", err)
	}
	if s.Analysis() != before || !p.IsBeatNear(300) {
		t.Error("Previous peaks must remain after a failed re-analysis")
	}

	r.failAll.Store(false)
	after, err := p.Reanalyze(context.Background())
	if err != nil {
		t.Fatalf("Reanalyze failed: %v", err)
	}
	if s.Analysis() != after {
		t.Error("Expected the new analysis to be installed")
	}
}

func TestReanalyzeUpdatesSessionError(t *testing.T) {
	r := &fakeRenderer{}
	r.failAll.Store(true)
	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{"t.wav": beatTrack(1, 300)}}
	p := newTestPipeline(t, dec, r)

	s, err := p.Load(context.Background(), "t.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var renderErr *RenderError
	if err := waitSession(t, s); !errors.As(err, &renderErr) {
		t.Fatalf("Expected initial *RenderError, got %v", err)
	}
	if !errors.As(s.Err(), &renderErr) {
		t.Fatalf("Expected Err to report the failed analysis, got %v", s.Err())
	}

	r.failAll.Store(false)
	if _, err := p.Reanalyze(context.Background()); err != nil {
		t.Fatalf("Reanalyze failed: %v", err)
	}
	if !s.Ready() || s.Err() != nil {
		t.Errorf("Expected a ready session without error, got ready=%v err=%v", s.Ready(), s.Err())
	}
	if err := waitSession(t, s); !errors.As(err, &renderErr) {
		t.Errorf("Wait must keep reporting the initial outcome, got %v", err)
	}

	r.failAll.Store(true)
	if _, err := p.Reanalyze(context.Background()); err == nil {
		t.Fatal("Expected re-analysis to fail")
	}
	if !s.Ready() || !errors.As(s.Err(), &renderErr) {
		t.Errorf("Expected previous peaks plus the new error, got ready=%v err=%v", s.Ready(), s.Err())
	}
}

func TestAutoPlaySkipsSupersededSession(t *testing.T) {
	var calls atomic.Int32
	var got atomic.Pointer[Session]
	player := PlayerFunc(func(_ context.Context, s *Session) error {
		calls.Add(1)
		got.Store(s)
		return nil
	})

	dec := &fakeDecoder{tracks: map[string]*audio.Buffer{
		"a.wav": beatTrack(1, 0),
		"b.wav": beatTrack(2, 0),
	}}
	p := newTestPipeline(t, dec, &fakeRenderer{}, WithPlayer(player))

	first, err := p.Load(context.Background(), "a.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	waitSession(t, first)
	second, err := p.Load(context.Background(), "b.wav", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	waitSession(t, second)

	p.autoPlay(context.Background(), first)
	if calls.Load() != 0 {
		t.Fatal("Superseded session must not be played")
	}
	if first.played.Load() {
		t.Error("Skipped session must stay unplayed")
	}

	p.autoPlay(context.Background(), second)
	p.autoPlay(context.Background(), second)
	if calls.Load() != 1 || got.Load() != second {
		t.Errorf("Expected exactly one play of the current session, got %d calls", calls.Load())
	}
}

func TestTrackRateTempo(t *testing.T) {
	const rate = 22050
	buf := audio.NewBuffer(2, 2*rate, rate)
	for start := 0; start < buf.Len(); start += rate / 2 {
		buf.Channels[1][start] = 0.5
	}

	ctx := context.Background()

	fixed := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{})
	a, err := fixed.Analyze(ctx, buf)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	// 11025 samples read at 44100 Hz is a quarter second: 240, folded to 120.
	if a.ReferenceRate != 44100 || a.Tempo.Tempo != 120 {
		t.Errorf("Unexpected fixed-rate estimate: ref=%d tempo=%v", a.ReferenceRate, a.Tempo)
	}

	trackRate := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{}, WithTrackRateTempo(true))
	a, err = trackRate.Analyze(ctx, buf)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if a.ReferenceRate != rate || a.Tempo.Tempo != 120 {
		t.Errorf("Unexpected track-rate estimate: ref=%d tempo=%v", a.ReferenceRate, a.Tempo)
	}

	off := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{}, WithEstimateTempo(false))
	a, err = off.Analyze(ctx, buf)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if a.HasTempo || a.Histogram != nil {
		t.Error("Expected no tempo estimate when disabled")
	}
}

func TestLoadFileDefaultStack(t *testing.T) {
	const rate = 44100
	src := audio.NewBuffer(2, 4*rate, rate)
	clicks := []int{}
	for pos := rate / 4; pos < src.Len(); pos += rate / 2 {
		src.Channels[0][pos] = 0.9
		src.Channels[1][pos] = 0.9
		clicks = append(clicks, pos)
	}

	path := filepath.Join(t.TempDir(), "clicks.wav")
	if err := audio.WriteWAVFile(path, src); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	p, err := NewPipeline(WithLogger(quietLogger()), WithTempDir(t.TempDir()), WithWorkers(4))
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	defer p.Close()

	s, err := p.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := waitSession(t, s); err != nil {
		t.Fatalf("Analysis failed: %v", err)
	}

	a := s.Analysis()
	if len(a.Peaks) != len(clicks) {
		t.Fatalf("Expected %d peaks, got %d", len(clicks), len(a.Peaks))
	}
	for i, click := range clicks {
		if !p.IsBeatNear(click) {
			t.Errorf("Expected a beat near click %d at %d (peak at %d)", i, click, a.Peaks[i].Position)
		}
	}
	if a.Tempo.Tempo != 120 {
		t.Errorf("Expected 120 BPM, got %v", a.Tempo)
	}

	if _, err := p.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestClosedPipeline(t *testing.T) {
	p := newTestPipeline(t, &fakeDecoder{}, &fakeRenderer{})
	p.Close()

	if _, err := p.LoadBuffer("x", beatTrack(1, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
