package beatpulse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/audio"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/matcher"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/tempo"
)

// Analysis is the immutable result of one render and peak pass.
type Analysis struct {
	Peaks      []peaks.Peak      `json:"peaks"`
	Histogram  tempo.Histogram   `json:"-"`
	Candidates []tempo.Candidate `json:"tempo_candidates,omitempty"`
	Tempo      tempo.Candidate   `json:"tempo"`
	HasTempo   bool              `json:"has_tempo"`

	SampleRate    int           `json:"sample_rate"`
	ReferenceRate int           `json:"reference_rate"`
	Tolerance     int           `json:"tolerance"`
	Elapsed       time.Duration `json:"elapsed"`

	matcher *matcher.Matcher
}

// IsBeatNear reports whether position lies within the tolerance of a peak.
// A nil Analysis reports no beats.
func (a *Analysis) IsBeatNear(position int) bool {
	if a == nil {
		return false
	}
	return a.matcher.IsBeatNear(position)
}

// Session is one loaded track. It is replaced wholesale when another track
// is loaded.
type Session struct {
	ID         string
	Generation uint64
	Name       string
	LoadedAt   time.Time

	buffer   *audio.Buffer
	analysis atomic.Pointer[Analysis]

	cancel  context.CancelFunc
	done    chan struct{}
	errOnce sync.Once
	err     error
	latest  atomic.Pointer[outcome]
	played  atomic.Bool
}

type outcome struct {
	err error
}

func newSession(id string, generation uint64, name string, buf *audio.Buffer) *Session {
	return &Session{
		ID:         id,
		Generation: generation,
		Name:       name,
		LoadedAt:   time.Now(),
		buffer:     buf,
		done:       make(chan struct{}),
	}
}

// finish records the outcome of the initial analysis. Only the first call
// has an effect.
func (s *Session) finish(err error) {
	s.errOnce.Do(func() {
		s.err = err
		s.latest.Store(&outcome{err: err})
		close(s.done)
	})
}

// record replaces the outcome reported by Err once the initial analysis has
// finished.
func (s *Session) record(err error) {
	select {
	case <-s.done:
		s.latest.Store(&outcome{err: err})
	default:
	}
}

// Wait blocks until the initial analysis has finished or ctx is done and
// returns that analysis' error.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the initial analysis has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error of the most recent analysis or re-analysis, or nil
// while the initial analysis is pending.
func (s *Session) Err() error {
	select {
	case <-s.done:
		if o := s.latest.Load(); o != nil {
			return o.err
		}
		return s.err
	default:
		return nil
	}
}

// Ready reports whether a peak list is installed.
func (s *Session) Ready() bool {
	return s.analysis.Load() != nil
}

// Analysis returns the installed analysis, or nil while pending.
func (s *Session) Analysis() *Analysis {
	return s.analysis.Load()
}

// IsBeatNear is false until analysis has been installed.
func (s *Session) IsBeatNear(position int) bool {
	if s == nil {
		return false
	}
	return s.analysis.Load().IsBeatNear(position)
}

// Buffer returns the decoded, unfiltered track.
func (s *Session) Buffer() *audio.Buffer {
	return s.buffer
}

func (s *Session) SampleRate() int {
	return s.buffer.SampleRate
}

func (s *Session) Duration() time.Duration {
	return s.buffer.Duration()
}

func (s *Session) install(a *Analysis) {
	s.analysis.Store(a)
}

func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}
