// Package matcher answers "is the playback position on a beat?" against an
// immutable peak list.
package matcher

import (
	"sort"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
)

// DefaultWindow is the default matching tolerance.
const DefaultWindow = 10 * time.Millisecond

// Matcher is immutable after New and safe for concurrent use. A nil
// *Matcher reports no beats.
type Matcher struct {
	peaks     []peaks.Peak
	positions []int // sorted copy of peak positions
	tolerance int
}

// DefaultTolerance converts DefaultWindow into samples at sampleRate.
func DefaultTolerance(sampleRate int) int {
	return ToleranceFor(sampleRate, DefaultWindow)
}

// ToleranceFor converts window into samples at sampleRate.
func ToleranceFor(sampleRate int, window time.Duration) int {
	if sampleRate <= 0 || window <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(window) / int64(time.Second))
}

// New copies list and returns a matcher using tolerance samples. A
// non-positive tolerance never matches.
func New(list []peaks.Peak, tolerance int) *Matcher {
	m := &Matcher{
		peaks:     make([]peaks.Peak, len(list)),
		positions: peaks.Positions(list),
		tolerance: tolerance,
	}
	copy(m.peaks, list)
	if !sort.IntsAreSorted(m.positions) {
		sort.Ints(m.positions)
	}
	return m
}

// IsBeatNear reports whether some peak lies strictly less than the tolerance
// away from position.
func (m *Matcher) IsBeatNear(position int) bool {
	if m == nil || len(m.positions) == 0 || m.tolerance <= 0 {
		return false
	}

	// First peak at or after position; the nearest peak is it or its
	// predecessor.
	i := sort.SearchInts(m.positions, position)
	if i < len(m.positions) && within(m.positions[i], position, m.tolerance) {
		return true
	}
	return i > 0 && within(m.positions[i-1], position, m.tolerance)
}

// within computes |a-b| < tol without overflowing for extreme ints.
func within(a, b, tol int) bool {
	if a >= b {
		return uint(a)-uint(b) < uint(tol)
	}
	return uint(b)-uint(a) < uint(tol)
}

// Peaks returns a copy of the installed peak list.
func (m *Matcher) Peaks() []peaks.Peak {
	if m == nil {
		return nil
	}
	out := make([]peaks.Peak, len(m.peaks))
	copy(out, m.peaks)
	return out
}

// Tolerance returns the matching tolerance in samples.
func (m *Matcher) Tolerance() int {
	if m == nil {
		return 0
	}
	return m.tolerance
}

// Len returns the number of peaks.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.peaks)
}
