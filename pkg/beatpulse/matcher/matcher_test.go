package matcher

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
)

func peaksAt(positions ...int) []peaks.Peak {
	out := make([]peaks.Peak, len(positions))
	for i, p := range positions {
		out[i] = peaks.Peak{Position: p, Volume: 0.5}
	}
	return out
}

// linearScan is the reference decision.
func linearScan(list []peaks.Peak, position, tolerance int) bool {
	for _, p := range list {
		d := p.Position - position
		if d < 0 {
			d = -d
		}
		if d < tolerance {
			return true
		}
	}
	return false
}

func TestDefaultTolerance(t *testing.T) {
	tests := []struct {
		rate, want int
	}{
		{44100, 441},
		{48000, 480},
		{22050, 220},
		{0, 0},
		{-1, 0},
	}

	for _, tt := range tests {
		if got := DefaultTolerance(tt.rate); got != tt.want {
			t.Errorf("DefaultTolerance(%d) = %d, expected %d", tt.rate, got, tt.want)
		}
	}

	if got := ToleranceFor(44100, 20*time.Millisecond); got != 882 {
		t.Errorf("ToleranceFor(44100, 20ms) = %d, expected 882", got)
	}
}

func TestIsBeatNearBoundaries(t *testing.T) {
	m := New(peaksAt(1000, 22060, 44100), 441)

	tests := []struct {
		name     string
		position int
		want     bool
	}{
		{"Exact hit", 22060, true},
		{"Just inside before", 22060 - 440, true},
		{"Just inside after", 22060 + 440, true},
		{"Boundary before is excluded", 22060 - 441, false},
		{"Boundary after is excluded", 22060 + 441, false},
		{"Between peaks", 30000, false},
		{"Before the first peak", 600, true},
		{"Negative position", -5000, false},
		{"After the last peak", 44540, true},
		{"Far beyond the track", math.MaxInt, false},
		{"Far before the track", math.MinInt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.IsBeatNear(tt.position); got != tt.want {
				t.Errorf("IsBeatNear(%d) = %v, expected %v", tt.position, got, tt.want)
			}
		})
	}
}

func TestIsBeatNearEmpty(t *testing.T) {
	var nilMatcher *Matcher
	empty := New(nil, 441)
	zeroTolerance := New(peaksAt(100), 0)

	for _, pos := range []int{0, 100, -1, math.MaxInt} {
		if nilMatcher.IsBeatNear(pos) || empty.IsBeatNear(pos) || zeroTolerance.IsBeatNear(pos) {
			t.Errorf("Expected false at %d for empty matchers", pos)
		}
	}

	if nilMatcher.Len() != 0 || nilMatcher.Tolerance() != 0 || nilMatcher.Peaks() != nil {
		t.Error("Expected zero values from a nil matcher")
	}
}

func TestIsBeatNearMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(30)
		positions := make([]int, n)
		for i := range positions {
			positions[i] = rng.Intn(200000)
		}
		list := peaksAt(positions...)
		tolerance := rng.Intn(2000)
		m := New(list, tolerance)

		for q := 0; q < 100; q++ {
			pos := rng.Intn(220000) - 10000
			if got, want := m.IsBeatNear(pos), linearScan(list, pos, tolerance); got != want {
				t.Fatalf("Trial %d: IsBeatNear(%d) = %v, linear scan says %v (tolerance %d, peaks %v)",
					trial, pos, got, want, tolerance, positions)
			}
		}
	}
}

func TestNewCopiesInput(t *testing.T) {
	list := peaksAt(10, 20)
	m := New(list, 5)
	list[0].Position = 500

	if !m.IsBeatNear(10) {
		t.Error("Matcher must not observe mutations of the source list")
	}

	got := m.Peaks()
	got[1].Position = 900
	if !m.IsBeatNear(20) {
		t.Error("Peaks() must return a copy")
	}
	if m.Len() != 2 || m.Tolerance() != 5 {
		t.Errorf("Unexpected Len/Tolerance: %d/%d", m.Len(), m.Tolerance())
	}
}

func TestIsBeatNearConcurrent(t *testing.T) {
	m := New(peaksAt(0, 22050, 44100, 66150), 441)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for pos := offset; pos < 70000; pos += 97 {
				m.IsBeatNear(pos)
			}
		}(g)
	}
	wg.Wait()
}

func TestIsBeatNearDoesNotAllocate(t *testing.T) {
	m := New(peaksAt(0, 22050, 44100), 441)
	allocs := testing.AllocsPerRun(100, func() {
		m.IsBeatNear(22100)
	})
	if allocs != 0 {
		t.Errorf("Expected no allocations per query, got %v", allocs)
	}
}
