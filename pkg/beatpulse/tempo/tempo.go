// Package tempo turns a peak list into a histogram of tempo candidates.
//
// Every peak is paired with up to MaxLookahead following peaks. The sample
// distance of each pair is converted into beats per minute, folded into the
// octave [MinBPM, MaxBPM) and rounded, and the rounded value receives one vote.
package tempo

import (
	"math"
	"sort"

	"github.com/himanishpuri/BeatPulse/pkg/beatpulse/peaks"
)

const (
	// DefaultReferenceRate is the sample rate assumed when converting peak
	// distances into BPM. It does not follow the analysed track's rate.
	DefaultReferenceRate = 44100

	// MaxLookahead is how many following peaks each peak is paired with.
	MaxLookahead = 9

	MinBPM = 90.0
	MaxBPM = 180.0
)

// Candidate is one histogram bucket.
type Candidate struct {
	Tempo float64 `json:"tempo"`
	Count int     `json:"count"`
}

// Histogram maps a rounded BPM to its vote count.
type Histogram map[int]int

// Estimate builds the tempo histogram for list using DefaultReferenceRate.
func Estimate(list []peaks.Peak) Histogram {
	return EstimateWithRate(list, DefaultReferenceRate)
}

// EstimateWithRate builds the tempo histogram for list, converting sample
// distances with referenceRate. A non-positive rate yields an empty histogram.
func EstimateWithRate(list []peaks.Peak, referenceRate int) Histogram {
	h := make(Histogram)
	if referenceRate <= 0 {
		return h
	}

	for i := range list {
		for k := 1; k <= MaxLookahead && i+k < len(list); k++ {
			distance := list[i+k].Position - list[i].Position
			if distance <= 0 {
				continue
			}
			raw := 60 * float64(referenceRate) / float64(distance)
			h[int(math.Round(Normalize(raw)))]++
		}
	}
	return h
}

// Normalize folds raw into [MinBPM, MaxBPM) by powers of two. Non-finite or
// non-positive values are returned unchanged.
func Normalize(raw float64) float64 {
	if raw <= 0 || math.IsInf(raw, 0) || math.IsNaN(raw) {
		return raw
	}
	for raw < MinBPM {
		raw *= 2
	}
	for raw >= MaxBPM {
		raw /= 2
	}
	return raw
}

// Len returns the number of distinct candidates.
func (h Histogram) Len() int {
	return len(h)
}

// Total returns the number of votes cast.
func (h Histogram) Total() int {
	total := 0
	for _, c := range h {
		total += c
	}
	return total
}

// Candidates returns every bucket ordered by descending count, then
// ascending tempo.
func (h Histogram) Candidates() []Candidate {
	out := make([]Candidate, 0, len(h))
	for bpm, count := range h {
		out = append(out, Candidate{Tempo: float64(bpm), Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tempo < out[j].Tempo
	})
	return out
}

// Top returns at most n candidates in Candidates order.
func (h Histogram) Top(n int) []Candidate {
	all := h.Candidates()
	if n < 0 || n >= len(all) {
		return all
	}
	return all[:n]
}

// Dominant returns the most voted candidate. Equal counts resolve to the
// lower tempo. ok is false for an empty histogram.
func (h Histogram) Dominant() (c Candidate, ok bool) {
	for bpm, count := range h {
		tempo := float64(bpm)
		if !ok || count > c.Count || (count == c.Count && tempo < c.Tempo) {
			c = Candidate{Tempo: tempo, Count: count}
			ok = true
		}
	}
	return c, ok
}
