package transcript

import (
	"math"
	"sort"
)

// Store is the immutable set of filtered transcripts. It is built once and
// then read concurrently without locking.
type Store struct {
	transcripts []Transcript
	bounds      Bounds

	// byX holds store indices ordered by (x, index) for range queries.
	byX []int
}

// NewStore takes ownership of ts and computes its bounds. Bounds are rounded
// outward to whole microns.
func NewStore(ts []Transcript) *Store {
	s := &Store{transcripts: ts}
	if len(ts) == 0 {
		return s
	}

	minX, maxX := ts[0].X, ts[0].X
	minY, maxY := ts[0].Y, ts[0].Y
	for _, t := range ts[1:] {
		minX = math.Min(minX, t.X)
		maxX = math.Max(maxX, t.X)
		minY = math.Min(minY, t.Y)
		maxY = math.Max(maxY, t.Y)
	}
	s.bounds = Bounds{
		MinX: math.Floor(minX),
		MaxX: math.Ceil(maxX),
		MinY: math.Floor(minY),
		MaxY: math.Ceil(maxY),
	}

	s.byX = make([]int, len(ts))
	for i := range s.byX {
		s.byX[i] = i
	}
	sort.Slice(s.byX, func(a, b int) bool {
		ia, ib := s.byX[a], s.byX[b]
		if ts[ia].X != ts[ib].X {
			return ts[ia].X < ts[ib].X
		}
		return ia < ib
	})
	return s
}

// Len returns the number of transcripts.
func (s *Store) Len() int { return len(s.transcripts) }

// Bounds returns the rounded extent of all transcripts.
func (s *Store) Bounds() Bounds { return s.bounds }

// At returns the transcript at index i.
func (s *Store) At(i int) *Transcript { return &s.transcripts[i] }

// Within returns the ascending indices of transcripts inside b. Intervals are
// half-open [min, max), except that an upper edge at or beyond the store's
// maximum is inclusive so points on the outer edge are never lost.
func (s *Store) Within(b Bounds) []int {
	if len(s.transcripts) == 0 {
		return nil
	}
	closeX := b.MaxX >= s.bounds.MaxX
	closeY := b.MaxY >= s.bounds.MaxY

	start := sort.Search(len(s.byX), func(k int) bool {
		return s.transcripts[s.byX[k]].X >= b.MinX
	})

	var out []int
	for _, i := range s.byX[start:] {
		t := &s.transcripts[i]
		if t.X > b.MaxX || (t.X == b.MaxX && !closeX) {
			break
		}
		if t.Y < b.MinY || t.Y > b.MaxY || (t.Y == b.MaxY && !closeY) {
			continue
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
