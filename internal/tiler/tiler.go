// Package tiler partitions a transcript store into overlapping tiles.
//
// The store extent is cut into a regular grid of core cells anchored at the
// minimum corner. Each cell is widened by the overlap band, and widened again
// by the same step while it holds fewer transcripts than the density floor.
package tiler

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

// Options controls tile geometry and the worker pool.
type Options struct {
	Width          float64
	Height         float64
	Overlap        float64
	MinTranscripts int
	Threads        int // 0 = all CPUs
}

// Cell is one core grid cell.
type Cell struct {
	Col, Row int
	Core     transcript.Bounds
}

// Tile is a realized tile: its core cell, the bounds actually queried and the
// store indices (ascending) that fall inside them.
type Tile struct {
	Col, Row   int
	Core       transcript.Bounds
	Bounds     transcript.Bounds
	Indices    []int
	Expansions int
	// Saturated is set when the bounds reached the store extent; such a tile
	// may hold fewer than MinTranscripts.
	Saturated bool
}

// Count returns the number of transcripts in the tile.
func (t *Tile) Count() int { return len(t.Indices) }

// Tiler computes tiles over a read-only store.
type Tiler struct {
	store *transcript.Store
	opts  Options
	cells []Cell
	cols  int
	rows  int
}

// New validates opts and lays out the core grid over store.
func New(store *transcript.Store, opts Options) (*Tiler, error) {
	if store == nil {
		return nil, errors.New("nil transcript store")
	}
	if !finite(opts.Width) || !finite(opts.Height) || opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid tile size %gx%g", opts.Width, opts.Height)
	}
	if !finite(opts.Overlap) || opts.Overlap < 0 {
		return nil, fmt.Errorf("invalid overlap %g", opts.Overlap)
	}
	if opts.Overlap == 0 && opts.MinTranscripts > 0 {
		return nil, fmt.Errorf("zero overlap cannot grow tiles to %d transcripts", opts.MinTranscripts)
	}
	if g := store.Bounds(); !finite(g.MinX) || !finite(g.MaxX) || !finite(g.MinY) || !finite(g.MaxY) {
		return nil, fmt.Errorf("non-finite store bounds %s", g)
	}
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}

	t := &Tiler{store: store, opts: opts}
	t.layout()
	return t, nil
}

// layout cuts the store bounds into core cells. The last row and column are
// clamped to the extent, never stretched.
func (t *Tiler) layout() {
	g := t.store.Bounds()
	xs := axisSpans(g.MinX, g.MaxX, t.opts.Width)
	ys := axisSpans(g.MinY, g.MaxY, t.opts.Height)
	t.cols, t.rows = len(xs), len(ys)

	t.cells = make([]Cell, 0, t.cols*t.rows)
	for r, y := range ys {
		for c, x := range xs {
			t.cells = append(t.cells, Cell{
				Col: c,
				Row: r,
				Core: transcript.Bounds{
					MinX: x[0], MaxX: x[1],
					MinY: y[0], MaxY: y[1],
				},
			})
		}
	}
}

// axisSpans returns ceil((hi-lo)/step) spans covering [lo, hi], at least one.
func axisSpans(lo, hi, step float64) [][2]float64 {
	var spans [][2]float64
	for i := 0; ; i++ {
		start := lo + float64(i)*step
		if i > 0 && start >= hi {
			break
		}
		end := lo + float64(i+1)*step
		if end >= hi {
			spans = append(spans, [2]float64{start, hi})
			break
		}
		spans = append(spans, [2]float64{start, end})
	}
	return spans
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Cells returns the core grid in row-major order.
func (t *Tiler) Cells() []Cell { return t.cells }

// Dims returns the grid size.
func (t *Tiler) Dims() (cols, rows int) { return t.cols, t.rows }

// Compute realizes one cell: overlap band first, then widening by Overlap
// until MinTranscripts is met or the bounds cover the store extent. A step
// too small to move the bounds at their magnitude also stops the loop.
func (t *Tiler) Compute(c Cell) Tile {
	extent := t.store.Bounds()
	b := c.Core.Expand(t.opts.Overlap).Clip(extent)
	idx := t.store.Within(b)

	tile := Tile{Col: c.Col, Row: c.Row, Core: c.Core}
	for len(idx) < t.opts.MinTranscripts && !b.Covers(extent) {
		next := b.Expand(t.opts.Overlap).Clip(extent)
		if next == b {
			break
		}
		b = next
		idx = t.store.Within(b)
		tile.Expansions++
	}

	tile.Bounds = b
	tile.Indices = idx
	tile.Saturated = b.Covers(extent)
	return tile
}
