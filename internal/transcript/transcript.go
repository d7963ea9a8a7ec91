// Package transcript holds the transcript records, the filter pipeline and
// the immutable in-memory store queried by the tiler.
package transcript

import (
	"fmt"
	"math"
)

// Record is one row of a Xenium transcripts table, as read from disk.
type Record struct {
	TranscriptID string
	CellCode     string
	InNucleus    bool
	FeatureName  string
	X, Y, Z      float64
	QV           float64

	// Row is the 1-based data row in the source table.
	Row int
}

// Transcript is a filtered record with its decoded cell id.
// CellID is 0 iff the transcript is not assigned to a cell.
type Transcript struct {
	Record
	CellID uint32
}

// Bounds represents coordinate bounds in microns.
type Bounds struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Width returns MaxX - MinX.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns MaxY - MinY.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Expand grows b by d on all four sides.
func (b Bounds) Expand(d float64) Bounds {
	return Bounds{MinX: b.MinX - d, MaxX: b.MaxX + d, MinY: b.MinY - d, MaxY: b.MaxY + d}
}

// Clip returns the intersection of b and outer.
func (b Bounds) Clip(outer Bounds) Bounds {
	return Bounds{
		MinX: math.Max(b.MinX, outer.MinX),
		MaxX: math.Min(b.MaxX, outer.MaxX),
		MinY: math.Max(b.MinY, outer.MinY),
		MaxY: math.Min(b.MaxY, outer.MaxY),
	}
}

// Covers reports whether b contains all of inner.
func (b Bounds) Covers(inner Bounds) bool {
	return b.MinX <= inner.MinX && b.MaxX >= inner.MaxX &&
		b.MinY <= inner.MinY && b.MaxY >= inner.MaxY
}

func (b Bounds) String() string {
	return fmt.Sprintf("x=[%g, %g] y=[%g, %g]", b.MinX, b.MaxX, b.MinY, b.MaxY)
}

// RowError attaches the source row to a per-row failure.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }
