// Package xenium reads Xenium transcripts tables (CSV, gzip or zstd
// compressed CSV, and Parquet) into transcript records.
package xenium

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

// Column names of the transcripts table.
const (
	ColTranscriptID = "transcript_id"
	ColCellID       = "cell_id"
	ColNucleus      = "overlaps_nucleus"
	ColFeature      = "feature_name"
	ColX            = "x_location"
	ColY            = "y_location"
	ColZ            = "z_location"
	ColQV           = "qv"
)

// RequiredColumns must be present in every input table.
var RequiredColumns = []string{ColCellID, ColFeature, ColX, ColY, ColZ, ColQV}

// Reader yields batches of records. ReadBatch returns io.EOF once the table
// is exhausted; it never returns records together with an error.
type Reader interface {
	ReadBatch(n int) ([]transcript.Record, error)
	Close() error
}

// InputFormatError reports an unreadable table, a missing column or a row
// that cannot be parsed.
type InputFormatError struct {
	Path   string
	Row    int
	Column string
	Err    error
}

func (e *InputFormatError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "input %s", e.Path)
	if e.Row > 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " column %q", e.Column)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *InputFormatError) Unwrap() error { return e.Err }

var errNonFinite = errors.New("non-finite value")

// Open picks a reader from the file extension.
func Open(path string) (Reader, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".parquet"):
		r, err := openParquet(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case strings.HasSuffix(lower, ".csv"),
		strings.HasSuffix(lower, ".csv.gz"),
		strings.HasSuffix(lower, ".csv.zst"):
		r, err := openCSV(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, &InputFormatError{Path: path, Err: fmt.Errorf("input file should be either CSV or Parquet")}
	}
}

// ReadAll drains r into a single slice.
func ReadAll(r Reader, batch int) ([]transcript.Record, error) {
	var all []transcript.Record
	for {
		recs, err := r.ReadBatch(batch)
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
}

// columnIndex maps required and optional column names to positions. Optional
// columns that are absent map to -1.
type columnIndex struct {
	transcriptID, cellID, nucleus, feature, x, y, z, qv int
}

func resolveColumns(path string, lookup func(name string) (int, bool)) (columnIndex, error) {
	for _, name := range RequiredColumns {
		if _, ok := lookup(name); !ok {
			return columnIndex{}, &InputFormatError{Path: path, Column: name, Err: fmt.Errorf("missing required column")}
		}
	}
	get := func(name string) int {
		if i, ok := lookup(name); ok {
			return i
		}
		return -1
	}
	return columnIndex{
		transcriptID: get(ColTranscriptID),
		cellID:       get(ColCellID),
		nucleus:      get(ColNucleus),
		feature:      get(ColFeature),
		x:            get(ColX),
		y:            get(ColY),
		z:            get(ColZ),
		qv:           get(ColQV),
	}, nil
}

// unwrapBytesLiteral turns b'GENE' (a Python bytes repr some exports write)
// into GENE.
func unwrapBytesLiteral(s string) string {
	if len(s) >= 3 && s[0] == 'b' && (s[1] == '\'' || s[1] == '"') && s[len(s)-1] == s[1] {
		return s[2 : len(s)-1]
	}
	return s
}
