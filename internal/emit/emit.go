// Package emit writes tiles to CSV files named after their realized bounds.
package emit

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

// Header is the column layout of every tile file.
var Header = []string{
	"transcript_id",
	"cell_id",
	"overlaps_nucleus",
	"feature_name",
	"x_location",
	"y_location",
	"z_location",
	"qv",
}

// IOError reports a failure to create or write an output file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FileName returns
// X{minx}-{maxx}_Y{miny}-{maxy}_filtered_transcripts_nucleus_only_{bool}.csv
// for the given realized bounds.
func FileName(b transcript.Bounds, nucleusOnly bool) string {
	return fmt.Sprintf("X%s-%s_Y%s-%s_filtered_transcripts_nucleus_only_%t.csv",
		formatNumber(b.MinX), formatNumber(b.MaxX),
		formatNumber(b.MinY), formatNumber(b.MaxY),
		nucleusOnly)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Config contains writer configuration.
type Config struct {
	Dir         string
	NucleusOnly bool
	Zstd        bool
}

// Result describes one written tile file.
type Result struct {
	Path   string
	Rows   int
	Bytes  int64
	SHA256 string
}

// Writer writes tile files into one directory. Safe for concurrent use as
// long as each call targets a distinct tile.
type Writer struct {
	cfg Config
}

// NewWriter creates the output directory if needed.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, &IOError{Op: "create directory", Path: cfg.Dir, Err: err}
	}
	return &Writer{cfg: cfg}, nil
}

// PathFor returns the output path of a tile with bounds b.
func (w *Writer) PathFor(b transcript.Bounds) string {
	name := FileName(b, w.cfg.NucleusOnly)
	if w.cfg.Zstd {
		name += ".zst"
	}
	return filepath.Join(w.cfg.Dir, name)
}

// WriteTile writes the transcripts at indices (already ascending) to the file
// named by bounds. The file appears under its final name only once complete.
func (w *Writer) WriteTile(store *transcript.Store, bounds transcript.Bounds, indices []int) (Result, error) {
	path := w.PathFor(bounds)

	tmp, err := os.CreateTemp(w.cfg.Dir, ".tile-*.tmp")
	if err != nil {
		return Result{}, &IOError{Op: "create", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	sum := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(tmp, sum)}
	bw := bufio.NewWriterSize(counter, 1<<20)

	var out io.Writer = bw
	var enc *zstd.Encoder
	if w.cfg.Zstd {
		enc, err = zstd.NewWriter(bw)
		if err != nil {
			cleanup()
			return Result{}, &IOError{Op: "compress", Path: path, Err: err}
		}
		out = enc
	}

	if err := WriteCSV(out, store, indices); err != nil {
		cleanup()
		return Result{}, &IOError{Op: "write", Path: path, Err: err}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			cleanup()
			return Result{}, &IOError{Op: "compress", Path: path, Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return Result{}, &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{}, &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Result{}, &IOError{Op: "rename", Path: path, Err: err}
	}

	return Result{
		Path:   path,
		Rows:   len(indices),
		Bytes:  counter.n,
		SHA256: hexSum(sum),
	}, nil
}

// WriteCSV writes the header and one row per index.
func WriteCSV(out io.Writer, store *transcript.Store, indices []int) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(Header); err != nil {
		return err
	}
	row := make([]string, len(Header))
	for _, i := range indices {
		t := store.At(i)
		row[0] = t.TranscriptID
		row[1] = strconv.FormatUint(uint64(t.CellID), 10)
		row[2] = "0"
		if t.InNucleus {
			row[2] = "1"
		}
		row[3] = t.FeatureName
		row[4] = formatNumber(t.X)
		row[5] = formatNumber(t.Y)
		row[6] = formatNumber(t.Z)
		row[7] = formatNumber(t.QV)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
