package xenium

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

type csvReader struct {
	path   string
	file   *os.File
	stream io.ReadCloser // decompressor, nil for plain CSV
	csv    *csv.Reader
	cols   columnIndex
	row    int
	done   bool
}

func openCSV(path string) (*csvReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InputFormatError{Path: path, Err: err}
	}

	r := &csvReader{path: path, file: f}
	var src io.Reader = bufio.NewReaderSize(f, 1<<20)

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(src)
		if err != nil {
			f.Close()
			return nil, &InputFormatError{Path: path, Err: fmt.Errorf("failed to open gzip stream: %w", err)}
		}
		r.stream = gz
		src = gz
	case strings.HasSuffix(lower, ".zst"):
		dec, err := zstd.NewReader(src)
		if err != nil {
			f.Close()
			return nil, &InputFormatError{Path: path, Err: fmt.Errorf("failed to create zstd decoder: %w", err)}
		}
		r.stream = dec.IOReadCloser()
		src = r.stream
	}

	r.csv = csv.NewReader(src)
	r.csv.ReuseRecord = true

	header, err := r.csv.Read()
	if err != nil {
		r.Close()
		return nil, &InputFormatError{Path: path, Err: fmt.Errorf("failed to read header: %w", err)}
	}
	pos := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		pos[name] = i
	}
	r.cols, err = resolveColumns(path, func(name string) (int, bool) {
		i, ok := pos[name]
		return i, ok
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *csvReader) ReadBatch(n int) ([]transcript.Record, error) {
	if r.done {
		return nil, io.EOF
	}
	out := make([]transcript.Record, 0, n)
	for len(out) < n {
		fields, err := r.csv.Read()
		if err == io.EOF {
			r.done = true
			break
		}
		r.row++
		if err != nil {
			return nil, &InputFormatError{Path: r.path, Row: r.row, Err: err}
		}
		rec, err := r.parse(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (r *csvReader) parse(fields []string) (transcript.Record, error) {
	rec := transcript.Record{Row: r.row}
	var err error

	float := func(col int, name string) float64 {
		if err != nil {
			return 0
		}
		v, perr := strconv.ParseFloat(strings.TrimSpace(fields[col]), 64)
		switch {
		case perr != nil:
			err = &InputFormatError{Path: r.path, Row: r.row, Column: name, Err: perr}
		case math.IsNaN(v) || math.IsInf(v, 0):
			err = &InputFormatError{Path: r.path, Row: r.row, Column: name, Err: errNonFinite}
		}
		return v
	}
	rec.X = float(r.cols.x, ColX)
	rec.Y = float(r.cols.y, ColY)
	rec.Z = float(r.cols.z, ColZ)
	rec.QV = float(r.cols.qv, ColQV)
	if err != nil {
		return rec, err
	}

	rec.CellCode = unwrapBytesLiteral(fields[r.cols.cellID])
	rec.FeatureName = unwrapBytesLiteral(fields[r.cols.feature])
	if r.cols.transcriptID >= 0 {
		rec.TranscriptID = fields[r.cols.transcriptID]
	}
	if r.cols.nucleus >= 0 {
		raw := strings.TrimSpace(fields[r.cols.nucleus])
		if raw != "" {
			in, perr := strconv.ParseBool(raw)
			if perr != nil {
				return rec, &InputFormatError{Path: r.path, Row: r.row, Column: ColNucleus, Err: perr}
			}
			rec.InNucleus = in
		}
	}
	return rec, nil
}

func (r *csvReader) Close() error {
	if r.stream != nil {
		r.stream.Close()
	}
	return r.file.Close()
}
