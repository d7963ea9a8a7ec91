package xenium

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

type parquetReader struct {
	path string
	file *os.File
	rows *parquet.Reader
	cols columnIndex
	buf  []parquet.Row
	row  int
	done bool
}

func openParquet(path string) (*parquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InputFormatError{Path: path, Err: err}
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &InputFormatError{Path: path, Err: err}
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		f.Close()
		return nil, &InputFormatError{Path: path, Err: fmt.Errorf("failed to open parquet file: %w", err)}
	}
	schema := pf.Schema()
	cols, err := resolveColumns(path, func(name string) (int, bool) {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return 0, false
		}
		return leaf.ColumnIndex, true
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	return &parquetReader{
		path: path,
		file: f,
		rows: parquet.NewReader(pf),
		cols: cols,
	}, nil
}

func (r *parquetReader) ReadBatch(n int) ([]transcript.Record, error) {
	if r.done {
		return nil, io.EOF
	}
	if cap(r.buf) < n {
		r.buf = make([]parquet.Row, n)
	}
	buf := r.buf[:n]

	got, err := r.rows.ReadRows(buf)
	if err != nil && err != io.EOF {
		return nil, &InputFormatError{Path: r.path, Row: r.row + 1, Err: err}
	}
	if err == io.EOF {
		r.done = true
	}

	out := make([]transcript.Record, 0, got)
	for _, row := range buf[:got] {
		r.row++
		rec, perr := r.parse(row)
		if perr != nil {
			return nil, perr
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		r.done = true
		return nil, io.EOF
	}
	return out, nil
}

func (r *parquetReader) parse(row parquet.Row) (transcript.Record, error) {
	rec := transcript.Record{Row: r.row}
	for _, v := range row {
		var err error
		switch v.Column() {
		case r.cols.x:
			rec.X, err = valueFloat(v)
		case r.cols.y:
			rec.Y, err = valueFloat(v)
		case r.cols.z:
			rec.Z, err = valueFloat(v)
		case r.cols.qv:
			rec.QV, err = valueFloat(v)
		case r.cols.cellID:
			rec.CellCode = valueString(v)
		case r.cols.feature:
			rec.FeatureName = valueString(v)
		case r.cols.transcriptID:
			rec.TranscriptID = valueUnsigned(v)
		case r.cols.nucleus:
			rec.InNucleus, err = valueBool(v)
		}
		if err != nil {
			return rec, &InputFormatError{Path: r.path, Row: r.row, Column: r.columnName(v.Column()), Err: err}
		}
	}
	return rec, nil
}

func (r *parquetReader) columnName(i int) string {
	switch i {
	case r.cols.x:
		return ColX
	case r.cols.y:
		return ColY
	case r.cols.z:
		return ColZ
	case r.cols.qv:
		return ColQV
	case r.cols.nucleus:
		return ColNucleus
	}
	return ""
}

func valueFloat(v parquet.Value) (float64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("null value")
	}
	var f float64
	switch v.Kind() {
	case parquet.Float:
		f = float64(v.Float())
	case parquet.Double:
		f = v.Double()
	case parquet.Int32:
		f = float64(v.Int32())
	case parquet.Int64:
		f = float64(v.Int64())
	default:
		return 0, fmt.Errorf("unsupported numeric kind %s", v.Kind())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNonFinite
	}
	return f, nil
}

func valueString(v parquet.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	case parquet.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case parquet.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return v.String()
	}
}

// valueUnsigned formats transcript ids, which Xenium stores as uint64 in an
// INT64 column.
func valueUnsigned(v parquet.Value) string {
	if !v.IsNull() && v.Kind() == parquet.Int64 {
		return strconv.FormatUint(v.Uint64(), 10)
	}
	return valueString(v)
}

func valueBool(v parquet.Value) (bool, error) {
	if v.IsNull() {
		return false, nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean(), nil
	case parquet.Int32:
		return v.Int32() != 0, nil
	case parquet.Int64:
		return v.Int64() != 0, nil
	case parquet.ByteArray:
		return strconv.ParseBool(string(v.ByteArray()))
	default:
		return false, fmt.Errorf("unsupported boolean kind %s", v.Kind())
	}
}

func (r *parquetReader) Close() error {
	r.rows.Close()
	return r.file.Close()
}
