package xenium

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

const sampleCSV = `"transcript_id","cell_id","overlaps_nucleus","feature_name","x_location","y_location","z_location","qv"
281474976710656,"ffkpbaba-1",1,"EPCAM",10.5,20.25,12.1,40.0
281474976710657,"UNASSIGNED",0,"NegControlProbe_00042",11,21,13,39.5
281474976710658,"aaaaaaab-1",0,"b'ACTB'",4000,4000.75,14,18.2
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func readAll(t *testing.T, path string) []transcript.Record {
	t.Helper()
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	recs, err := ReadAll(r, 2)
	require.NoError(t, err)
	return recs
}

func assertSample(t *testing.T, recs []transcript.Record) {
	t.Helper()
	require.Len(t, recs, 3)

	assert.Equal(t, transcript.Record{
		TranscriptID: "281474976710656",
		CellCode:     "ffkpbaba-1",
		InNucleus:    true,
		FeatureName:  "EPCAM",
		X:            10.5,
		Y:            20.25,
		Z:            12.1,
		QV:           40,
		Row:          1,
	}, recs[0])
	assert.Equal(t, "UNASSIGNED", recs[1].CellCode)
	assert.False(t, recs[1].InNucleus)
	assert.Equal(t, "ACTB", recs[2].FeatureName)
	assert.Equal(t, 3, recs[2].Row)
	assert.Equal(t, 4000.75, recs[2].Y)
}

func TestOpen_CSV(t *testing.T) {
	assertSample(t, readAll(t, writeFile(t, "transcripts.csv", []byte(sampleCSV))))
}

func TestOpen_CSVGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assertSample(t, readAll(t, writeFile(t, "transcripts.csv.gz", buf.Bytes())))
}

func TestOpen_CSVZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write([]byte(sampleCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assertSample(t, readAll(t, writeFile(t, "transcripts.csv.zst", buf.Bytes())))
}

func TestOpen_CSVWithoutOptionalColumns(t *testing.T) {
	data := "cell_id,feature_name,x_location,y_location,z_location,qv\n12,GENE,1,2,3,30\n"
	recs := readAll(t, writeFile(t, "t.csv", []byte(data)))
	require.Len(t, recs, 1)
	assert.False(t, recs[0].InNucleus)
	assert.Empty(t, recs[0].TranscriptID)
	assert.Equal(t, "12", recs[0].CellCode)
}

func TestOpen_MissingColumn(t *testing.T) {
	data := "cell_id,feature_name,x_location,y_location,z_location\n1,GENE,1,2,3\n"
	_, err := Open(writeFile(t, "t.csv", []byte(data)))

	var ife *InputFormatError
	require.True(t, errors.As(err, &ife))
	assert.Equal(t, ColQV, ife.Column)
}

func TestOpen_UnknownExtension(t *testing.T) {
	r, err := Open(writeFile(t, "t.tsv", []byte("x")))
	assert.Nil(t, r)
	var ife *InputFormatError
	assert.ErrorAs(t, err, &ife)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.csv"))
	var ife *InputFormatError
	assert.ErrorAs(t, err, &ife)
}

func TestReadBatch_BadNumber(t *testing.T) {
	data := "cell_id,feature_name,x_location,y_location,z_location,qv\n1,GENE,1,2,3,30\n1,GENE,abc,2,3,30\n"
	r, err := Open(writeFile(t, "t.csv", []byte(data)))
	require.NoError(t, err)
	defer r.Close()

	_, err = ReadAll(r, 10)
	var ife *InputFormatError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, 2, ife.Row)
	assert.Equal(t, ColX, ife.Column)
}

func TestReadBatch_NonFinite(t *testing.T) {
	tests := []struct {
		name   string
		row    string
		column string
	}{
		{"nan x", "1,GENE,nan,2,3,30", ColX},
		{"NaN y", "1,GENE,1,NaN,3,30", ColY},
		{"inf z", "1,GENE,1,2,inf,30", ColZ},
		{"negative infinity x", "1,GENE,-Inf,2,3,30", ColX},
		{"infinite qv", "1,GENE,1,2,3,+Infinity", ColQV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := "cell_id,feature_name,x_location,y_location,z_location,qv\n1,GENE,1,2,3,30\n" + tt.row + "\n"
			r, err := Open(writeFile(t, "t.csv", []byte(data)))
			require.NoError(t, err)
			defer r.Close()

			_, err = ReadAll(r, 10)
			var ife *InputFormatError
			require.ErrorAs(t, err, &ife)
			assert.Equal(t, 2, ife.Row)
			assert.Equal(t, tt.column, ife.Column)
			assert.ErrorIs(t, err, errNonFinite)
		})
	}
}

func TestReadBatch_BadNucleusFlag(t *testing.T) {
	data := "cell_id,overlaps_nucleus,feature_name,x_location,y_location,z_location,qv\n1,maybe,GENE,1,2,3,30\n"
	r, err := Open(writeFile(t, "t.csv", []byte(data)))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadBatch(10)
	var ife *InputFormatError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, ColNucleus, ife.Column)
}

func TestReadBatch_EOF(t *testing.T) {
	r, err := Open(writeFile(t, "t.csv", []byte(sampleCSV)))
	require.NoError(t, err)
	defer r.Close()

	recs, err := r.ReadBatch(3)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	recs, err = r.ReadBatch(3)
	assert.Nil(t, recs)
	assert.Equal(t, io.EOF, err)
}

type parquetRow struct {
	TranscriptID    uint64  `parquet:"transcript_id"`
	CellID          string  `parquet:"cell_id"`
	OverlapsNucleus int32   `parquet:"overlaps_nucleus"`
	FeatureName     string  `parquet:"feature_name"`
	X               float32 `parquet:"x_location"`
	Y               float32 `parquet:"y_location"`
	Z               float32 `parquet:"z_location"`
	QV              float32 `parquet:"qv"`
}

func TestOpen_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.parquet")
	rows := []parquetRow{
		{TranscriptID: 281474976710656, CellID: "ffkpbaba-1", OverlapsNucleus: 1, FeatureName: "EPCAM", X: 10.5, Y: 20.25, Z: 12, QV: 40},
		{TranscriptID: 281474976710657, CellID: "UNASSIGNED", OverlapsNucleus: 0, FeatureName: "BLANK_0001", X: 11, Y: 21, Z: 13, QV: 39.5},
		{TranscriptID: 281474976710658, CellID: "aaaaaaab-1", OverlapsNucleus: 0, FeatureName: "ACTB", X: 4000, Y: 4000.75, Z: 14, QV: 18.25},
	}
	require.NoError(t, parquet.WriteFile(path, rows))

	recs := readAll(t, path)
	require.Len(t, recs, 3)
	assert.Equal(t, transcript.Record{
		TranscriptID: "281474976710656",
		CellCode:     "ffkpbaba-1",
		InNucleus:    true,
		FeatureName:  "EPCAM",
		X:            10.5,
		Y:            20.25,
		Z:            12,
		QV:           40,
		Row:          1,
	}, recs[0])
	assert.Equal(t, "BLANK_0001", recs[1].FeatureName)
	assert.Equal(t, 4000.75, recs[2].Y)
	assert.Equal(t, 18.25, recs[2].QV)
	assert.Equal(t, 3, recs[2].Row)
}

func TestOpen_ParquetMissingColumn(t *testing.T) {
	type partial struct {
		CellID string  `parquet:"cell_id"`
		X      float32 `parquet:"x_location"`
	}
	path := filepath.Join(t.TempDir(), "partial.parquet")
	require.NoError(t, parquet.WriteFile(path, []partial{{CellID: "1", X: 1}}))

	_, err := Open(path)
	var ife *InputFormatError
	require.ErrorAs(t, err, &ife)
	assert.NotEmpty(t, ife.Column)
}

func TestUnwrapBytesLiteral(t *testing.T) {
	assert.Equal(t, "ACTB", unwrapBytesLiteral("b'ACTB'"))
	assert.Equal(t, "ACTB", unwrapBytesLiteral(`b"ACTB"`))
	assert.Equal(t, "b'ACTB", unwrapBytesLiteral("b'ACTB"))
	assert.Equal(t, "bACTB", unwrapBytesLiteral("bACTB"))
}

func TestOpen_ParquetIntegerCellIDs(t *testing.T) {
	type intRow struct {
		TranscriptID uint64  `parquet:"transcript_id"`
		CellID       int64   `parquet:"cell_id"`
		FeatureName  string  `parquet:"feature_name"`
		X            float64 `parquet:"x_location"`
		Y            float64 `parquet:"y_location"`
		Z            float64 `parquet:"z_location"`
		QV           float64 `parquet:"qv"`
	}
	path := filepath.Join(t.TempDir(), "ids.parquet")
	require.NoError(t, parquet.WriteFile(path, []intRow{
		{TranscriptID: math.MaxUint64, CellID: -1, FeatureName: "EPCAM", X: 1, Y: 2, Z: 3, QV: 30},
		{TranscriptID: 7, CellID: 42, FeatureName: "ACTB", X: 4, Y: 5, Z: 6, QV: 30},
	}))

	recs := readAll(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "-1", recs[0].CellCode)
	assert.Equal(t, "18446744073709551615", recs[0].TranscriptID)
	assert.Equal(t, "42", recs[1].CellCode)
	assert.Equal(t, "7", recs[1].TranscriptID)
}

func TestReadBatch_ParquetNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.parquet")
	require.NoError(t, parquet.WriteFile(path, []parquetRow{
		{CellID: "UNASSIGNED", FeatureName: "EPCAM", X: 1, Y: 2, Z: 3, QV: 30},
		{CellID: "UNASSIGNED", FeatureName: "EPCAM", X: float32(math.NaN()), Y: 2, Z: 3, QV: 30},
		{CellID: "UNASSIGNED", FeatureName: "EPCAM", X: 1, Y: 2, Z: 3, QV: float32(math.Inf(1))},
	}))
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = ReadAll(r, 1)
	var ife *InputFormatError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, 2, ife.Row)
	assert.Equal(t, ColX, ife.Column)
	assert.ErrorIs(t, err, errNonFinite)
}
