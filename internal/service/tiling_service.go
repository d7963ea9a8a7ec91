// Package service runs the tiling pipeline: read, filter, tile, emit.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soma-tiles/xenium-tiler/internal/cache"
	"github.com/soma-tiles/xenium-tiler/internal/config"
	"github.com/soma-tiles/xenium-tiler/internal/data/xenium"
	"github.com/soma-tiles/xenium-tiler/internal/emit"
	"github.com/soma-tiles/xenium-tiler/internal/manifest"
	"github.com/soma-tiles/xenium-tiler/internal/render"
	"github.com/soma-tiles/xenium-tiler/internal/tiler"
	"github.com/soma-tiles/xenium-tiler/internal/transcript"
)

// ParamsFileName is the resolved configuration dump inside the output directory.
const ParamsFileName = "params.yaml"

// Summary describes a finished run.
type Summary struct {
	RunID        string
	Read         int
	Kept         int
	Bounds       transcript.Bounds
	Tiles        int
	Rows         int
	Bytes        int64
	Files        []string
	ParamsPath   string
	ManifestPath string
	PreviewPath  string
	Elapsed      time.Duration
}

// TilingService owns one configured run.
type TilingService struct {
	cfg     *config.Config
	logger  *slog.Logger
	filter  transcript.Filter
	cells   *cache.CellIDs
	threads int
}

// NewTilingService validates cfg and prepares the decode cache.
func NewTilingService(cfg *config.Config, logger *slog.Logger) (*TilingService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cells, err := cache.NewCellIDs(cache.Config{Size: cfg.Runtime.CellCacheSize})
	if err != nil {
		return nil, err
	}

	threads := cfg.Runtime.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	return &TilingService{
		cfg:    cfg,
		logger: logger,
		filter: transcript.Filter{
			MinQV:           cfg.Filter.MinQV,
			ExcludePrefixes: cfg.Filter.ExcludeGenes,
			NucleusOnly:     cfg.Filter.NucleusOnly,
		},
		cells:   cells,
		threads: threads,
	}, nil
}

// Run executes the whole pipeline.
func (s *TilingService) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}

	r, err := xenium.Open(s.cfg.Input.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	s.logger.Info("reading transcripts",
		"path", s.cfg.Input.Path,
		"threads", s.threads,
		"batch_size", s.cfg.Runtime.BatchSize,
	)
	store, read, err := s.LoadStore(ctx, r)
	if err != nil {
		return nil, err
	}
	sum.Read = read
	sum.Kept = store.Len()
	sum.Bounds = store.Bounds()

	s.logger.Info("transcripts loaded",
		"read", humanize.Comma(int64(read)),
		"kept", humanize.Comma(int64(store.Len())),
		"bounds", store.Bounds().String(),
	)
	s.logger.Debug("cell id cache", "stats", s.cells.Stats())

	switch {
	case store.Len() == 0:
		s.logger.Warn("no transcripts passed the filters, no tiles will be written")
	case store.Len() < s.cfg.Tiling.MinimalTranscripts:
		s.logger.Warn("fewer transcripts than the per-tile minimum; every tile will saturate",
			"kept", store.Len(),
			"minimal_transcripts", s.cfg.Tiling.MinimalTranscripts,
		)
	}

	writer, err := emit.NewWriter(emit.Config{
		Dir:         s.cfg.Output.Dir,
		NucleusOnly: s.cfg.Filter.NucleusOnly,
		Zstd:        s.cfg.Output.Compression == config.CompressionZstd,
	})
	if err != nil {
		return nil, err
	}

	params, err := s.cfg.Marshal()
	if err != nil {
		return nil, err
	}
	sum.ParamsPath = filepath.Join(s.cfg.Output.Dir, ParamsFileName)
	if err := s.cfg.Save(sum.ParamsPath); err != nil {
		return nil, &emit.IOError{Op: "write", Path: sum.ParamsPath, Err: err}
	}

	var (
		mf  *manifest.Store
		run *manifest.Run
	)
	if s.cfg.Output.Manifest {
		sum.ManifestPath = filepath.Join(s.cfg.Output.Dir, manifest.FileName)
		mf, err = manifest.NewStore(sum.ManifestPath)
		if err != nil {
			return nil, err
		}
		defer mf.Close()
		run, err = mf.CreateRun(s.cfg.Input.Path, string(params))
		if err != nil {
			return nil, err
		}
		sum.RunID = run.ID
	}

	tiles, err := s.emitTiles(ctx, store, writer, mf, run, sum)
	if mf != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if ferr := mf.FinishRun(run.ID, store.Len(), msg); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.Output.Preview && store.Len() > 0 {
		rr := render.NewLayoutRenderer(render.Config{Size: s.cfg.Output.PreviewSize})
		sum.PreviewPath, err = rr.WriteFile(s.cfg.Output.Dir, store, tiles)
		if err != nil {
			return nil, err
		}
	}

	sum.Elapsed = time.Since(start)
	s.logger.Info("tiling complete",
		"tiles", sum.Tiles,
		"rows", humanize.Comma(int64(sum.Rows)),
		"size", humanize.Bytes(uint64(sum.Bytes)),
		"out_dir", s.cfg.Output.Dir,
		"elapsed", sum.Elapsed.Round(time.Millisecond),
	)
	return sum, nil
}

// emitTiles writes every non-empty tile on the tiler pool and records it in
// grid order. The returned tiles carry no indices.
func (s *TilingService) emitTiles(
	ctx context.Context,
	store *transcript.Store,
	writer *emit.Writer,
	mf *manifest.Store,
	run *manifest.Run,
	sum *Summary,
) ([]tiler.Tile, error) {
	tl, err := tiler.New(store, tiler.Options{
		Width:          s.cfg.Tiling.Width,
		Height:         s.cfg.Tiling.Height,
		Overlap:        s.cfg.Tiling.Overlap,
		MinTranscripts: s.cfg.Tiling.MinimalTranscripts,
		Threads:        s.threads,
	})
	if err != nil {
		return nil, err
	}
	cols, rows := tl.Dims()
	s.logger.Info("tiling", "grid", fmt.Sprintf("%dx%d", cols, rows))

	// Cells that saturate share their realized bounds and so their file.
	// Each path is written once and recorded for the first cell in grid
	// order only.
	type pending struct {
		once sync.Once
		res  emit.Result
		err  error
	}
	var (
		mu      sync.Mutex
		writes  = make(map[string]*pending)
		emitted = make(map[string]bool)
		tiles   []tiler.Tile
	)
	work := func(_ context.Context, t tiler.Tile) (emit.Result, error) {
		path := writer.PathFor(t.Bounds)
		mu.Lock()
		w, ok := writes[path]
		if !ok {
			w = &pending{}
			writes[path] = w
		}
		mu.Unlock()
		w.once.Do(func() {
			w.res, w.err = writer.WriteTile(store, t.Bounds, t.Indices)
		})
		return w.res, w.err
	}
	visit := func(t tiler.Tile, res emit.Result) error {
		if emitted[res.Path] {
			s.logger.Debug("tile shares bounds with an earlier tile",
				"col", t.Col, "row", t.Row, "bounds", t.Bounds.String(), "path", res.Path)
			return nil
		}
		emitted[res.Path] = true

		if t.Count() < s.cfg.Tiling.MinimalTranscripts {
			s.logger.Debug("tile below minimum after expansion",
				"col", t.Col, "row", t.Row, "count", t.Count(), "saturated", t.Saturated)
		}
		s.logger.Debug("tile written",
			"col", t.Col,
			"row", t.Row,
			"bounds", t.Bounds.String(),
			"count", t.Count(),
			"expansions", t.Expansions,
			"path", res.Path,
		)
		if mf != nil {
			if err := mf.InsertTile(run.ID, manifestTile(t, res)); err != nil {
				return fmt.Errorf("failed to record tile %d,%d: %w", t.Col, t.Row, err)
			}
		}
		sum.Tiles++
		sum.Rows += res.Rows
		sum.Bytes += res.Bytes
		sum.Files = append(sum.Files, res.Path)

		t.Indices = nil
		tiles = append(tiles, t)
		return nil
	}

	if err := tiler.Process(ctx, tl, work, visit); err != nil {
		return nil, err
	}
	return tiles, nil
}

func manifestTile(t tiler.Tile, res emit.Result) *manifest.Tile {
	return &manifest.Tile{
		Col:         t.Col,
		Row:         t.Row,
		MinX:        t.Bounds.MinX,
		MaxX:        t.Bounds.MaxX,
		MinY:        t.Bounds.MinY,
		MaxY:        t.Bounds.MaxY,
		CoreMinX:    t.Core.MinX,
		CoreMaxX:    t.Core.MaxX,
		CoreMinY:    t.Core.MinY,
		CoreMaxY:    t.Core.MaxY,
		Transcripts: t.Count(),
		Expansions:  t.Expansions,
		Saturated:   t.Saturated,
		Path:        filepath.Base(res.Path),
		Bytes:       res.Bytes,
		SHA256:      res.SHA256,
	}
}

// LoadStore reads r batch by batch, filters and decodes each batch on a
// worker pool, and builds the store with transcripts in input order. It
// returns the number of rows read.
func (s *TilingService) LoadStore(ctx context.Context, r xenium.Reader) (*transcript.Store, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type batch struct {
		seq  int
		recs []transcript.Record
	}
	type result struct {
		seq  int
		kept []transcript.Transcript
		err  error
	}

	jobs := make(chan batch, s.threads)
	results := make(chan result, s.threads)

	// Workers
	var wg sync.WaitGroup
	wg.Add(s.threads)
	for w := 0; w < s.threads; w++ {
		go func() {
			defer wg.Done()
			for b := range jobs {
				kept, err := s.filter.Process(b.recs, s.cells)
				results <- result{seq: b.seq, kept: kept, err: err}
			}
		}()
	}

	// Collector: appends batches in sequence so the store keeps input order
	// and the first failing batch in input order reports its error.
	var (
		all  []transcript.Transcript
		cerr error
		cwg  sync.WaitGroup
	)
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		pending := make(map[int]result)
		next := 0
		for res := range results {
			pending[res.seq] = res
			for {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if cerr != nil {
					continue
				}
				if p.err != nil {
					cerr = p.err
					cancel()
					continue
				}
				all = append(all, p.kept...)
			}
		}
	}()

	read := 0
	var rerr error
feed:
	for seq := 0; ; seq++ {
		if ctx.Err() != nil {
			break
		}
		recs, err := r.ReadBatch(s.cfg.Runtime.BatchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rerr = err
			break
		}
		read += len(recs)
		select {
		case jobs <- batch{seq: seq, recs: recs}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	switch {
	case cerr != nil:
		return nil, read, cerr
	case rerr != nil:
		return nil, read, rerr
	}
	if err := ctx.Err(); err != nil {
		return nil, read, err
	}
	return transcript.NewStore(all), read, nil
}
