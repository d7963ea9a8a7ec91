package tiler

import (
	"context"
	"sync"
)

// Process computes every cell on a pool of Options.Threads workers. work runs
// on the worker goroutine for each non-empty tile (emission happens here, in
// parallel). visit runs on a single collector goroutine in row-major grid
// order, whatever order the workers finish in. Empty tiles reach neither.
// The first error from work or visit cancels the run and is returned.
func Process[R any](
	ctx context.Context,
	t *Tiler,
	work func(context.Context, Tile) (R, error),
	visit func(Tile, R) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		seq  int
		cell Cell
	}
	type result struct {
		seq   int
		tile  Tile
		out   R
		empty bool
		err   error
	}

	jobs := make(chan job, t.opts.Threads*2)
	results := make(chan result, t.opts.Threads*2)

	// Workers
	var wg sync.WaitGroup
	wg.Add(t.opts.Threads)
	for w := 0; w < t.opts.Threads; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := result{seq: j.seq}
				if ctx.Err() == nil {
					res.tile = t.Compute(j.cell)
					res.empty = res.tile.Count() == 0
					if !res.empty && work != nil {
						res.out, res.err = work(ctx, res.tile)
					}
				} else {
					res.err = ctx.Err()
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Collector: reorders by sequence number.
	var (
		cerr error
		cwg  sync.WaitGroup
	)
	cwg.Add(1)
	go func() {
		defer cwg.Done()
		pending := make(map[int]result)
		next := 0
		for res := range results {
			if cerr != nil {
				continue
			}
			pending[res.seq] = res
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				switch {
				case r.err != nil:
					cerr = r.err
				case r.empty:
				case visit != nil:
					cerr = visit(r.tile, r.out)
				}
				if cerr != nil {
					cancel()
					break
				}
			}
		}
	}()

	// Feed work
feed:
	for i, c := range t.cells {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{seq: i, cell: c}:
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	cwg.Wait()

	if cerr != nil {
		return cerr
	}
	return ctx.Err()
}

// Tiles computes all non-empty tiles in grid order.
func (t *Tiler) Tiles(ctx context.Context) ([]Tile, error) {
	var tiles []Tile
	err := Process[struct{}](ctx, t, nil, func(tile Tile, _ struct{}) error {
		tiles = append(tiles, tile)
		return nil
	})
	return tiles, err
}
