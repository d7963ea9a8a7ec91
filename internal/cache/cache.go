// Package cache provides a memo of decoded cell identifiers.
//
// A transcripts table repeats each cell code once per molecule in the cell,
// so decoding through a bounded LRU avoids re-parsing the same token
// hundreds of times.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/soma-tiles/xenium-tiler/internal/cellid"
)

// DefaultSize is the number of distinct cell codes kept when Config.Size is 0.
const DefaultSize = 1 << 16

// Config contains cache configuration.
type Config struct {
	Size int
}

// CellIDs decodes cell codes through an LRU. Safe for concurrent use.
type CellIDs struct {
	codes  *lru.Cache[string, uint32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCellIDs creates a new decode cache.
func NewCellIDs(cfg Config) (*CellIDs, error) {
	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}
	codes, err := lru.New[string, uint32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create cell id cache: %w", err)
	}
	return &CellIDs{codes: codes}, nil
}

// Decode returns the cached id for code, decoding and storing it on a miss.
// Decode errors are not cached.
func (c *CellIDs) Decode(code string) (uint32, error) {
	if cellid.IsUnassigned(code) {
		return 0, nil
	}
	if id, ok := c.codes.Get(code); ok {
		c.hits.Add(1)
		return id, nil
	}
	c.misses.Add(1)
	id, err := cellid.Decode(code)
	if err != nil {
		return 0, err
	}
	c.codes.Add(code, id)
	return id, nil
}

// Stats returns cache statistics.
func (c *CellIDs) Stats() map[string]interface{} {
	return map[string]interface{}{
		"cell_cache_len": c.codes.Len(),
		"cell_hits":      c.hits.Load(),
		"cell_misses":    c.misses.Load(),
	}
}
