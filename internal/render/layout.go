// Package render draws a preview of the tile layout using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/soma-tiles/xenium-tiler/internal/tiler"
	"github.com/soma-tiles/xenium-tiler/internal/transcript"
	"github.com/soma-tiles/xenium-tiler/pkg/colormap"
)

// FileName is the preview image name inside the output directory.
const FileName = "tiles.png"

// Config contains renderer configuration.
type Config struct {
	// Size is the length in pixels of the longer image side.
	Size int
}

// LayoutRenderer renders a density heatmap of the store overlaid with the
// realized bounds of every tile.
type LayoutRenderer struct {
	config  Config
	density colormap.LinearColormap
	outline colormap.CategoricalColormap
}

// NewLayoutRenderer creates a new layout renderer.
func NewLayoutRenderer(cfg Config) *LayoutRenderer {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	return &LayoutRenderer{
		config:  cfg,
		density: colormap.Viridis,
		outline: colormap.Categorical,
	}
}

// projection maps store coordinates to pixels.
type projection struct {
	minX, minY float64
	scale      float64
	w, h       int
}

func newProjection(extent transcript.Bounds, size int) projection {
	span := math.Max(extent.Width(), extent.Height())
	if span <= 0 {
		span = 1
	}
	scale := float64(size) / span
	return projection{
		minX:  extent.MinX,
		minY:  extent.MinY,
		scale: scale,
		w:     max(1, int(math.Ceil(extent.Width()*scale))),
		h:     max(1, int(math.Ceil(extent.Height()*scale))),
	}
}

func (p projection) pixel(x, y float64) (int, int) {
	px := int((x - p.minX) * p.scale)
	py := int((y - p.minY) * p.scale)
	return min(max(px, 0), p.w-1), min(max(py, 0), p.h-1)
}

func (p projection) rect(b transcript.Bounds) (x, y, w, h float64) {
	return (b.MinX - p.minX) * p.scale, (b.MinY - p.minY) * p.scale,
		b.Width() * p.scale, b.Height() * p.scale
}

// Render returns the preview as PNG bytes.
func (r *LayoutRenderer) Render(store *transcript.Store, tiles []tiler.Tile) ([]byte, error) {
	proj := newProjection(store.Bounds(), r.config.Size)
	img := r.heatmap(store, proj)

	dc := gg.NewContextForRGBA(img)
	for i, t := range tiles {
		c := r.outline.AtIndex(i)

		x, y, w, h := proj.rect(t.Bounds)
		dc.SetColor(c)
		dc.SetLineWidth(2)
		dc.SetDash()
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		x, y, w, h = proj.rect(t.Core)
		dc.SetColor(color.RGBA{R: c.R, G: c.G, B: c.B, A: 160})
		dc.SetLineWidth(1)
		dc.SetDash(4, 4)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()
	}

	return encode(dc.Image())
}

// heatmap bins transcripts into pixels. Empty pixels stay white.
func (r *LayoutRenderer) heatmap(store *transcript.Store, proj projection) *image.RGBA {
	counts := make([]int, proj.w*proj.h)
	peak := 0
	for i := 0; i < store.Len(); i++ {
		t := store.At(i)
		px, py := proj.pixel(t.X, t.Y)
		k := py*proj.w + px
		counts[k]++
		if counts[k] > peak {
			peak = counts[k]
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, proj.w, proj.h))
	for py := 0; py < proj.h; py++ {
		for px := 0; px < proj.w; px++ {
			n := counts[py*proj.w+px]
			if n == 0 {
				img.SetRGBA(px, py, color.RGBA{255, 255, 255, 255})
				continue
			}
			img.SetRGBA(px, py, r.density.AtCount(n, peak))
		}
	}
	return img
}

// WriteFile renders the preview into dir/tiles.png.
func (r *LayoutRenderer) WriteFile(dir string, store *transcript.Store, tiles []tiler.Tile) (string, error) {
	data, err := r.Render(store, tiles)
	if err != nil {
		return "", fmt.Errorf("failed to render preview: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write preview: %w", err)
	}
	return path, nil
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
