// Package colormap provides color schemes for preview images.
package colormap

import (
	"image/color"
	"math"
)

// Colormap maps values to colors.
type Colormap interface {
	At(t float64) color.RGBA
	AtIndex(i int) color.RGBA
}

// LinearColormap interpolates linearly between evenly spaced stops.
type LinearColormap struct {
	stops []color.RGBA
}

// At returns the color at position t, clamped to [0, 1].
func (c LinearColormap) At(t float64) color.RGBA {
	if t <= 0 || math.IsNaN(t) {
		return c.stops[0]
	}
	if t >= 1 {
		return c.stops[len(c.stops)-1]
	}

	pos := t * float64(len(c.stops)-1)
	lower := int(pos)
	upper := lower + 1
	if upper >= len(c.stops) {
		upper = len(c.stops) - 1
	}
	return interpolate(c.stops[lower], c.stops[upper], pos-float64(lower))
}

// AtIndex returns stop i, wrapping around.
func (c LinearColormap) AtIndex(i int) color.RGBA {
	return c.stops[wrap(i, len(c.stops))]
}

// AtCount maps a count onto the colormap on a log scale, so that a single
// transcript is visible next to a dense hot spot. max <= 0 yields stop 0.
func (c LinearColormap) AtCount(n, max int) color.RGBA {
	if max <= 0 || n <= 0 {
		return c.stops[0]
	}
	return c.At(math.Log1p(float64(n)) / math.Log1p(float64(max)))
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	stops: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// CategoricalColormap provides distinct colors for tile outlines.
type CategoricalColormap struct {
	colors []color.RGBA
}

// At returns the color covering position t.
func (c CategoricalColormap) At(t float64) color.RGBA {
	idx := int(t * float64(len(c.colors)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	return c.colors[idx]
}

// AtIndex returns color i, wrapping around.
func (c CategoricalColormap) AtIndex(i int) color.RGBA {
	return c.colors[wrap(i, len(c.colors))]
}

// Len returns the number of distinct colors.
func (c CategoricalColormap) Len() int { return len(c.colors) }

// Categorical is the 10-color tab10 palette.
var Categorical = CategoricalColormap{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
	},
}
