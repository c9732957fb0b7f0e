// Package colormap provides color schemes for volume visualization.
package colormap

import (
	"image/color"
	"sort"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Gray colormap (black to white)
var Gray = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 0, 255},
		{255, 255, 255, 255},
	},
}

// Bone colormap (gray with a blue cast, common for CT)
var Bone = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 0, 255},
		{29, 29, 40, 255},
		{58, 58, 81, 255},
		{87, 89, 121, 255},
		{116, 125, 150, 255},
		{145, 163, 178, 255},
		{175, 200, 207, 255},
		{215, 228, 231, 255},
		{255, 255, 255, 255},
	},
}

// Hot colormap (black-red-yellow-white)
var Hot = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 0, 255},
		{85, 0, 0, 255},
		{170, 0, 0, 255},
		{255, 0, 0, 255},
		{255, 85, 0, 255},
		{255, 170, 0, 255},
		{255, 255, 0, 255},
		{255, 255, 128, 255},
		{255, 255, 255, 255},
	},
}

// Cool colormap (cyan to magenta)
var Cool = LinearColormap{
	colors: []color.RGBA{
		{0, 255, 255, 255},
		{128, 128, 255, 255},
		{255, 0, 255, 255},
	},
}

// Viridis colormap (matplotlib viridis)
var Viridis = LinearColormap{
	colors: []color.RGBA{
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

// Plasma colormap
var Plasma = LinearColormap{
	colors: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

// Inferno colormap
var Inferno = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	},
}

// Magma colormap
var Magma = LinearColormap{
	colors: []color.RGBA{
		{0, 0, 4, 255},
		{28, 16, 68, 255},
		{79, 18, 123, 255},
		{129, 37, 129, 255},
		{181, 54, 122, 255},
		{229, 80, 100, 255},
		{251, 135, 97, 255},
		{254, 194, 135, 255},
		{252, 253, 191, 255},
	},
}

var byName = map[string]Colormap{
	"gray":    Gray,
	"bone":    Bone,
	"hot":     Hot,
	"cool":    Cool,
	"viridis": Viridis,
	"plasma":  Plasma,
	"inferno": Inferno,
	"magma":   Magma,
}

// Lookup resolves a colormap by name. Unknown names fall back to gray.
func Lookup(name string) Colormap {
	if c, ok := byName[name]; ok {
		return c
	}
	return Gray
}

// Known reports whether name resolves to a registered colormap.
func Known(name string) bool {
	_, ok := byName[name]
	return ok
}

// Names returns all registered colormap names, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
