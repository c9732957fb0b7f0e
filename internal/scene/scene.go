// Package scene builds self-contained interactive 3D scene documents.
// A document embeds plotly.js plus the prepared traces, so rotate,
// zoom and pan need no further server contact.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"os"

	"github.com/voxelview/server/internal/mesh"
	"github.com/voxelview/server/internal/transfer"
	"github.com/voxelview/server/internal/volume"
	"github.com/voxelview/server/pkg/colormap"
)

// Render modes.
const (
	ModeSlices     = "slices"
	ModeVolume     = "volume"
	ModeIsosurface = "isosurface"
)

const plotlyCDN = "https://cdn.plot.ly/plotly-2.32.0.min.js"

// Downsampling thresholds, in voxels.
const (
	heavyVoxels  = 50_000_000
	largeVoxels  = 10_000_000
	targetVoxels = 8_000_000
)

// Config controls how documents reference plotly.js.
type Config struct {
	// PlotlyJS is "cdn" or "local".
	PlotlyJS string
	// PlotlyAssetPath is the plotly.js bundle inlined in local mode.
	PlotlyAssetPath string
}

// Builder assembles scene documents.
type Builder struct {
	cfg Config
}

// NewBuilder creates a scene builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.PlotlyJS == "" {
		cfg.PlotlyJS = "cdn"
	}
	return &Builder{cfg: cfg}
}

// figure is one plotly figure: traces plus layout.
type figure struct {
	Traces []interface{} `json:"data"`
	Layout interface{}   `json:"layout"`
}

// Render3D builds a one-panel scene document for the volume.
func (b *Builder) Render3D(v *volume.Volume, curve transfer.Curve, cmapName, mode string) ([]byte, error) {
	fig, err := b.buildFigure(v, curve, cmapName, mode)
	if err != nil {
		return nil, err
	}
	return b.document([]figure{*fig})
}

// RenderCompare3D builds a two-panel document. Both panels use the
// same transfer function, colormap and mode.
func (b *Builder) RenderCompare3D(va, vb *volume.Volume, curve transfer.Curve, cmapName, mode string) ([]byte, error) {
	figA, err := b.buildFigure(va, curve, cmapName, mode)
	if err != nil {
		return nil, err
	}
	figB, err := b.buildFigure(vb, curve, cmapName, mode)
	if err != nil {
		return nil, err
	}
	return b.document([]figure{*figA, *figB})
}

func (b *Builder) buildFigure(v *volume.Volume, curve transfer.Curve, cmapName, mode string) (*figure, error) {
	cmap := colormap.Lookup(cmapName)

	var trace interface{}
	switch mode {
	case ModeVolume:
		d, err := prepareGrid(v)
		if err != nil {
			return nil, err
		}
		trace = volumeTrace(d, curve, cmap)
	case ModeIsosurface:
		trace = isosurfaceTrace(v, cmap)
	case ModeSlices:
		return &figure{
			Traces: sliceTraces(v, cmap),
			Layout: sceneLayout(v),
		}, nil
	default:
		return nil, fmt.Errorf("unknown render mode %q", mode)
	}

	return &figure{
		Traces: []interface{}{trace},
		Layout: sceneLayout(v),
	}, nil
}

// downsampleFactor implements the interactive-size policy: heavier
// volumes get coarser grids so the document stays tractable in the
// browser.
func downsampleFactor(voxels int) int {
	switch {
	case voxels > heavyVoxels:
		return 4
	case voxels > largeVoxels:
		return 3
	}
	return 1
}

func prepareGrid(v *volume.Volume) (*volume.Volume, error) {
	d, err := v.Downsample(downsampleFactor(v.VoxelCount()))
	if err != nil {
		return nil, err
	}
	if d.VoxelCount() > targetVoxels {
		if d, err = d.Downsample(2); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func volumeTrace(v *volume.Volume, curve transfer.Curve, cmap colormap.Colormap) map[string]interface{} {
	n := v.VoxelCount()
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	vals := make([]float64, 0, n)
	for x := 0; x < v.Shape[0]; x++ {
		for y := 0; y < v.Shape[1]; y++ {
			for z := 0; z < v.Shape[2]; z++ {
				xs = append(xs, float64(x)*v.Spacing[0])
				ys = append(ys, float64(y)*v.Spacing[1])
				zs = append(zs, float64(z)*v.Spacing[2])
				vals = append(vals, v.Normalize(v.At(x, y, z)))
			}
		}
	}

	return map[string]interface{}{
		"type":         "volume",
		"x":            xs,
		"y":            ys,
		"z":            zs,
		"value":        vals,
		"cmin":         0.0,
		"cmax":         1.0,
		"opacity":      curve.BaseOpacity(),
		"opacityscale": curve.OpacityScale(17),
		"colorscale":   colorscale(cmap),
		"surface":      map[string]interface{}{"count": 15},
		"showscale":    true,
	}
}

func isosurfaceTrace(v *volume.Volume, cmap colormap.Colormap) map[string]interface{} {
	level := v.PercentileNonZero(50)
	m := mesh.Extract(v, level)
	m.Smooth(mesh.SmoothIterations, mesh.SmoothRelaxation)

	xs := make([]float64, len(m.Vertices))
	ys := make([]float64, len(m.Vertices))
	zs := make([]float64, len(m.Vertices))
	for idx, vert := range m.Vertices {
		xs[idx], ys[idx], zs[idx] = vert[0], vert[1], vert[2]
	}
	is := make([]int, len(m.Faces))
	js := make([]int, len(m.Faces))
	ks := make([]int, len(m.Faces))
	for idx, f := range m.Faces {
		is[idx], js[idx], ks[idx] = f[0], f[1], f[2]
	}

	// Every vertex sits on the level set, so the surface gets the flat
	// color the colormap assigns to that intensity.
	return map[string]interface{}{
		"type":    "mesh3d",
		"x":       xs,
		"y":       ys,
		"z":       zs,
		"i":       is,
		"j":       js,
		"k":       ks,
		"color":   hexColor(cmap.At(v.Normalize(level))),
		"opacity": 1.0,
		"flatshading": false,
		"lighting": map[string]interface{}{
			"ambient": 0.4, "diffuse": 0.7, "specular": 0.2,
		},
	}
}

// sliceTraces builds three orthogonal Surface traces at the middle
// indices, the camera-navigable three-plane view.
func sliceTraces(v *volume.Volume, cmap colormap.Colormap) []interface{} {
	cs := colorscale(cmap)
	ix := v.DefaultIndex(volume.AxisX)
	iy := v.DefaultIndex(volume.AxisY)
	iz := v.DefaultIndex(volume.AxisZ)
	nx, ny, nz := v.Shape[0], v.Shape[1], v.Shape[2]
	sx, sy, sz := v.Spacing[0], v.Spacing[1], v.Spacing[2]

	grid2 := func(n, m int, f func(i, j int) float64) [][]float64 {
		out := make([][]float64, n)
		for i := 0; i < n; i++ {
			out[i] = make([]float64, m)
			for j := 0; j < m; j++ {
				out[i][j] = f(i, j)
			}
		}
		return out
	}

	surface := func(x, y, z, sc [][]float64, showScale bool) map[string]interface{} {
		return map[string]interface{}{
			"type":         "surface",
			"x":            x,
			"y":            y,
			"z":            z,
			"surfacecolor": sc,
			"colorscale":   cs,
			"cmin":         0.0,
			"cmax":         1.0,
			"showscale":    showScale,
		}
	}

	// Plane x = ix, parameterized over (y, z).
	sagittal := surface(
		grid2(ny, nz, func(i, j int) float64 { return float64(ix) * sx }),
		grid2(ny, nz, func(i, j int) float64 { return float64(i) * sy }),
		grid2(ny, nz, func(i, j int) float64 { return float64(j) * sz }),
		grid2(ny, nz, func(i, j int) float64 { return v.Normalize(v.At(ix, i, j)) }),
		true,
	)
	coronal := surface(
		grid2(nx, nz, func(i, j int) float64 { return float64(i) * sx }),
		grid2(nx, nz, func(i, j int) float64 { return float64(iy) * sy }),
		grid2(nx, nz, func(i, j int) float64 { return float64(j) * sz }),
		grid2(nx, nz, func(i, j int) float64 { return v.Normalize(v.At(i, iy, j)) }),
		false,
	)
	axial := surface(
		grid2(nx, ny, func(i, j int) float64 { return float64(i) * sx }),
		grid2(nx, ny, func(i, j int) float64 { return float64(j) * sy }),
		grid2(nx, ny, func(i, j int) float64 { return float64(iz) * sz }),
		grid2(nx, ny, func(i, j int) float64 { return v.Normalize(v.At(i, j, iz)) }),
		false,
	)
	return []interface{}{sagittal, coronal, axial}
}

func sceneLayout(v *volume.Volume) map[string]interface{} {
	title := v.Name
	if title == "" {
		title = v.ID
	}
	return map[string]interface{}{
		"title": map[string]interface{}{"text": title},
		"scene": map[string]interface{}{
			"aspectmode": "data",
			"xaxis":      map[string]interface{}{"title": "X"},
			"yaxis":      map[string]interface{}{"title": "Y"},
			"zaxis":      map[string]interface{}{"title": "Z"},
		},
		"margin": map[string]interface{}{"l": 0, "r": 0, "t": 40, "b": 0},
	}
}

// colorscale samples the colormap into plotly colorscale stops.
func colorscale(cmap colormap.Colormap) [][2]interface{} {
	const stops = 9
	out := make([][2]interface{}, stops)
	for i := 0; i < stops; i++ {
		t := float64(i) / (stops - 1)
		out[i] = [2]interface{}{t, hexColor(cmap.At(t))}
	}
	return out
}

func hexColor(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// scriptTag returns the plotly.js inclusion for the document head. In
// local mode the bundle is inlined so the document stays self-contained
// offline.
func (b *Builder) scriptTag() (string, error) {
	if b.cfg.PlotlyJS != "local" {
		return fmt.Sprintf("<script src=%q></script>", plotlyCDN), nil
	}
	data, err := os.ReadFile(b.cfg.PlotlyAssetPath)
	if err != nil {
		return "", fmt.Errorf("%w: plotly.js asset %s: %v", volume.ErrMissingDependency, b.cfg.PlotlyAssetPath, err)
	}
	return "<script>" + string(data) + "</script>", nil
}

func (b *Builder) document(figs []figure) ([]byte, error) {
	script, err := b.scriptTag()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	buf.WriteString(script)
	buf.WriteString("\n<style>.scene-panel{display:inline-block;width:")
	if len(figs) > 1 {
		buf.WriteString("49%")
	} else {
		buf.WriteString("100%")
	}
	buf.WriteString(";height:95vh;}</style>\n</head>\n<body>\n")

	for i := range figs {
		fmt.Fprintf(&buf, "<div id=\"scene-%d\" class=\"scene-panel\"></div>\n", i)
	}
	for i, fig := range figs {
		payload, err := json.Marshal(fig)
		if err != nil {
			return nil, fmt.Errorf("encode scene figure: %w", err)
		}
		fmt.Fprintf(&buf, "<script>\n(function(){var fig=%s;Plotly.newPlot(\"scene-%d\",fig.data,fig.layout,{responsive:true});})();\n</script>\n", payload, i)
	}
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}
