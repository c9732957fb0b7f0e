// Package render rasterizes volume cross-sections to PNG using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/voxelview/server/internal/volume"
	"github.com/voxelview/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	ImageSize       int
	DefaultColormap string
}

// SliceRenderer renders 2D cross-sections of volumes. Rendering is
// deterministic: the same volume, axis, index and colormap always
// produce byte-identical PNG output.
type SliceRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewSliceRenderer creates a new slice renderer.
func NewSliceRenderer(cfg Config) *SliceRenderer {
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 512
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "gray"
	}
	return &SliceRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.ImageSize, cfg.ImageSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

func (r *SliceRenderer) resolveColormap(name string) colormap.Colormap {
	if name == "" {
		name = r.config.DefaultColormap
	}
	return colormap.Lookup(name)
}

// planeSpacing returns the physical voxel spacing of the two in-plane
// axes for a cross-section perpendicular to axis.
func planeSpacing(v *volume.Volume, axis volume.Axis) (sw, sh float64) {
	switch axis {
	case volume.AxisX:
		return v.Spacing[1], v.Spacing[2]
	case volume.AxisY:
		return v.Spacing[0], v.Spacing[2]
	default:
		return v.Spacing[0], v.Spacing[1]
	}
}

// RenderSlice renders one cross-section as a PNG. The index is clamped
// to the axis bounds and intensities are mapped through the volume's
// percentile window.
func (r *SliceRenderer) RenderSlice(v *volume.Volume, axis volume.Axis, index int, cmapName string) ([]byte, error) {
	if axis < volume.AxisX || axis > volume.AxisZ {
		return nil, fmt.Errorf("%w: axis %d", volume.ErrIndexOutOfBounds, axis)
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.Black)
	dc.Clear()

	plane := v.Slice(axis, index)
	sw, sh := planeSpacing(v, axis)
	size := float64(r.config.ImageSize)
	r.drawPlane(dc, v, plane, sw, sh, 0, 0, size, size, r.resolveColormap(cmapName))

	return r.encodeContext(dc)
}

// drawPlane paints a plane into the rectangle (ox, oy, w, h), scaled to
// fit with spacing-correct aspect and centered.
func (r *SliceRenderer) drawPlane(dc *gg.Context, v *volume.Volume, p volume.Plane, sw, sh, ox, oy, w, h float64, cmap colormap.Colormap) {
	physW := float64(p.W) * sw
	physH := float64(p.H) * sh
	scale := w / physW
	if s := h / physH; s < scale {
		scale = s
	}
	drawW := physW * scale
	drawH := physH * scale
	x0 := ox + (w-drawW)/2
	y0 := oy + (h-drawH)/2
	px := drawW / float64(p.W)
	py := drawH / float64(p.H)

	for row := 0; row < p.H; row++ {
		for col := 0; col < p.W; col++ {
			t := v.Normalize(p.Vals[row*p.W+col])
			dc.SetColor(cmap.At(t))
			dc.DrawRectangle(x0+float64(col)*px, y0+float64(row)*py, px, py)
			dc.Fill()
		}
	}
}

func (r *SliceRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
