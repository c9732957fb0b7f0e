// Package volume holds the core volume data model: the in-memory
// representation of a 3D scalar field, the axis/index arithmetic, and
// the process-lifetime store.
package volume

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Volume is a 3D scalar field resident in memory. Data is laid out in
// C order: the value at (x, y, z) lives at (x*NY + y)*NZ + z.
type Volume struct {
	ID     string
	Name   string
	Format string
	Dtype  string

	Shape   [3]int
	Spacing [3]float64
	Data    []float64

	Min  float64
	Max  float64
	Mean float64
	Std  float64

	// Display window, the 1st and 99th percentiles of the full
	// volume. Computed once at load so every slice of the same
	// volume shares one window.
	WindowLow  float64
	WindowHigh float64
}

// New validates the decoded array and computes the summary statistics
// and display window.
func New(format, dtype string, shape [3]int, spacing [3]float64, data []float64) (*Volume, error) {
	for i, n := range shape {
		if n < 1 {
			return nil, fmt.Errorf("%w: axis %d has extent %d", ErrCorrupt, i, n)
		}
	}
	want := shape[0] * shape[1] * shape[2]
	if len(data) != want {
		return nil, fmt.Errorf("%w: %d values for shape %v (want %d)", ErrCorrupt, len(data), shape, want)
	}
	for i, s := range spacing {
		if s <= 0 {
			spacing[i] = 1
		}
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(data, nil)
	v := &Volume{
		Format:     format,
		Dtype:      dtype,
		Shape:      shape,
		Spacing:    spacing,
		Data:       data,
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       mean,
		Std:        std,
		WindowLow:  stat.Quantile(0.01, stat.Empirical, sorted, nil),
		WindowHigh: stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
	if v.WindowHigh <= v.WindowLow {
		v.WindowHigh = v.WindowLow + 1
	}
	return v, nil
}

// At returns the value at voxel (x, y, z). Coordinates must be in
// bounds.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[(x*v.Shape[1]+y)*v.Shape[2]+z]
}

// VoxelCount returns the total number of voxels.
func (v *Volume) VoxelCount() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// Normalize maps a raw value into [0, 1] using the display window.
func (v *Volume) Normalize(val float64) float64 {
	t := (val - v.WindowLow) / (v.WindowHigh - v.WindowLow)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// PercentileNonZero returns the pth percentile (0-100) of the strictly
// positive voxels, the conventional way to pick an isosurface level in
// masked medical data where zero is background. Falls back to the full
// distribution when the volume has no positive voxels.
func (v *Volume) PercentileNonZero(p float64) float64 {
	vals := make([]float64, 0, len(v.Data))
	for _, x := range v.Data {
		if x > 0 {
			vals = append(vals, x)
		}
	}
	if len(vals) == 0 {
		vals = append(vals, v.Data...)
	}
	sort.Float64s(vals)
	return stat.Quantile(p/100, stat.Empirical, vals, nil)
}

// Downsample returns a strided copy of the volume, keeping every
// factor-th voxel along each axis. Spacing grows by the same factor so
// physical extent is preserved. Factor 1 still copies.
func (v *Volume) Downsample(factor int) (*Volume, error) {
	if factor < 1 {
		factor = 1
	}
	var shape [3]int
	for i, n := range v.Shape {
		shape[i] = (n + factor - 1) / factor
	}
	spacing := [3]float64{
		v.Spacing[0] * float64(factor),
		v.Spacing[1] * float64(factor),
		v.Spacing[2] * float64(factor),
	}

	data := make([]float64, shape[0]*shape[1]*shape[2])
	i := 0
	for x := 0; x < shape[0]; x++ {
		for y := 0; y < shape[1]; y++ {
			for z := 0; z < shape[2]; z++ {
				data[i] = v.At(x*factor, y*factor, z*factor)
				i++
			}
		}
	}
	out, err := New(v.Format, v.Dtype, shape, spacing, data)
	if err != nil {
		return nil, err
	}
	out.ID = v.ID
	out.Name = v.Name
	return out, nil
}

// Plane is an extracted 2D cross-section, row-major with Vals[row*W+col].
type Plane struct {
	W, H int
	Vals []float64
}

// Slice extracts the cross-section perpendicular to axis at the given
// index. The index is clamped to the axis bounds first, so any input
// yields a valid plane. Rows run top to bottom with the third anatomical
// axis increasing upward, matching the usual radiological display.
func (v *Volume) Slice(axis Axis, index int) Plane {
	index = Clamp(index, v.Bounds(axis))
	nx, ny, nz := v.Shape[0], v.Shape[1], v.Shape[2]

	var p Plane
	switch axis {
	case AxisX:
		p = Plane{W: ny, H: nz, Vals: make([]float64, ny*nz)}
		for z := 0; z < nz; z++ {
			row := nz - 1 - z
			for y := 0; y < ny; y++ {
				p.Vals[row*p.W+y] = v.At(index, y, z)
			}
		}
	case AxisY:
		p = Plane{W: nx, H: nz, Vals: make([]float64, nx*nz)}
		for z := 0; z < nz; z++ {
			row := nz - 1 - z
			for x := 0; x < nx; x++ {
				p.Vals[row*p.W+x] = v.At(x, index, z)
			}
		}
	default:
		p = Plane{W: nx, H: ny, Vals: make([]float64, nx*ny)}
		for y := 0; y < ny; y++ {
			row := ny - 1 - y
			for x := 0; x < nx; x++ {
				p.Vals[row*p.W+x] = v.At(x, y, index)
			}
		}
	}
	return p
}
