// Package mesh extracts isosurfaces from volumes.
package mesh

import (
	"github.com/voxelview/server/internal/volume"
)

// Vertex is a point in physical space (voxel index times spacing).
type Vertex [3]float64

// Triangle indexes three vertices of a mesh.
type Triangle [3]int

// Mesh is an indexed triangle surface.
type Mesh struct {
	Vertices []Vertex
	Faces    []Triangle
}

// Empty reports whether the mesh has no faces.
func (m *Mesh) Empty() bool { return len(m.Faces) == 0 }

// Smoothing constants for extracted surfaces.
const (
	SmoothIterations = 50
	SmoothRelaxation = 0.1
)

// ExtractAtPercentile extracts the isosurface at the given percentile
// (0-100) of the non-zero voxel distribution, optionally smoothing the
// result. The default threshold for anatomy in masked scans is the
// median of the foreground.
func ExtractAtPercentile(v *volume.Volume, percentile float64, smooth bool) *Mesh {
	level := v.PercentileNonZero(percentile)
	m := Extract(v, level)
	if smooth {
		m.Smooth(SmoothIterations, SmoothRelaxation)
	}
	return m
}

// cube corner offsets and the six-tetrahedron decomposition around the
// 0-6 diagonal.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

var cubeTets = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

type extractor struct {
	vol   *volume.Volume
	level float64
	mesh  Mesh
	// interpolated surface vertices are shared between cells through
	// the lattice edge they sit on
	edgeVerts map[[2]int]int
}

// Extract computes the isosurface of the volume at the given level
// using marching tetrahedra. A level above the volume maximum (or
// below the minimum) yields an empty mesh.
func Extract(v *volume.Volume, level float64) *Mesh {
	e := &extractor{
		vol:       v,
		level:     level,
		edgeVerts: make(map[[2]int]int),
	}

	nx, ny, nz := v.Shape[0], v.Shape[1], v.Shape[2]
	for x := 0; x < nx-1; x++ {
		for y := 0; y < ny-1; y++ {
			for z := 0; z < nz-1; z++ {
				e.cell(x, y, z)
			}
		}
	}
	return &e.mesh
}

func (e *extractor) cell(x, y, z int) {
	var ids [8]int
	var vals [8]float64
	for i, off := range cubeCorners {
		cx, cy, cz := x+off[0], y+off[1], z+off[2]
		ids[i] = (cx*e.vol.Shape[1]+cy)*e.vol.Shape[2] + cz
		vals[i] = e.vol.At(cx, cy, cz)
	}

	for _, tet := range cubeTets {
		var inside, outside []int
		for _, c := range tet {
			if vals[c] > e.level {
				inside = append(inside, c)
			} else {
				outside = append(outside, c)
			}
		}

		switch len(inside) {
		case 1:
			a := inside[0]
			e.emit(
				e.edgeVertex(ids[a], vals[a], ids[outside[0]], vals[outside[0]]),
				e.edgeVertex(ids[a], vals[a], ids[outside[1]], vals[outside[1]]),
				e.edgeVertex(ids[a], vals[a], ids[outside[2]], vals[outside[2]]),
			)
		case 3:
			o := outside[0]
			e.emit(
				e.edgeVertex(ids[o], vals[o], ids[inside[0]], vals[inside[0]]),
				e.edgeVertex(ids[o], vals[o], ids[inside[1]], vals[inside[1]]),
				e.edgeVertex(ids[o], vals[o], ids[inside[2]], vals[inside[2]]),
			)
		case 2:
			p, q := inside[0], inside[1]
			r, s := outside[0], outside[1]
			pr := e.edgeVertex(ids[p], vals[p], ids[r], vals[r])
			ps := e.edgeVertex(ids[p], vals[p], ids[s], vals[s])
			qs := e.edgeVertex(ids[q], vals[q], ids[s], vals[s])
			qr := e.edgeVertex(ids[q], vals[q], ids[r], vals[r])
			e.emit(pr, ps, qs)
			e.emit(pr, qs, qr)
		}
	}
}

func (e *extractor) emit(a, b, c int) {
	if a == b || b == c || a == c {
		return // degenerate when the level sits exactly on a corner
	}
	e.mesh.Faces = append(e.mesh.Faces, Triangle{a, b, c})
}

// edgeVertex returns the index of the interpolated vertex on the
// lattice edge (ia, ib), creating it on first use.
func (e *extractor) edgeVertex(ia int, va float64, ib int, vb float64) int {
	key := [2]int{ia, ib}
	if ia > ib {
		key = [2]int{ib, ia}
	}
	if idx, ok := e.edgeVerts[key]; ok {
		return idx
	}

	t := 0.5
	if vb != va {
		t = (e.level - va) / (vb - va)
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	pa := e.cornerPos(ia)
	pb := e.cornerPos(ib)
	vert := Vertex{
		pa[0] + t*(pb[0]-pa[0]),
		pa[1] + t*(pb[1]-pa[1]),
		pa[2] + t*(pb[2]-pa[2]),
	}

	idx := len(e.mesh.Vertices)
	e.mesh.Vertices = append(e.mesh.Vertices, vert)
	e.edgeVerts[key] = idx
	return idx
}

func (e *extractor) cornerPos(id int) Vertex {
	ny, nz := e.vol.Shape[1], e.vol.Shape[2]
	z := id % nz
	y := (id / nz) % ny
	x := id / (nz * ny)
	return Vertex{
		float64(x) * e.vol.Spacing[0],
		float64(y) * e.vol.Spacing[1],
		float64(z) * e.vol.Spacing[2],
	}
}

// Smooth applies Laplacian relaxation in place: each vertex moves a
// fraction of the way toward the centroid of its neighbors, once per
// iteration.
func (m *Mesh) Smooth(iterations int, relaxation float64) {
	if iterations <= 0 || len(m.Vertices) == 0 {
		return
	}

	neighbors := make([][]int, len(m.Vertices))
	seen := make(map[[2]int]struct{})
	addEdge := func(a, b int) {
		key := [2]int{a, b}
		if a > b {
			key = [2]int{b, a}
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		neighbors[a] = append(neighbors[a], b)
		neighbors[b] = append(neighbors[b], a)
	}
	for _, f := range m.Faces {
		addEdge(f[0], f[1])
		addEdge(f[1], f[2])
		addEdge(f[0], f[2])
	}

	next := make([]Vertex, len(m.Vertices))
	for it := 0; it < iterations; it++ {
		for i, v := range m.Vertices {
			ns := neighbors[i]
			if len(ns) == 0 {
				next[i] = v
				continue
			}
			var cx, cy, cz float64
			for _, n := range ns {
				cx += m.Vertices[n][0]
				cy += m.Vertices[n][1]
				cz += m.Vertices[n][2]
			}
			k := float64(len(ns))
			next[i] = Vertex{
				v[0] + relaxation*(cx/k-v[0]),
				v[1] + relaxation*(cy/k-v[1]),
				v[2] + relaxation*(cz/k-v[2]),
			}
		}
		m.Vertices, next = next, m.Vertices
	}
}
