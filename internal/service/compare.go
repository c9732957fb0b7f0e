package service

import (
	"log"

	"github.com/voxelview/server/internal/cache"
	"github.com/voxelview/server/internal/render"
	"github.com/voxelview/server/internal/scene"
	"github.com/voxelview/server/internal/transfer"
	"github.com/voxelview/server/internal/volume"
)

// CompareCoordinator renders two volumes side by side with shared
// display parameters.
type CompareCoordinator struct {
	store    *volume.Store
	renderer *render.SliceRenderer
	scenes   *scene.Builder
	caches   *cache.Manager
}

// NewCompareCoordinator creates the coordinator.
func NewCompareCoordinator(store *volume.Store, renderer *render.SliceRenderer, scenes *scene.Builder, caches *cache.Manager) *CompareCoordinator {
	return &CompareCoordinator{
		store:    store,
		renderer: renderer,
		scenes:   scenes,
		caches:   caches,
	}
}

// SlicePair is the result of a side-by-side slice comparison.
type SlicePair struct {
	ImageA []byte
	ImageB []byte
	// IndexA and IndexB are the indices actually rendered after
	// per-volume clamping.
	IndexA int
	IndexB int
}

// CompareSlice renders the same cross-section of two volumes. A nil
// index selects the midpoint of the smaller of the two axis bounds;
// an explicit index clamps against each volume independently. Both
// slices share one intensity window, the combined min/max of the two
// volumes' percentile windows, so brightness is comparable.
func (c *CompareCoordinator) CompareSlice(idA, idB string, axis volume.Axis, index *int, cmap string) (*SlicePair, error) {
	va, err := c.store.Get(idA)
	if err != nil {
		return nil, err
	}
	vb, err := c.store.Get(idB)
	if err != nil {
		return nil, err
	}

	boundsA := va.Bounds(axis)
	boundsB := vb.Bounds(axis)
	shared := min(boundsA, boundsB) / 2
	if index != nil {
		shared = *index
	}
	idxA := volume.Clamp(shared, boundsA)
	idxB := volume.Clamp(shared, boundsB)

	keyA := cache.CompareSliceKey(idA, idB, int(axis), shared, cmap) + ":a"
	keyB := cache.CompareSliceKey(idA, idB, int(axis), shared, cmap) + ":b"
	if a, okA := c.caches.GetImage(keyA); okA {
		if b, okB := c.caches.GetImage(keyB); okB {
			return &SlicePair{ImageA: a, ImageB: b, IndexA: idxA, IndexB: idxB}, nil
		}
	}

	// Shallow copies share voxel data but carry the combined window.
	wa, wb := *va, *vb
	wa.WindowLow = min(va.WindowLow, vb.WindowLow)
	wa.WindowHigh = max(va.WindowHigh, vb.WindowHigh)
	wb.WindowLow, wb.WindowHigh = wa.WindowLow, wa.WindowHigh

	imgA, err := c.renderer.RenderSlice(&wa, axis, idxA, cmap)
	if err != nil {
		return nil, err
	}
	imgB, err := c.renderer.RenderSlice(&wb, axis, idxB, cmap)
	if err != nil {
		return nil, err
	}

	if err := c.caches.SetImage(keyA, imgA); err != nil {
		log.Printf("cache compare slice %s: %v", keyA, err)
	}
	if err := c.caches.SetImage(keyB, imgB); err != nil {
		log.Printf("cache compare slice %s: %v", keyB, err)
	}
	return &SlicePair{ImageA: imgA, ImageB: imgB, IndexA: idxA, IndexB: idxB}, nil
}

// CompareVolume3D builds one document with both volumes rendered as 3D
// scenes under identical transfer function and colormap parameters.
func (c *CompareCoordinator) CompareVolume3D(idA, idB, opacity, cmap, mode string) ([]byte, error) {
	va, err := c.store.Get(idA)
	if err != nil {
		return nil, err
	}
	vb, err := c.store.Get(idB)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = scene.ModeVolume
	}
	curve := transfer.Lookup(opacity)

	key := cache.CompareSceneKey(idA, idB, mode, curve.Name(), cmap)
	if data, ok := c.caches.GetScene(key); ok {
		return data, nil
	}

	data, err := c.scenes.RenderCompare3D(va, vb, curve, cmap, mode)
	if err != nil {
		return nil, err
	}
	c.caches.SetScene(key, data)
	return data, nil
}
