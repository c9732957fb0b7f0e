// Package service wires the volume store, renderers and caches behind
// the operations the HTTP layer exposes.
package service

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/voxelview/server/internal/cache"
	"github.com/voxelview/server/internal/data/nifti"
	"github.com/voxelview/server/internal/data/npy"
	"github.com/voxelview/server/internal/render"
	"github.com/voxelview/server/internal/scene"
	"github.com/voxelview/server/internal/transfer"
	"github.com/voxelview/server/internal/volume"
)

// ViewerService implements the single-volume viewing operations.
type ViewerService struct {
	store    *volume.Store
	renderer *render.SliceRenderer
	scenes   *scene.Builder
	caches   *cache.Manager
}

// NewViewerService creates the service.
func NewViewerService(store *volume.Store, renderer *render.SliceRenderer, scenes *scene.Builder, caches *cache.Manager) *ViewerService {
	return &ViewerService{
		store:    store,
		renderer: renderer,
		scenes:   scenes,
		caches:   caches,
	}
}

// Store exposes the underlying volume store.
func (s *ViewerService) Store() *volume.Store { return s.store }

// LoadVolume decodes an uploaded file and registers it. The format is
// chosen by filename extension, falling back to content sniffing.
func (s *ViewerService) LoadVolume(name string, r io.Reader) (*volume.Volume, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", volume.ErrCorrupt)
	}

	v, err := decode(name, data)
	if err != nil {
		return nil, err
	}
	v.Name = name

	id := s.store.Put(v)
	log.Printf("loaded volume %s (%s, shape %v, %s)", id, name, v.Shape, v.Dtype)
	return v, nil
}

func decode(name string, data []byte) (*volume.Volume, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".npy"):
		return npy.Decode(bytes.NewReader(data))
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"):
		return nifti.Decode(bytes.NewReader(data))
	}

	// No recognizable extension: sniff the content.
	if len(data) > 6 && bytes.HasPrefix(data, []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}) {
		return npy.Decode(bytes.NewReader(data))
	}
	if v, err := nifti.Decode(bytes.NewReader(data)); err == nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", volume.ErrUnsupportedFormat, name)
}

// GetVolume returns a loaded volume by id.
func (s *ViewerService) GetVolume(id string) (*volume.Volume, error) {
	return s.store.Get(id)
}

// ListVolumes returns all loaded volumes in upload order.
func (s *ViewerService) ListVolumes() []*volume.Volume {
	return s.store.List()
}

// DeleteVolume removes a volume and purges its cached scenes.
func (s *ViewerService) DeleteVolume(id string) {
	s.store.Delete(id)
	s.caches.InvalidateVolume(id)
}

// RenderSlice renders one cross-section. The index is clamped before
// it is used, including in the cache key, so out-of-bounds requests
// share the boundary slice's cache entry.
func (s *ViewerService) RenderSlice(id string, axis volume.Axis, index int, cmap string) ([]byte, error) {
	v, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	index = volume.Clamp(index, v.Bounds(axis))

	key := cache.SliceKey(id, int(axis), index, cmap)
	if data, ok := s.caches.GetImage(key); ok {
		return data, nil
	}

	data, err := s.renderer.RenderSlice(v, axis, index, cmap)
	if err != nil {
		return nil, fmt.Errorf("render slice %s/%d/%d: %w", id, axis, index, err)
	}
	if err := s.caches.SetImage(key, data); err != nil {
		log.Printf("cache slice %s: %v", key, err)
	}
	return data, nil
}

// ThreePlaneImages holds one rendered section per axis.
type ThreePlaneImages struct {
	X []byte
	Y []byte
	Z []byte
}

// RenderThreePlanes renders the three orthogonal sections. Each index
// is clamped against its own axis, and each section shares the slice
// cache with the single-slice endpoint.
func (s *ViewerService) RenderThreePlanes(id string, ix, iy, iz int, cmap string) (*ThreePlaneImages, error) {
	imgX, err := s.RenderSlice(id, volume.AxisX, ix, cmap)
	if err != nil {
		return nil, err
	}
	imgY, err := s.RenderSlice(id, volume.AxisY, iy, cmap)
	if err != nil {
		return nil, err
	}
	imgZ, err := s.RenderSlice(id, volume.AxisZ, iz, cmap)
	if err != nil {
		return nil, err
	}
	return &ThreePlaneImages{X: imgX, Y: imgY, Z: imgZ}, nil
}

// RenderScene builds the interactive 3D document for a volume.
func (s *ViewerService) RenderScene(id, opacity, cmap, mode string) ([]byte, error) {
	v, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = scene.ModeVolume
	}
	curve := transfer.Lookup(opacity)

	key := cache.SceneKey(id, mode, curve.Name(), cmap)
	if data, ok := s.caches.GetScene(key); ok {
		return data, nil
	}

	data, err := s.scenes.Render3D(v, curve, cmap, mode)
	if err != nil {
		return nil, err
	}
	s.caches.SetScene(key, data)
	return data, nil
}
