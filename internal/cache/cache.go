// Package cache provides caching for rendered images and scene documents.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ImageCacheSizeMB int
	ImageTTL         time.Duration
	SceneCacheSize   int
}

// Manager manages the rendered-image and scene-document caches. PNG
// slices go in the byte cache, assembled HTML scenes in the LRU.
type Manager struct {
	imageCache *bigcache.BigCache
	sceneCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	imageCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ImageTTL,
		CleanWindow:        cfg.ImageTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       512 * 1024, // 512KB per rendered slice
		HardMaxCacheSize:   cfg.ImageCacheSizeMB,
		Verbose:            false,
	}

	imageCache, err := bigcache.New(context.Background(), imageCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	sceneCache, err := lru.New[string, []byte](cfg.SceneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create scene cache: %w", err)
	}

	return &Manager{
		imageCache: imageCache,
		sceneCache: sceneCache,
	}, nil
}

// GetImage retrieves a rendered image from cache.
func (m *Manager) GetImage(key string) ([]byte, bool) {
	data, err := m.imageCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetImage stores a rendered image in cache.
func (m *Manager) SetImage(key string, data []byte) error {
	return m.imageCache.Set(key, data)
}

// GetScene retrieves a scene document from cache.
func (m *Manager) GetScene(key string) ([]byte, bool) {
	return m.sceneCache.Get(key)
}

// SetScene stores a scene document in cache.
func (m *Manager) SetScene(key string, data []byte) {
	m.sceneCache.Add(key, data)
}

// SliceKey generates a cache key for a single rendered slice.
func SliceKey(volumeID string, axis, index int, cmap string) string {
	return fmt.Sprintf("slice:%s:%d/%d:%s", volumeID, axis, index, cmap)
}

// SceneKey generates a cache key for a 3D scene document.
func SceneKey(volumeID, mode, opacity, cmap string) string {
	return fmt.Sprintf("scene:%s:%s:%s:%s", volumeID, mode, opacity, cmap)
}

// CompareSliceKey generates a cache key for a side-by-side slice pair.
func CompareSliceKey(idA, idB string, axis, index int, cmap string) string {
	return fmt.Sprintf("cmp-slice:%s|%s:%d/%d:%s", idA, idB, axis, index, cmap)
}

// CompareSceneKey generates a cache key for a side-by-side 3D scene.
func CompareSceneKey(idA, idB, mode, opacity, cmap string) string {
	return fmt.Sprintf("cmp-scene:%s|%s:%s:%s:%s", idA, idB, mode, opacity, cmap)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"image_cache_len": m.imageCache.Len(),
		"image_cache_cap": m.imageCache.Capacity(),
		"scene_cache_len": m.sceneCache.Len(),
	}
}

// InvalidateVolume is called when a volume is deleted; bigcache has no
// prefix scan, so image entries are left to expire via TTL while scene
// entries are purged.
func (m *Manager) InvalidateVolume(id string) {
	for _, key := range m.sceneCache.Keys() {
		if strings.Contains(key, id) {
			m.sceneCache.Remove(key)
		}
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.imageCache.Close()
}
