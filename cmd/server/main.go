// Package main is the entry point for the VoxelView server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxelview/server/internal/api"
	"github.com/voxelview/server/internal/cache"
	"github.com/voxelview/server/internal/config"
	"github.com/voxelview/server/internal/render"
	"github.com/voxelview/server/internal/scene"
	"github.com/voxelview/server/internal/service"
	"github.com/voxelview/server/internal/viewer"
	"github.com/voxelview/server/internal/volume"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting VoxelView server on port %d", cfg.Server.Port)

	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
		ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		SceneCacheSize:   cfg.Cache.SceneCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	sliceRenderer := render.NewSliceRenderer(render.Config{
		ImageSize:       cfg.Render.ImageSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	sceneBuilder := scene.NewBuilder(scene.Config{
		PlotlyJS:        cfg.Scene.PlotlyJS,
		PlotlyAssetPath: cfg.Scene.PlotlyAssetPath,
	})
	log.Printf("Scene documents: plotly_js=%s", cfg.Scene.PlotlyJS)

	store := volume.NewStore()
	viewerService := service.NewViewerService(store, sliceRenderer, sceneBuilder, cacheManager)
	compareCoordinator := service.NewCompareCoordinator(store, sliceRenderer, sceneBuilder, cacheManager)

	session := viewer.NewSession(
		time.Duration(cfg.Viewer.DebounceMS)*time.Millisecond,
		viewerService.RenderSlice,
	)

	router := api.NewRouter(cfg, viewerService, compareCoordinator, session)

	server := &http.Server{
		Addr:         api.Addr(cfg),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
