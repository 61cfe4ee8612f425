// Command iipsrv is the process entrypoint: it resolves configuration from
// the environment, wires the image-source registry, metadata cache, and
// handler components, and serves HTTP.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/NationalGalleryOfArt/iipsrv-go/adapters/jp2ksource"
	"github.com/NationalGalleryOfArt/iipsrv-go/adapters/tiffsource"
	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	"github.com/NationalGalleryOfArt/iipsrv-go/fif"
	"github.com/NationalGalleryOfArt/iipsrv-go/hooks"
	"github.com/NationalGalleryOfArt/iipsrv-go/iiif"
	"github.com/NationalGalleryOfArt/iipsrv-go/metadatacache"
	"github.com/NationalGalleryOfArt/iipsrv-go/render"
	"github.com/NationalGalleryOfArt/iipsrv-go/server"
)

func main() {
	cfg := config.FromEnv()
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("iipsrv: invalid configuration: %v", err)
	}

	// TZ is fixed once at process start so Last-Modified/If-Modified-Since
	// comparisons are race-free, matching spec §5's TZ note.
	os.Setenv("TZ", "UTC")

	logger := hooks.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: verbosityToLevel(cfg.Verbosity),
	})))
	logger.Info("iipsrv starting", "filesystem_prefix", cfg.FilesystemPrefix, "iiif_prefix", cfg.IIIFPrefix)

	registry := core.NewRegistry()
	registry.RegisterSource(core.SourceTIFF, tiffsource.New(cfg.FilenamePattern))
	registry.RegisterSource(core.SourceJP2K, jp2ksource.New())

	cache := metadatacache.New(cfg.MaxHeadersInMetadataCache)

	fifHandler := fif.New(cfg, cache, registry)
	iiifHandler := iiif.New(cfg.MaxCVT)
	renderer := render.New(cfg, loadWatermark(cfg, logger))

	handler := server.New(cfg, fifHandler, iiifHandler, renderer, registry, logger)

	addr := os.Getenv("IIPSRV_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.JobTimeout,
		WriteTimeout: cfg.JobTimeout,
	}

	logger.Info("iipsrv listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("iipsrv: %v", err)
	}
}

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelWarn
	case v == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// loadWatermark opens the configured WATERMARK image (a plain TIFF, read
// through the same tiffsource reader used for pyramid images) once at
// startup. An empty WATERMARK disables the feature.
func loadWatermark(cfg config.Config, logger core.Logger) *core.RawTile {
	if cfg.Watermark == "" {
		return nil
	}

	src := tiffsource.New("")
	ctx := context.Background()
	d, err := src.OpenImage(ctx, cfg.Watermark, 0)
	if err != nil {
		logger.Warn("iipsrv: failed to load WATERMARK image, disabling", "path", cfg.Watermark, "error", err.Error())
		return nil
	}
	tile, err := src.DecodeRegion(ctx, d, 0, 0, 0, d.Width, d.Height)
	if err != nil {
		logger.Warn("iipsrv: failed to decode WATERMARK image, disabling", "path", cfg.Watermark, "error", err.Error())
		return nil
	}
	return tile
}
