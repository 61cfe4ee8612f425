package fif

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
	"github.com/NationalGalleryOfArt/iipsrv-go/metadatacache"
)

type stubSource struct {
	xmp string
}

func (s *stubSource) Initialise() error { return nil }

func (s *stubSource) OpenImage(ctx context.Context, path string, maxSampleSize int) (*core.ImageDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &core.ImageDescriptor{
		ResolvedPath:  path,
		Format:        core.SourceTIFF,
		Width:         100,
		Height:        100,
		TileWidth:     256,
		TileHeight:    256,
		LevelWidths:   []int{100},
		LevelHeights:  []int{100},
		Channels:      3,
		BPC:           8,
		LastModified:  info.ModTime().UTC(),
		XMP:           s.xmp,
		MaxSampleSize: maxSampleSize,
	}, nil
}

func (s *stubSource) LoadImageInfo(ctx context.Context, d *core.ImageDescriptor) error { return nil }

func (s *stubSource) GetMetadata(d *core.ImageDescriptor, key string) (string, bool) {
	if key == "xmp" {
		return d.XMP, true
	}
	return "", false
}

func (s *stubSource) GetTimestamp(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().UTC(), nil
}

func (s *stubSource) DecodeRegion(ctx context.Context, d *core.ImageDescriptor, level, x, y, w, h int) (*core.RawTile, error) {
	return nil, nil
}

func newHandler(t *testing.T, xmp string) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "image.tif")
	if err := os.WriteFile(imgPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	reg := core.NewRegistry()
	reg.RegisterSource(core.SourceTIFF, &stubSource{xmp: xmp})

	cfg := config.Default()
	cfg.FilesystemPrefix = dir
	cfg.EnforceMaxPixels = true

	cache := metadatacache.New(10)
	return New(cfg, cache, reg), imgPath
}

func TestResolveOpensLiteralPath(t *testing.T) {
	h, _ := newHandler(t, "")
	res, err := h.Resolve(context.Background(), "/image.tif", 0, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer res.Release()
	if res.Descriptor.Width != 100 {
		t.Fatalf("Width = %d, want 100", res.Descriptor.Width)
	}
}

func TestResolveMissingFileIsFileError(t *testing.T) {
	h, _ := newHandler(t, "")
	_, err := h.Resolve(context.Background(), "/missing.tif", 0, "")
	if !apperrors.IsCategory(err, apperrors.CategoryFile) {
		t.Fatalf("Resolve() error = %v, want CategoryFile", err)
	}
}

func TestResolveFullyRestrictedImageIsForbidden(t *testing.T) {
	h, _ := newHandler(t, "<nga:imgMaxPublicPixels>0</nga:imgMaxPublicPixels>")
	_, err := h.Resolve(context.Background(), "/image.tif", 0, "")
	if !apperrors.IsCategory(err, apperrors.CategoryPolicy) {
		t.Fatalf("Resolve() error = %v, want CategoryPolicy", err)
	}
	if apperrors.HTTPStatus(err) != 403 {
		t.Fatalf("HTTPStatus() = %d, want 403", apperrors.HTTPStatus(err))
	}
}

func TestResolveExceedsMaxPixelsRedirects(t *testing.T) {
	h, _ := newHandler(t, "<nga:imgMaxPublicPixels>600</nga:imgMaxPublicPixels>")
	_, err := h.Resolve(context.Background(), "/image.tif", 0, "")
	if apperrors.HTTPStatus(err) != 303 {
		t.Fatalf("HTTPStatus() = %d, want 303", apperrors.HTTPStatus(err))
	}
	if !apperrors.IsCategory(err, apperrors.CategoryPolicy) {
		t.Fatalf("error = %v, want CategoryPolicy", err)
	}
}

func TestResolveWithinMaxPixelsPassesThrough(t *testing.T) {
	h, _ := newHandler(t, "<nga:imgMaxPublicPixels>600</nga:imgMaxPublicPixels>")
	res, err := h.Resolve(context.Background(), "/image.tif", 400, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	defer res.Release()
}

func TestResolveConditionalGetHit(t *testing.T) {
	h, _ := newHandler(t, "")
	future := time.Now().Add(24 * time.Hour).UTC().Format(http.TimeFormat)
	_, err := h.Resolve(context.Background(), "/image.tif", 0, future)
	if !apperrors.IsCategory(err, apperrors.CategoryConditional) {
		t.Fatalf("Resolve() error = %v, want CategoryConditional", err)
	}
	if apperrors.HTTPStatus(err) != 304 {
		t.Fatalf("HTTPStatus() = %d, want 304", apperrors.HTTPStatus(err))
	}
}

func TestParseMaxPixelsAbsentMeansUnrestricted(t *testing.T) {
	if _, ok := parseMaxPixels("", "nga:imgMaxPublicPixels"); ok {
		t.Fatal("parseMaxPixels() ok = true for empty XMP, want false")
	}
}

func TestRewriteWithMaxPixelsReplacesExistingSuffix(t *testing.T) {
	got := rewriteWithMaxPixels("/image.tif__300", 600)
	if got != "/image.tif__600" {
		t.Fatalf("rewriteWithMaxPixels() = %q, want /image.tif__600", got)
	}
}
