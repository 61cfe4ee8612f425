// Package tiffsource implements core.ImageSource for pyramidal TIFF
// images using golang.org/x/image/tiff.
//
// x/image/tiff decodes a single IFD's worth of image data; it has no
// notion of the sub-IFD pyramid levels a real pyramidal TIFF (Aperio,
// BigTIFF-style reduced-resolution subfiles) carries. This reader treats
// the primary IFD as the full-resolution level and reports a single
// pyramid level, decoding every region at full resolution and leaving
// downsampling to the renderer's resample step. A production reader would
// walk the IFD chain via a lower-level TIFF tag parser (the x/image/tiff
// package does not expose one) to expose each subfile as its own level.
package tiffsource

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os"
	"regexp"
	"time"

	"golang.org/x/image/tiff"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
)

var errRegionOutOfBounds = errors.New("requested region does not intersect the decoded image")

// Source decodes baseline TIFF pyramid files whose names match Pattern.
type Source struct {
	// Pattern is the compiled FILENAME_PATTERN (spec §4.1), nil when the
	// pattern is empty. It is stored only: OpenImage and DecodeRegion open
	// any path they are given, whether or not its name matches.
	Pattern *regexp.Regexp
}

var _ core.ImageSource = (*Source)(nil)

// New returns a Source holding pattern (e.g. "_pyr_") as a literal
// regular expression; an empty pattern leaves Pattern nil.
func New(pattern string) *Source {
	var re *regexp.Regexp
	if pattern != "" {
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}
	return &Source{Pattern: re}
}

func (s *Source) Initialise() error { return nil }

func (s *Source) OpenImage(ctx context.Context, path string, maxSampleSize int) (*core.ImageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "tiffsource.OpenImage", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "tiffsource.OpenImage", err)
	}

	cfg, err := tiff.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "tiffsource.OpenImage", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "tiffsource.OpenImage", err)
	}

	channels := 3
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		channels = 1
	}

	d := &core.ImageDescriptor{
		ResolvedPath:  path,
		Format:        core.SourceTIFF,
		Width:         cfg.Width,
		Height:        cfg.Height,
		TileWidth:     cfg.Width,
		TileHeight:    cfg.Height,
		LevelWidths:   []int{cfg.Width},
		LevelHeights:  []int{cfg.Height},
		Channels:      channels,
		BPC:           8,
		LastModified:  info.ModTime().UTC(),
		MaxSampleSize: maxSampleSize,
	}
	return d, nil
}

func (s *Source) LoadImageInfo(ctx context.Context, d *core.ImageDescriptor) error {
	fresh, err := s.OpenImage(ctx, d.ResolvedPath, d.MaxSampleSize)
	if err != nil {
		return err
	}
	cacheKey := d.CacheKey
	*d = *fresh
	d.CacheKey = cacheKey
	return nil
}

// GetMetadata always reports absent: this reader does not parse TIFF's
// XMP (700) or ICC (34675) private tags. A caller relying on the
// embedded max-pixel policy against TIFF sources must layer tag parsing
// on top, or store the policy value out of band.
func (s *Source) GetMetadata(d *core.ImageDescriptor, key string) (string, bool) {
	switch key {
	case "xmp":
		if d.XMP == "" {
			return "", false
		}
		return d.XMP, true
	case "icc":
		if len(d.ICCProfile) == 0 {
			return "", false
		}
		return string(d.ICCProfile), true
	}
	return "", false
}

func (s *Source) GetTimestamp(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, apperrors.Wrap(apperrors.CategoryFile, "tiffsource.GetTimestamp", err)
	}
	return info.ModTime().UTC(), nil
}

func (s *Source) DecodeRegion(ctx context.Context, d *core.ImageDescriptor, level, x, y, w, h int) (*core.RawTile, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "tiffsource.DecodeRegion", err)
	}

	raw, err := os.ReadFile(d.ResolvedPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "tiffsource.DecodeRegion", err)
	}
	img, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "tiffsource.DecodeRegion", err)
	}

	region := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if region.Empty() {
		return nil, apperrors.New(apperrors.CategoryRegion, "tiffsource.DecodeRegion", errRegionOutOfBounds)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, region.Min, draw.Src)

	pixels := interleave(rgba, d.Channels)
	return &core.RawTile{
		Width:    region.Dx(),
		Height:   region.Dy(),
		Channels: d.Channels,
		BPC:      8,
		Pixels:   pixels,
	}, nil
}

func interleave(rgba *image.RGBA, channels int) []byte {
	b := rgba.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		rowStart := rgba.PixOffset(b.Min.X, y)
		row := rgba.Pix[rowStart : rowStart+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			r, g, bch := row[x*4], row[x*4+1], row[x*4+2]
			if channels == 1 {
				out = append(out, byte((19595*int(r)+38470*int(g)+7471*int(bch)+1<<15)>>16))
			} else {
				out = append(out, r, g, bch)
			}
		}
	}
	return out
}
