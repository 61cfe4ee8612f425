// Package jp2ksource implements core.ImageSource for JPEG2000-pyramid
// images using github.com/mrjoshuak/go-jpeg2000. Pyramid levels map
// directly onto the codec's ReduceResolution knob: level 0 is a
// ReduceResolution of 0 (full resolution), and each increasing level skips
// one more wavelet decomposition level, halving both dimensions.
package jp2ksource

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"os"
	"time"

	jpeg2000 "github.com/mrjoshuak/go-jpeg2000"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
)

var errRegionOutOfBounds = errors.New("requested region does not intersect the decoded image")

// Source decodes JPEG2000 (.jp2/.jpx/.j2k) pyramidal images.
type Source struct{}

var _ core.ImageSource = (*Source)(nil)

// New returns a ready jp2ksource.Source. The codec is stateless, so
// Initialise is a formality kept for interface symmetry with tiffsource.
func New() *Source { return &Source{} }

func (s *Source) Initialise() error { return nil }

func (s *Source) OpenImage(ctx context.Context, path string, maxSampleSize int) (*core.ImageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "jp2ksource.OpenImage", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "jp2ksource.OpenImage", err)
	}
	defer f.Close()

	meta, err := jpeg2000.DecodeMetadata(f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jp2ksource.OpenImage", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "jp2ksource.OpenImage", err)
	}

	levels := meta.NumResolutions
	if levels < 1 {
		levels = 1
	}
	widths := make([]int, levels)
	heights := make([]int, levels)
	for i := 0; i < levels; i++ {
		widths[i] = reducedDimension(meta.Width, i)
		heights[i] = reducedDimension(meta.Height, i)
	}

	channels := meta.NumComponents
	if channels != 1 {
		channels = 3 // non-greyscale JP2K sources are always treated as 3-channel on encode
	}
	bpc := 8
	if len(meta.BitsPerComponent) > 0 && meta.BitsPerComponent[0] > 8 {
		bpc = 16
	}

	d := &core.ImageDescriptor{
		ResolvedPath:  path,
		Format:        core.SourceJP2K,
		Width:         meta.Width,
		Height:        meta.Height,
		TileWidth:     meta.TileWidth,
		TileHeight:    meta.TileHeight,
		LevelWidths:   widths,
		LevelHeights:  heights,
		Channels:      channels,
		BPC:           bpc,
		LastModified:  info.ModTime().UTC(),
		ICCProfile:    meta.ICCProfile,
		MaxSampleSize: maxSampleSize,
		// go-jpeg2000's Metadata does not surface the XMP UUID box
		// directly; Comment is the closest field it exposes and is used
		// as the XMP carrier here. A reader that decodes the UUID boxes
		// itself could populate XMP with the real payload instead.
		XMP: meta.Comment,
	}
	if d.TileWidth == 0 {
		d.TileWidth = d.Width
	}
	if d.TileHeight == 0 {
		d.TileHeight = d.Height
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
		return time.Time{}, apperrors.Wrap(apperrors.CategoryFile, "jp2ksource.GetTimestamp", err)
	}
	return info.ModTime().UTC(), nil
}

func (s *Source) DecodeRegion(ctx context.Context, d *core.ImageDescriptor, level, x, y, w, h int) (*core.RawTile, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jp2ksource.DecodeRegion", err)
	}

	f, err := os.Open(d.ResolvedPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFile, "jp2ksource.DecodeRegion", err)
	}
	defer f.Close()

	cfg := &jpeg2000.Config{ReduceResolution: level}
	img, err := jpeg2000.DecodeConfig(f, cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jp2ksource.DecodeRegion", err)
	}

	region := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if region.Empty() {
		return nil, apperrors.New(apperrors.CategoryRegion, "jp2ksource.DecodeRegion", errRegionOutOfBounds)
	}

	channels := d.Channels
	rgba := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, region.Min, draw.Src)

	pixels := interleave(rgba, channels)
	return &core.RawTile{
		Width:    region.Dx(),
		Height:   region.Dy(),
		Channels: channels,
		BPC:      8,
		Pixels:   pixels,
	}, nil
}

// reducedDimension applies the dyadic pyramid halving JPEG2000 uses per
// resolution-reduction level: ceil(dim / 2^level).
func reducedDimension(dim, level int) int {
	for i := 0; i < level; i++ {
		dim = (dim + 1) / 2
	}
	return dim
}

// interleave drops the alpha channel RGBA produces and, for greyscale
// descriptors, collapses to a single luma channel.
func interleave(rgba *image.RGBA, channels int) []byte {
	b := rgba.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*channels)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		rowStart := rgba.PixOffset(b.Min.X, y)
		row := rgba.Pix[rowStart : rowStart+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			r, g, bch := row[x*4], row[x*4+1], row[x*4+2]
			if channels == 1 {
				out = append(out, luma(r, g, bch))
			} else {
				out = append(out, r, g, bch)
			}
		}
	}
	return out
}

func luma(r, g, b byte) byte {
	return byte((19595*int(r) + 38470*int(g) + 7471*int(b) + 1<<15) >> 16)
}
