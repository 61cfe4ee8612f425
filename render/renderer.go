// Package render implements the Renderer of spec §4.7: choosing between
// the tile fast path and the full region-transform path, then driving the
// pipeline and the JPEG/PNG encoders.
package render

import (
	"context"

	xdraw "golang.org/x/image/draw"

	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
	"github.com/NationalGalleryOfArt/iipsrv-go/jpegenc"
	"github.com/NationalGalleryOfArt/iipsrv-go/pipeline"
	"github.com/NationalGalleryOfArt/iipsrv-go/pngenc"
)

// Renderer decodes, transforms, and encodes a single request's output.
type Renderer struct {
	Cfg       config.Config
	Watermark *core.RawTile // preloaded WATERMARK image, nil disables it
}

// New constructs a Renderer.
func New(cfg config.Config, watermark *core.RawTile) *Renderer {
	return &Renderer{Cfg: cfg, Watermark: watermark}
}

// Render produces the final encoded bytes and content type for spec
// against d, using source to decode pixels.
//
// ImageSource.DecodeRegion already accepts direct pixel coordinates
// rather than a tile index, so the tile_index formula of spec §4.7 is
// subsumed by the call below; which tiles get merged to satisfy a region
// is the concrete reader's concern (spec §1: readers are an external,
// interface-only collaborator).
func (r *Renderer) Render(ctx context.Context, d *core.ImageDescriptor, source core.ImageSource, spec *core.ViewSpec) ([]byte, string, error) {
	level := spec.SelectLevel(d, r.Cfg.OversamplingFactor, r.Cfg.AllowUpscaling)

	region, ok := spec.RegionAtLevel(d, level)
	if !ok {
		return nil, "", apperrors.New(apperrors.CategoryRegion, "render.Render", apperrors.ErrInvalidRegion)
	}

	tile, err := source.DecodeRegion(ctx, d, level, region.X, region.Y, region.W, region.H)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CategoryDecode, "render.Render", err)
	}

	out := tile
	if !r.isFastPath(d, spec, level, region) {
		out, err = r.transform(ctx, spec, tile)
		if err != nil {
			return nil, "", err
		}
	}

	return r.encode(out, d, spec.Format)
}

// isFastPath implements the tile fast-path predicate of spec §4.7. Beyond
// the bulleted alignment conditions, it also requires native colourspace,
// no bitonal flag, and no rotation/flip: the spec's own phrasing ("emits
// a single cached tile untouched") only holds if no pixel transform would
// otherwise run, a refinement over the literal bullet list recorded in
// DESIGN.md.
func (r *Renderer) isFastPath(d *core.ImageDescriptor, spec *core.ViewSpec, level int, region core.PixelRegion) bool {
	if !spec.MaintainAspect {
		return false
	}
	if spec.Colourspace != core.ColourNative || spec.Bitonal {
		return false
	}
	if spec.Rotation != core.Rotate0 || spec.Flip != core.FlipNone {
		return false
	}

	tw, th := d.TileWidth, d.TileHeight

	if level > 0 {
		if spec.RequestedWidth != tw || spec.RequestedHeight != th {
			return false
		}
		lw, lh := d.LevelWidths[level], d.LevelHeights[level]
		if region.X%tw != 0 || region.Y%th != 0 {
			return false
		}
		if region.W%tw != 0 || region.H%th != 0 {
			return false
		}
		return region.W < lw && region.H < lh
	}

	return spec.RequestedWidth == d.LevelWidths[0] && spec.RequestedHeight == d.LevelHeights[0]
}

// transform runs the region path's pipeline: resample (if the decoded
// region isn't already the requested size), colourspace conversion,
// rotate/flip, and watermark.
func (r *Renderer) transform(ctx context.Context, spec *core.ViewSpec, tile *core.RawTile) (*core.RawTile, error) {
	p := pipeline.New()

	if spec.RequestedWidth != tile.Width || spec.RequestedHeight != tile.Height {
		p.Use(&pipeline.ResampleStep{
			Width: spec.RequestedWidth, Height: spec.RequestedHeight,
			Interpolation: r.interpolator(),
		})
	}
	if spec.Colourspace == core.ColourGreyscale || spec.Bitonal {
		p.Use(&pipeline.ColourspaceStep{Colourspace: spec.Colourspace, Bitonal: spec.Bitonal})
	}
	if spec.Rotation != core.Rotate0 || spec.Flip != core.FlipNone {
		p.Use(&pipeline.RotateFlipStep{Rotation: spec.Rotation, Flip: spec.Flip})
	}
	if r.Watermark != nil {
		p.Use(&pipeline.WatermarkStep{
			Watermark: r.Watermark, Probability: r.Cfg.WatermarkProbability, Opacity: r.Cfg.WatermarkOpacity,
		})
	}

	out, _, err := p.Run(ctx, spec, tile)
	return out, err
}

func (r *Renderer) interpolator() xdraw.Interpolator {
	if r.Cfg.Interpolation == config.InterpolationNearest {
		return xdraw.NearestNeighbor
	}
	return xdraw.BiLinear
}

func (r *Renderer) encode(tile *core.RawTile, d *core.ImageDescriptor, format string) ([]byte, string, error) {
	var icc []byte
	if r.Cfg.RetainSourceICCProfile {
		icc = d.ICCProfile
	}

	if format == "png" {
		b, err := pngenc.Compress(tile, r.Cfg.PNGCompressionLevel, r.Cfg.PNGFilterType)
		return b, "image/png", err
	}

	b, err := jpegenc.Compress(tile, r.Cfg.JPEGQuality, icc, d.XMP)
	return b, "image/jpeg", err
}
