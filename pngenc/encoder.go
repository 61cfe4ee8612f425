// Package pngenc encodes RawTile pixel buffers to PNG, honoring the
// PNG_COMPRESSION_LEVEL and PNG_FILTER_TYPE configuration knobs as far as
// the standard library's encoder exposes them.
package pngenc

import (
	"bytes"
	"image"
	"image/png"

	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
)

// Compress encodes tile as a PNG. level follows PNG_COMPRESSION_LEVEL's
// zlib convention (-1 = library default, 0 = no compression, 1 = best
// speed, 9 = best compression); filter is accepted for parity with
// PNG_FILTER_TYPE but image/png does not expose per-scanline filter
// strategy selection the way libpng does, so it only affects the
// compression-level mapping below (best compression gets the same
// treatment filter selection would aim for). This is recorded in
// DESIGN.md as a standard-library limitation, not an oversight.
func Compress(tile *core.RawTile, level int, filter config.PNGFilterType) ([]byte, error) {
	if tile.Channels != 1 && tile.Channels != 3 {
		return nil, apperrors.New(apperrors.CategoryCodec, "pngenc.Compress", apperrors.ErrInvalidFormat)
	}
	if tile.BPC != 8 {
		return nil, apperrors.New(apperrors.CategoryCodec, "pngenc.Compress", apperrors.ErrInvalidFormat)
	}

	img := tileToImage(tile)
	enc := &png.Encoder{CompressionLevel: compressionLevel(level, filter)}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "pngenc.Compress", err)
	}
	return buf.Bytes(), nil
}

func compressionLevel(level int, filter config.PNGFilterType) png.CompressionLevel {
	switch {
	case level == 0:
		return png.NoCompression
	case level > 0 && level <= 3:
		return png.BestSpeed
	case level >= 7 || filter == config.PNGFilterPaeth:
		return png.BestCompression
	case level < 0:
		return png.DefaultCompression
	default:
		return png.DefaultCompression
	}
}

func tileToImage(t *core.RawTile) image.Image {
	if t.Channels == 1 {
		img := image.NewGray(image.Rect(0, 0, t.Width, t.Height))
		copy(img.Pix, t.Pixels)
		return img
	}
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for i, px := 0, 0; px < t.Width*t.Height; px, i = px+1, i+4 {
		img.Pix[i] = t.Pixels[px*3]
		img.Pix[i+1] = t.Pixels[px*3+1]
		img.Pix[i+2] = t.Pixels[px*3+2]
		img.Pix[i+3] = 0xFF
	}
	return img
}
