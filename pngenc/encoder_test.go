package pngenc

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/NationalGalleryOfArt/iipsrv-go/config"
	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

func TestCompressRejectsUnsupportedChannels(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 2, Channels: 4, BPC: 8, Pixels: make([]byte, 16)}
	if _, err := Compress(tile, -1, config.PNGFilterNone); err == nil {
		t.Fatal("Compress() error = nil, want error for 4-channel input")
	}
}

func TestCompressProducesDecodablePNG(t *testing.T) {
	pixels := make([]byte, 4*4*3)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	tile := &core.RawTile{Width: 4, Height: 4, Channels: 3, BPC: 8, Pixels: pixels}
	out, err := Compress(tile, -1, config.PNGFilterNone)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Fatalf("decoded bounds = %v, want 4x4", b)
	}
}

func TestCompressGreyscale(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 2, Channels: 1, BPC: 8, Pixels: []byte{0, 64, 128, 255}}
	out, err := Compress(tile, 0, config.PNGFilterNone)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
}

func TestCompressionLevelMapping(t *testing.T) {
	if compressionLevel(0, config.PNGFilterNone) != png.NoCompression {
		t.Fatal("level=0 should map to NoCompression")
	}
	if compressionLevel(9, config.PNGFilterNone) != png.BestCompression {
		t.Fatal("level=9 should map to BestCompression")
	}
	if compressionLevel(-1, config.PNGFilterNone) != png.DefaultCompression {
		t.Fatal("level=-1 should map to DefaultCompression")
	}
}
