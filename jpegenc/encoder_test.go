package jpegenc

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

func TestCompressRejectsUnsupportedChannels(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 2, Channels: 4, BPC: 8, Pixels: make([]byte, 16)}
	if _, err := Compress(tile, 80, nil, ""); err == nil {
		t.Fatal("Compress() error = nil, want error for 4-channel input")
	}
}

func TestCompressRejectsNon8BPC(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 2, Channels: 1, BPC: 16, Pixels: make([]byte, 8)}
	if _, err := Compress(tile, 80, nil, ""); err == nil {
		t.Fatal("Compress() error = nil, want error for 16-bit input")
	}
}

func TestCompressProducesDecodableJPEG(t *testing.T) {
	pixels := make([]byte, 8*8*3)
	for i := range pixels {
		pixels[i] = byte(i % 256)
	}
	tile := &core.RawTile{Width: 8, Height: 8, Channels: 3, BPC: 8, Pixels: pixels}
	out, err := Compress(tile, 90, nil, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("jpeg.Decode() error = %v, output not valid JPEG", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("decoded bounds = %v, want 8x8", b)
	}
}

func TestCompressEmbedsCommentMarker(t *testing.T) {
	tile := &core.RawTile{Width: 4, Height: 4, Channels: 1, BPC: 8, Pixels: make([]byte, 16)}
	out, err := Compress(tile, 80, nil, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !bytes.Contains(out, []byte(comment)) {
		t.Fatalf("output missing COM marker text %q", comment)
	}
}

func TestCompressEmbedsICCMarker(t *testing.T) {
	tile := &core.RawTile{Width: 4, Height: 4, Channels: 1, BPC: 8, Pixels: make([]byte, 16)}
	icc := []byte("fake-icc-profile-bytes")
	out, err := Compress(tile, 80, icc, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !bytes.Contains(out, []byte("ICC_PROFILE")) || !bytes.Contains(out, icc) {
		t.Fatal("output missing ICC marker or profile bytes")
	}
}

func TestStripEncoderAccumulatesAndEncodes(t *testing.T) {
	enc, err := InitCompression(4, 4, 1, 80, nil)
	if err != nil {
		t.Fatalf("InitCompression() error = %v", err)
	}
	top := &core.RawTile{Width: 4, Height: 2, Channels: 1, BPC: 8, Pixels: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	bottom := &core.RawTile{Width: 4, Height: 2, Channels: 1, BPC: 8, Pixels: []byte{9, 10, 11, 12, 13, 14, 15, 16}}
	if err := enc.CompressStrip(top); err != nil {
		t.Fatalf("CompressStrip(top) error = %v", err)
	}
	if err := enc.CompressStrip(bottom); err != nil {
		t.Fatalf("CompressStrip(bottom) error = %v", err)
	}
	out, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("jpeg.Decode() error = %v", err)
	}
}

func TestStripEncoderFinishFailsWhenIncomplete(t *testing.T) {
	enc, err := InitCompression(4, 4, 1, 80, nil)
	if err != nil {
		t.Fatalf("InitCompression() error = %v", err)
	}
	top := &core.RawTile{Width: 4, Height: 2, Channels: 1, BPC: 8, Pixels: make([]byte, 8)}
	if err := enc.CompressStrip(top); err != nil {
		t.Fatalf("CompressStrip() error = %v", err)
	}
	if _, err := enc.Finish(); err == nil {
		t.Fatal("Finish() error = nil, want error when strips don't cover the full height")
	}
}

func TestIsWholeImageFastPathThreshold(t *testing.T) {
	if !IsWholeImageFastPath(256, 256, 3) {
		t.Fatal("IsWholeImageFastPath(256,256,3) = false, want true")
	}
	if IsWholeImageFastPath(1024, 1024, 3) {
		t.Fatal("IsWholeImageFastPath(1024,1024,3) = true, want false")
	}
}
