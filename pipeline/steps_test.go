package pipeline

import (
	"context"
	"testing"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

func solidTile(w, h, channels int, fill byte) *core.RawTile {
	px := make([]byte, w*h*channels)
	for i := range px {
		px[i] = fill
	}
	return &core.RawTile{Width: w, Height: h, Channels: channels, BPC: 8, Pixels: px}
}

func TestCropStepExtractsSubregion(t *testing.T) {
	tile := &core.RawTile{Width: 4, Height: 4, Channels: 1, BPC: 8, Pixels: []byte{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}}
	step := &CropStep{X: 1, Y: 1, Width: 2, Height: 2}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []byte{6, 7, 10, 11}
	if string(out.Pixels) != string(want) {
		t.Fatalf("Execute() pixels = %v, want %v", out.Pixels, want)
	}
}

func TestCropStepRejectsOutOfBounds(t *testing.T) {
	tile := solidTile(4, 4, 1, 0)
	step := &CropStep{X: 2, Y: 2, Width: 4, Height: 4}
	if _, err := step.Execute(context.Background(), &core.ViewSpec{}, tile); err == nil {
		t.Fatal("Execute() error = nil, want an out-of-bounds error")
	}
}

func TestRotate90ChangesDimensions(t *testing.T) {
	tile := solidTile(4, 2, 1, 9)
	step := &RotateFlipStep{Rotation: core.Rotate90}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Width != 2 || out.Height != 4 {
		t.Fatalf("Execute() dims = %dx%d, want 2x4 (swapped)", out.Width, out.Height)
	}
}

func TestRotate180PreservesDimensions(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 2, Channels: 1, BPC: 8, Pixels: []byte{1, 2, 3, 4}}
	step := &RotateFlipStep{Rotation: core.Rotate180}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []byte{4, 3, 2, 1}
	if string(out.Pixels) != string(want) {
		t.Fatalf("Execute() pixels = %v, want %v", out.Pixels, want)
	}
}

func TestColourspaceStepGreyscaleConvertsChannels(t *testing.T) {
	tile := &core.RawTile{Width: 1, Height: 1, Channels: 3, BPC: 8, Pixels: []byte{255, 255, 255}}
	step := &ColourspaceStep{Colourspace: core.ColourGreyscale}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Channels != 1 {
		t.Fatalf("Channels = %d, want 1", out.Channels)
	}
	if out.Pixels[0] < 250 {
		t.Fatalf("Pixels[0] = %d, want ~255 for white input", out.Pixels[0])
	}
}

func TestColourspaceStepBitonalThresholds(t *testing.T) {
	tile := &core.RawTile{Width: 2, Height: 1, Channels: 1, BPC: 8, Pixels: []byte{50, 200}}
	step := &ColourspaceStep{Bitonal: true}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out.Pixels[0] != 0 || out.Pixels[1] != 255 {
		t.Fatalf("Pixels = %v, want [0 255]", out.Pixels)
	}
}

func TestWatermarkStepSkipsWhenProbabilityZero(t *testing.T) {
	tile := solidTile(4, 4, 1, 10)
	mark := solidTile(2, 2, 1, 200)
	step := &WatermarkStep{Watermark: mark, Probability: 0, Opacity: 1}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, p := range out.Pixels {
		if p != 10 {
			t.Fatalf("watermark applied despite Probability=0: pixels = %v", out.Pixels)
		}
	}
}

func TestWatermarkStepCompositesAtProbabilityOne(t *testing.T) {
	tile := solidTile(4, 4, 1, 10)
	mark := solidTile(2, 2, 1, 200)
	step := &WatermarkStep{Watermark: mark, Probability: 1, Opacity: 1}
	out, err := step.Execute(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	// bottom-right 2x2 block should now read 200 (opacity 1 = full replace)
	idx := (3*4 + 3)
	if out.Pixels[idx] != 200 {
		t.Fatalf("bottom-right pixel = %d, want 200", out.Pixels[idx])
	}
}
