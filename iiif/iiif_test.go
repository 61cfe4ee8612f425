package iiif

import (
	"math"
	"testing"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) < eps }

func TestParseRegionFull(t *testing.T) {
	left, top, w, h, err := ParseRegion("full", 4096, 3072)
	if err != nil {
		t.Fatalf("ParseRegion() error = %v", err)
	}
	if left != 0 || top != 0 || w != 1 || h != 1 {
		t.Fatalf("ParseRegion() = (%v,%v,%v,%v), want (0,0,1,1)", left, top, w, h)
	}
}

func TestParseRegionSquareWidthGreater(t *testing.T) {
	left, top, w, h, err := ParseRegion("square", 4096, 3072)
	if err != nil {
		t.Fatalf("ParseRegion() error = %v", err)
	}
	if !approx(left, 0.125, 1e-6) || top != 0 || !approx(w, 0.75, 1e-6) || h != 1 {
		t.Fatalf("ParseRegion(square) = (%v,%v,%v,%v), want (0.125,0,0.75,1)", left, top, w, h)
	}
}

func TestParseRegionRejectsRectangleExtendingPastBounds(t *testing.T) {
	// spec.md §8 scenario 5: a region request larger than the image must
	// fail with an invalid-region error, not clamp down to the full image.
	if _, _, _, _, err := ParseRegion("0,0,100,100", 50, 50); err == nil {
		t.Fatal("ParseRegion() error = nil, want error for a region extending past the image bounds")
	}
}

func TestParseRegionAcceptsRectangleWithinBounds(t *testing.T) {
	left, top, w, h, err := ParseRegion("0,0,50,50", 50, 50)
	if err != nil {
		t.Fatalf("ParseRegion() error = %v", err)
	}
	if left != 0 || top != 0 || !approx(w, 1.0, 1e-6) || !approx(h, 1.0, 1e-6) {
		t.Fatalf("ParseRegion() = (%v,%v,%v,%v), want (0,0,1,1)", left, top, w, h)
	}
}

func TestParseRegionRejectsNonIntersecting(t *testing.T) {
	if _, _, _, _, err := ParseRegion("1000,1000,50,50", 50, 50); err == nil {
		t.Fatal("ParseRegion() error = nil, want error for non-intersecting region")
	}
}

func TestParseSizePctScalesRegion(t *testing.T) {
	w, h, maintain, err := ParseSize("pct:50", 1000, 500, 0)
	if err != nil {
		t.Fatalf("ParseSize() error = %v", err)
	}
	if w != 500 || h != 250 || maintain {
		t.Fatalf("ParseSize(pct:50) = (%d,%d,%v), want (500,250,false)", w, h, maintain)
	}
}

func TestParseSizeCommaDerivesHeight(t *testing.T) {
	w, h, maintain, err := ParseSize("200,", 3072, 3072, 0)
	if err != nil {
		t.Fatalf("ParseSize() error = %v", err)
	}
	if w != 200 || h != 200 || !maintain {
		t.Fatalf("ParseSize(200,) = (%d,%d,%v), want (200,200,true)", w, h, maintain)
	}
}

func TestParseSizeFitInsideBoxPreservesAspect(t *testing.T) {
	w, h, maintain, err := ParseSize("!1024,1024", 5000, 2500, 0)
	if err != nil {
		t.Fatalf("ParseSize() error = %v", err)
	}
	if w != 1024 || h != 512 || !maintain {
		t.Fatalf("ParseSize(!1024,1024) = (%d,%d,%v), want (1024,512,true)", w, h, maintain)
	}
}

func TestParseSizeClampsToMaxCVT(t *testing.T) {
	w, h, _, err := ParseSize("2000,1000", 2000, 1000, 1024)
	if err != nil {
		t.Fatalf("ParseSize() error = %v", err)
	}
	if w != 1024 || h != 512 {
		t.Fatalf("ParseSize() = (%d,%d), want (1024,512) after MAX_CVT clamp", w, h)
	}
}

func TestParseRotationBang180BecomesVerticalFlip(t *testing.T) {
	rotation, flip, err := ParseRotation("!180")
	if err != nil {
		t.Fatalf("ParseRotation() error = %v", err)
	}
	if rotation != core.Rotate0 || flip != core.FlipVertical {
		t.Fatalf("ParseRotation(!180) = (%v,%v), want (Rotate0,FlipVertical)", rotation, flip)
	}
}

func TestParseRotationRejectsInvalidAngle(t *testing.T) {
	if _, _, err := ParseRotation("45"); err == nil {
		t.Fatal("ParseRotation(45) error = nil, want error")
	}
}

func TestParseQualityVariants(t *testing.T) {
	if c, bitonal, err := ParseQuality("grey"); err != nil || c != core.ColourGreyscale || bitonal {
		t.Fatalf("ParseQuality(grey) = (%v,%v,%v)", c, bitonal, err)
	}
	if c, bitonal, err := ParseQuality("bitonal"); err != nil || c != core.ColourGreyscale || !bitonal {
		t.Fatalf("ParseQuality(bitonal) = (%v,%v,%v)", c, bitonal, err)
	}
	if _, _, err := ParseQuality("sepia"); err == nil {
		t.Fatal("ParseQuality(sepia) error = nil, want error")
	}
}

func TestParseFormatRejectsPNGWhenUnsupported(t *testing.T) {
	if _, err := ParseFormat("png", false); err == nil {
		t.Fatal("ParseFormat(png, false) error = nil, want error")
	}
	if f, err := ParseFormat("png", true); err != nil || f != "png" {
		t.Fatalf("ParseFormat(png, true) = (%q,%v)", f, err)
	}
}

func TestParseRequestClampsFullToMaxCVT(t *testing.T) {
	h := New(1024)
	spec, format, err := h.ParseRequest([]string{"full", "full", "0", "default.jpg"}, 4096, 3072, true)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if format != "jpg" {
		t.Fatalf("format = %q, want jpg", format)
	}
	if spec.RequestedWidth != 1024 {
		// full is clamped to MaxCVT per the handler's aspect-preserving clamp
		t.Fatalf("RequestedWidth = %d, want 1024 after MAX_CVT clamp", spec.RequestedWidth)
	}
}

func TestParseRequestRejectsWrongTokenCount(t *testing.T) {
	h := New(1024)
	if _, _, err := h.ParseRequest([]string{"full", "full", "0"}, 100, 100, true); err == nil {
		t.Fatal("ParseRequest() error = nil, want too-few-tokens error")
	}
}

func TestBuildInfoSizesExcludesFullResolution(t *testing.T) {
	d := &core.ImageDescriptor{
		Width: 4096, Height: 3072, TileWidth: 256, TileHeight: 256,
		LevelWidths:  []int{4096, 2048, 1024},
		LevelHeights: []int{3072, 1536, 768},
	}
	info := BuildInfo("image.tif", d, "http://example.org", "", 0, false)
	if len(info.Sizes) != 2 {
		t.Fatalf("len(Sizes) = %d, want 2 (coarsest + level 1)", len(info.Sizes))
	}
	if info.Sizes[0].Width != 1024 {
		t.Fatalf("Sizes[0].Width = %d, want 1024 (coarsest first)", info.Sizes[0].Width)
	}
	if len(info.Tiles[0].ScaleFactors) != 3 || info.Tiles[0].ScaleFactors[2] != 4 {
		t.Fatalf("ScaleFactors = %v, want [1 2 4]", info.Tiles[0].ScaleFactors)
	}
}

func TestBuildInfoHeaderOverridesBaseURL(t *testing.T) {
	d := &core.ImageDescriptor{LevelWidths: []int{100}, LevelHeights: []int{100}}
	info := BuildInfo("image.tif", d, "http://example.org", "http://override.example/x", 0, false)
	if info.ID != "http://override.example/x" {
		t.Fatalf("ID = %q, want header override", info.ID)
	}
}
