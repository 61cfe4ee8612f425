package jp2ksource

import "testing"

func TestReducedDimensionHalvesPerLevel(t *testing.T) {
	cases := []struct {
		dim, level, want int
	}{
		{1000, 0, 1000},
		{1000, 1, 500},
		{1000, 2, 250},
		{999, 1, 500}, // ceil division
		{1, 3, 1},
	}
	for _, c := range cases {
		if got := reducedDimension(c.dim, c.level); got != c.want {
			t.Errorf("reducedDimension(%d, %d) = %d, want %d", c.dim, c.level, got, c.want)
		}
	}
}

func TestLumaIsGrayscaleWeighted(t *testing.T) {
	white := luma(255, 255, 255)
	if white < 254 {
		t.Fatalf("luma(255,255,255) = %d, want ~255", white)
	}
	black := luma(0, 0, 0)
	if black != 0 {
		t.Fatalf("luma(0,0,0) = %d, want 0", black)
	}
}
