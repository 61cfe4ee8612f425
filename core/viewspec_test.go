package core

import "testing"

func descriptor(levelWidths, levelHeights []int) *ImageDescriptor {
	return &ImageDescriptor{
		Width:        levelWidths[0],
		Height:       levelHeights[0],
		LevelWidths:  levelWidths,
		LevelHeights: levelHeights,
	}
}

func TestSelectLevelPicksCoarsestSufficientLevel(t *testing.T) {
	d := descriptor(
		[]int{4096, 2048, 1024, 512},
		[]int{4096, 2048, 1024, 512},
	)
	v := &ViewSpec{ViewWidth: 1.0, ViewHeight: 1.0, RequestedWidth: 900, RequestedHeight: 900}

	got := v.SelectLevel(d, 1.0, true)
	if got != 2 {
		t.Fatalf("SelectLevel() = %d, want 2 (1024x1024 is the coarsest level still >= 900)", got)
	}
}

func TestSelectLevelRequiresFullResolutionWhenNoLevelSuffices(t *testing.T) {
	d := descriptor(
		[]int{4096, 2048, 1024, 512},
		[]int{4096, 2048, 1024, 512},
	)
	v := &ViewSpec{ViewWidth: 1.0, ViewHeight: 1.0, RequestedWidth: 4000, RequestedHeight: 4000}

	got := v.SelectLevel(d, 1.0, true)
	if got != 0 {
		t.Fatalf("SelectLevel() = %d, want 0 (only full resolution satisfies a 4000px request)", got)
	}
}

func TestSelectLevelOversamplingFactorAllowsOneFinerLevel(t *testing.T) {
	d := descriptor(
		[]int{4096, 2048, 1024, 512},
		[]int{4096, 2048, 1024, 512},
	)
	v := &ViewSpec{ViewWidth: 1.0, ViewHeight: 1.0, RequestedWidth: 1000, RequestedHeight: 1000}

	without := v.SelectLevel(d, 1.0, true)
	with := v.SelectLevel(d, 1.2, true)

	if without != 2 {
		t.Fatalf("without oversampling, SelectLevel() = %d, want 2 (1024 >= 1000)", without)
	}
	if with != 1 {
		t.Fatalf("with oversampling, SelectLevel() = %d, want 1 (1024 < 1000*1.2=1200, so level 2 no longer qualifies and the next finer level 1 (2048) is picked)", with)
	}
}

func TestRegionAtLevelClampsToBounds(t *testing.T) {
	d := descriptor([]int{1000}, []int{800})
	v := &ViewSpec{ViewLeft: 0.5, ViewTop: 0.5, ViewWidth: 0.8, ViewHeight: 0.8}

	r, ok := v.RegionAtLevel(d, 0)
	if !ok {
		t.Fatal("RegionAtLevel() returned ok=false, want true")
	}
	if r.X != 500 || r.Y != 400 {
		t.Fatalf("RegionAtLevel() origin = (%d,%d), want (500,400)", r.X, r.Y)
	}
	if r.X+r.W != 1000 || r.Y+r.H != 800 {
		t.Fatalf("RegionAtLevel() region %+v overruns level bounds 1000x800", r)
	}
}

func TestRegionAtLevelRejectsZeroArea(t *testing.T) {
	d := descriptor([]int{1000}, []int{800})
	v := &ViewSpec{ViewLeft: 1.0, ViewTop: 0, ViewWidth: 0.5, ViewHeight: 0.5}

	if _, ok := v.RegionAtLevel(d, 0); ok {
		t.Fatal("RegionAtLevel() returned ok=true for a region starting at the right edge, want false")
	}
}
