package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
)

type countingHook struct {
	seen []string
}

func (h *countingHook) BeforeStep(ctx context.Context, stepName string, tile *core.RawTile) {
	h.seen = append(h.seen, stepName)
}

func (h *countingHook) AfterStep(ctx context.Context, stepName string, tile *core.RawTile, d time.Duration, err error) {
}

func TestRunSkipsInapplicableConditionalSteps(t *testing.T) {
	tile := solidTile(4, 4, 3, 100)
	hook := &countingHook{}

	p := New().
		Use(&ResampleStep{Width: 4, Height: 4}).
		Use(&RotateFlipStep{Rotation: core.Rotate0, Flip: core.FlipNone}).
		Use(&ColourspaceStep{Colourspace: core.ColourNative}).
		AddHook(hook)

	out, timings, err := p.Run(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != tile {
		t.Fatalf("Run() should return the input tile unchanged when every step is a no-op")
	}
	if len(hook.seen) != 0 {
		t.Fatalf("hook fired for %v, want none (every step was inapplicable)", hook.seen)
	}
	if len(timings) != 0 {
		t.Fatalf("timings = %v, want empty (every step was inapplicable)", timings)
	}
}

func TestRunExecutesApplicableStepsOnly(t *testing.T) {
	tile := solidTile(4, 4, 3, 100)
	hook := &countingHook{}

	p := New().
		Use(&ResampleStep{Width: 2, Height: 2}).
		Use(&RotateFlipStep{Rotation: core.Rotate0, Flip: core.FlipNone}).
		AddHook(hook)

	out, timings, err := p.Run(context.Background(), &core.ViewSpec{}, tile)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("Run() dims = %dx%d, want 2x2 (resample should have run)", out.Width, out.Height)
	}
	if len(hook.seen) != 1 || hook.seen[0] != "resample" {
		t.Fatalf("hook fired for %v, want only [resample]", hook.seen)
	}
	if _, ok := timings["resample"]; !ok {
		t.Fatalf("timings = %v, want an entry for resample", timings)
	}
	if _, ok := timings["rotate_flip"]; ok {
		t.Fatalf("timings = %v, want no entry for the inapplicable rotate_flip step", timings)
	}
}
