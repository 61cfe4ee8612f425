// Package pipeline wires steps together, runs hooks, and handles retries.
package pipeline

import (
	"context"
	"time"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	apperrors "github.com/NationalGalleryOfArt/iipsrv-go/errors"
)

// Pipeline executes a sequence of Steps against a single ViewSpec, in
// order, with hook and retry support. It backs the Renderer's region path
// (spec §4.7): decode, crop, resample, convert colourspace, rotate/flip.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends steps to the pipeline. Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Run executes the pipeline's steps against spec, starting from tile. It
// returns the final RawTile and a map of per-step timing observations.
//
// A step that implements core.ConditionalStep and reports itself
// inapplicable to spec/current (no rotation requested, tile already at the
// target size, and so on) is skipped entirely: no hook fires and no entry
// is recorded for it in timings, so a Pipeline listing every transform can
// serve any rotation/flip/colourspace/size combination a ViewSpec can
// carry without each no-op transform still paying for a hook round-trip.
func (p *Pipeline) Run(ctx context.Context, spec *core.ViewSpec, tile *core.RawTile) (*core.RawTile, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := tile

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		if cs, ok := step.(core.ConditionalStep); ok && !cs.Applicable(spec, current) {
			continue
		}

		result, elapsed, err := p.runStep(ctx, step, spec, current)
		timings[step.Name()] = elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, spec *core.ViewSpec, tile *core.RawTile) (*core.RawTile, time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), tile)

	var (
		result  *core.RawTile
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		result, err = step.Execute(ctx, spec, tile)
		elapsed = time.Since(start)

		if err == nil {
			break
		}
		if !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			err = apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			goto done
		case <-time.After(p.retryDelay):
		}
	}

done:
	p.callHooksAfter(ctx, step.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, tile *core.RawTile) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, tile)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, tile *core.RawTile, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, tile, d, err)
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps:      make([]core.Step, len(p.steps)),
		hooks:      make([]core.Hook, len(p.hooks)),
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}
