package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Usage errors surfaced at the sampler boundary. These are caller mistakes,
// distinct from computation results; the engine itself has no failure modes.
var (
	ErrInvalidWindow   = errors.New("window end must be after start")
	ErrInvalidInterval = errors.New("sample interval out of bounds")
	ErrTooManyPoints   = errors.New("window would produce too many points")
)

// Window is a query interval. Samplers tick it inclusively on both ends, so
// a one-hour window at five minutes yields thirteen points.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window's length
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// SamplePoint is one tick of a sampled series.
type SamplePoint struct {
	Time  int64   `json:"time"` // Unix timestamp in milliseconds
	Value float64 `json:"value"`
}

// PointFunc evaluates a point calculator at one instant.
type PointFunc func(at time.Time) float64

// Sample drives a point calculator across the window at a fixed interval,
// one call per tick. Invalid intervals are rejected, never silently clamped.
// Cancellation is checked at every tick and yields no partial series.
func (e *Engine) Sample(ctx context.Context, w Window, intervalMinutes int, fn PointFunc) ([]SamplePoint, error) {
	if intervalMinutes < e.cfg.MinSampleMinutes || intervalMinutes > e.cfg.MaxSampleMinutes {
		return nil, fmt.Errorf("%w: %d minutes (allowed %d-%d)",
			ErrInvalidInterval, intervalMinutes, e.cfg.MinSampleMinutes, e.cfg.MaxSampleMinutes)
	}
	if err := e.validateWindow(w, intervalMinutes); err != nil {
		return nil, err
	}

	step := time.Duration(intervalMinutes) * time.Minute
	points := make([]SamplePoint, 0, int(w.Duration()/step)+1)

	for t := w.Start; !t.After(w.End); t = t.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points = append(points, SamplePoint{Time: t.UnixMilli(), Value: fn(t)})
	}

	return points, nil
}

// SampleCompact is Sample with runs of unchanged values compacted: only the
// first tick of each run is kept. The final tick is always kept so the
// series covers the window end.
func (e *Engine) SampleCompact(ctx context.Context, w Window, intervalMinutes int, fn PointFunc) ([]SamplePoint, error) {
	full, err := e.Sample(ctx, w, intervalMinutes, fn)
	if err != nil {
		return nil, err
	}

	compact := full[:0:0]
	for i, p := range full {
		if len(compact) > 0 && compact[len(compact)-1].Value == p.Value && i != len(full)-1 {
			continue
		}
		compact = append(compact, p)
	}
	return compact, nil
}

// validateWindow rejects degenerate windows and windows that would produce
// an unreasonable number of ticks at the given cadence.
func (e *Engine) validateWindow(w Window, intervalMinutes int) error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	ticks := int(w.Duration().Minutes())/intervalMinutes + 1
	if ticks > e.cfg.MaxSamplePoints {
		return fmt.Errorf("%w: %d ticks (max %d)", ErrTooManyPoints, ticks, e.cfg.MaxSamplePoints)
	}
	return nil
}
