package engine

import (
	"context"
	"sort"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// BasalAt returns the effective basal rate at one instant, inferred from the
// profile schedule and any active overrides.
func (e *Engine) BasalAt(treatments []models.Treatment, profiles *ProfileResolver, at time.Time) models.BasalStatus {
	if profiles == nil {
		profiles = NewProfileResolver(nil, e.cfg)
	}
	return NewTempBasalResolver(profiles, treatments).StatusAt(at)
}

// BasalSeries reconstructs one canonical basal-rate timeline for a window by
// reconciling device-confirmed delivery spans with inferred values. Spans are
// authoritative for the intervals they cover; where spans overlap, the most
// recently started one governs while it lasts, and earlier spans resume
// after it ends. Gaps no span covers are filled by sampling the temp-basal
// resolver at the configured cadence and tagging the points "inferred".
// Output is run-length encoded: a point appears only when a tracked value
// changes.
//
// The returned series always has at least one point, never extends past the
// window end, and carries the last known rate forward to the window end.
// Cancellation yields no partial series.
func (e *Engine) BasalSeries(
	ctx context.Context,
	spans []models.StateSpan,
	resolver *TempBasalResolver,
	w Window,
) ([]models.BasalPoint, error) {
	if err := e.validateWindow(w, e.cfg.GapFillMinutes); err != nil {
		return nil, err
	}

	tl := &basalTimeline{}
	step := time.Duration(e.cfg.GapFillMinutes) * time.Minute

	gapFill := func(from, to time.Time) error {
		for t := from; t.Before(to); t = t.Add(step) {
			if err := ctx.Err(); err != nil {
				return err
			}
			st := resolver.StatusAt(t)
			tl.emit(t, st.Rate, st.ScheduledRate, models.OriginInferred)
		}
		return nil
	}

	delivery := sortedBasalSpans(spans)
	cuts := spanBoundaries(delivery, w)

	// Walk the segments between boundaries: inside each, coverage is
	// constant, so one governing lookup per segment suffices.
	for i := 0; i+1 < len(cuts); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		from, to := cuts[i], cuts[i+1]
		span := governingSpan(delivery, from)
		if span == nil {
			if err := gapFill(from, to); err != nil {
				return nil, err
			}
			continue
		}

		scheduled := resolver.ScheduledRateAt(from)
		origin := span.Origin
		if origin == "" {
			origin = models.OriginScheduled
		}
		tl.emit(from, span.EffectiveRate(scheduled), scheduled, origin)
	}

	// Carry the last known rate forward so the series covers the window end.
	if last := tl.last(); last != nil && last.Time < w.End.UnixMilli() {
		carried := *last
		carried.Time = w.End.UnixMilli()
		tl.points = append(tl.points, carried)
	}

	return tl.points, nil
}

// basalTimeline accumulates run-length-encoded basal points.
type basalTimeline struct {
	points []models.BasalPoint
}

func (tl *basalTimeline) emit(at time.Time, rate, scheduled float64, origin models.BasalOrigin) {
	if last := tl.last(); last != nil &&
		last.Rate == rate && last.ScheduledRate == scheduled && last.Origin == origin {
		return
	}
	tl.points = append(tl.points, models.BasalPoint{
		Time:          at.UnixMilli(),
		Rate:          rate,
		ScheduledRate: scheduled,
		Origin:        origin,
	})
}

func (tl *basalTimeline) last() *models.BasalPoint {
	if len(tl.points) == 0 {
		return nil
	}
	return &tl.points[len(tl.points)-1]
}

// spanBoundaries returns the sorted, deduplicated segment boundaries for the
// window: its edges plus every span start and end falling strictly inside.
func spanBoundaries(spans []models.StateSpan, w Window) []time.Time {
	cuts := []time.Time{w.Start}
	add := func(t time.Time) {
		if t.After(w.Start) && t.Before(w.End) {
			cuts = append(cuts, t)
		}
	}
	for i := range spans {
		add(spans[i].StartTime())
		if end, ok := spans[i].EndTime(); ok {
			add(end)
		}
	}
	cuts = append(cuts, w.End)

	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })
	deduped := cuts[:1]
	for _, t := range cuts[1:] {
		if !t.Equal(deduped[len(deduped)-1]) {
			deduped = append(deduped, t)
		}
	}
	return deduped
}

// governingSpan returns the span covering at, preferring the most recently
// started when several overlap. Nil means no confirmed coverage.
func governingSpan(spans []models.StateSpan, at time.Time) *models.StateSpan {
	var winner *models.StateSpan
	for i := range spans {
		s := &spans[i]
		if !s.Covers(at) {
			continue
		}
		if winner == nil || s.Start >= winner.Start {
			winner = s
		}
	}
	return winner
}

// sortedBasalSpans returns the basal-delivery spans in start order without
// touching the caller's slice.
func sortedBasalSpans(spans []models.StateSpan) []models.StateSpan {
	filtered := make([]models.StateSpan, 0, len(spans))
	for _, s := range spans {
		if s.Category == models.SpanBasalDelivery {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Start < filtered[j].Start
	})
	return filtered
}

// ScheduledRateAt exposes the profile-scheduled rate so series builders can
// report it independently of any override.
func (r *TempBasalResolver) ScheduledRateAt(at time.Time) float64 {
	return r.profiles.BasalRateAt(at)
}
