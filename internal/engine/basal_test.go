package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

func basalSpan(start, end time.Time, rate *float64, origin models.BasalOrigin) models.StateSpan {
	e := end.UnixMilli()
	return models.StateSpan{
		Category: models.SpanBasalDelivery,
		Start:    start.UnixMilli(),
		End:      &e,
		Rate:     rate,
		Origin:   origin,
	}
}

func TestBasalSeries_NoSpansAllInferred(t *testing.T) {
	eng := NewDefault()
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(30 * time.Minute)}

	got, err := eng.BasalSeries(context.Background(), nil, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	// A flat schedule compacts to the opening point plus the carried end point.
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2, points = %+v", len(got), got)
	}
	if got[0].Time != w.Start.UnixMilli() {
		t.Errorf("first point at %d, want window start %d", got[0].Time, w.Start.UnixMilli())
	}
	if got[len(got)-1].Time != w.End.UnixMilli() {
		t.Errorf("last point at %d, want window end %d", got[len(got)-1].Time, w.End.UnixMilli())
	}
	for _, p := range got {
		if p.Origin != models.OriginInferred {
			t.Errorf("Origin = %q, want %q without delivery spans", p.Origin, models.OriginInferred)
		}
		if p.Rate != 1.0 {
			t.Errorf("Rate = %f, want scheduled 1.0", p.Rate)
		}
	}
}

func TestBasalSeries_TempBasalShowsInGapFill(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	temp := tempBasal(start.Add(10*time.Minute), 10)
	temp.Absolute = f64(2.0)
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), []models.Treatment{temp})

	w := Window{Start: start, End: start.Add(30 * time.Minute)}
	got, err := eng.BasalSeries(context.Background(), nil, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	wantRates := []float64{1.0, 2.0, 1.0, 1.0}
	if len(got) != len(wantRates) {
		t.Fatalf("len = %d, want %d, points = %+v", len(got), len(wantRates), got)
	}
	for i, want := range wantRates {
		if got[i].Rate != want {
			t.Errorf("point %d Rate = %f, want %f", i, got[i].Rate, want)
		}
	}
}

func TestBasalSeries_ConfirmedSpanWins(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)

	spans := []models.StateSpan{
		basalSpan(start.Add(10*time.Minute), start.Add(20*time.Minute), f64(1.5), models.OriginAlgorithm),
		// Spans from other categories never enter the basal timeline.
		{Category: models.SpanPumpMode, Start: start.UnixMilli(), State: "suspended"},
	}

	w := Window{Start: start, End: start.Add(30 * time.Minute)}
	got, err := eng.BasalSeries(context.Background(), spans, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	var confirmed *models.BasalPoint
	for i := range got {
		if got[i].Origin == models.OriginAlgorithm {
			confirmed = &got[i]
		}
	}
	if confirmed == nil {
		t.Fatalf("no confirmed point in series %+v", got)
	}
	if confirmed.Time != start.Add(10*time.Minute).UnixMilli() {
		t.Errorf("confirmed point at %d, want span start", confirmed.Time)
	}
	if confirmed.Rate != 1.5 {
		t.Errorf("confirmed Rate = %f, want 1.5", confirmed.Rate)
	}

	// Before and after the span the series falls back to inference.
	if got[0].Origin != models.OriginInferred || got[0].Rate != 1.0 {
		t.Errorf("opening point = %+v, want inferred at 1.0", got[0])
	}
	last := got[len(got)-1]
	if last.Origin != models.OriginInferred {
		t.Errorf("closing point Origin = %q, want inferred after span end", last.Origin)
	}
}

func TestBasalSeries_SuspendedSpanIsZero(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)

	span := basalSpan(start, start.Add(15*time.Minute), nil, models.OriginSuspended)

	w := Window{Start: start, End: start.Add(30 * time.Minute)}
	got, err := eng.BasalSeries(context.Background(), []models.StateSpan{span}, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	if got[0].Rate != 0 || got[0].Origin != models.OriginSuspended {
		t.Errorf("suspended point = %+v, want rate 0", got[0])
	}
}

func TestBasalSeries_OverlapLaterSpanWins(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)

	spans := []models.StateSpan{
		basalSpan(start, start.Add(20*time.Minute), f64(1.5), models.OriginManual),
		basalSpan(start.Add(10*time.Minute), start.Add(30*time.Minute), f64(0.8), models.OriginAlgorithm),
	}

	w := Window{Start: start, End: start.Add(30 * time.Minute)}
	got, err := eng.BasalSeries(context.Background(), spans, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	// The more recently started span governs from its own start.
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3, points = %+v", len(got), got)
	}
	if got[1].Time != start.Add(10*time.Minute).UnixMilli() || got[1].Rate != 0.8 {
		t.Errorf("overlap point = %+v, want 0.8 at +10m", got[1])
	}
	if rate := rateAtFromSeries(got, start.Add(15*time.Minute)); rate != 0.8 {
		t.Errorf("rate at +15m = %f, want later span's 0.8", rate)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time <= got[i-1].Time {
			t.Errorf("points out of order: %d then %d", got[i-1].Time, got[i].Time)
		}
	}
}

func TestBasalSeries_EarlierSpanResumesAfterContainedOne(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)

	spans := []models.StateSpan{
		basalSpan(start, start.Add(30*time.Minute), f64(1.5), models.OriginManual),
		basalSpan(start.Add(10*time.Minute), start.Add(20*time.Minute), f64(0.8), models.OriginAlgorithm),
	}

	w := Window{Start: start, End: start.Add(30 * time.Minute)}
	got, err := eng.BasalSeries(context.Background(), spans, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	wantRates := []float64{1.5, 0.8, 1.5, 1.5}
	if len(got) != len(wantRates) {
		t.Fatalf("len = %d, want %d, points = %+v", len(got), len(wantRates), got)
	}
	for i, want := range wantRates {
		if got[i].Rate != want {
			t.Errorf("point %d Rate = %f, want %f", i, got[i].Rate, want)
		}
	}
	if got[2].Time != start.Add(20*time.Minute).UnixMilli() {
		t.Errorf("resume point at %d, want +20m", got[2].Time)
	}
}

// rateAtFromSeries reads a run-length-encoded series as a step function.
func rateAtFromSeries(points []models.BasalPoint, at time.Time) float64 {
	ms := at.UnixMilli()
	rate := points[0].Rate
	for _, p := range points {
		if p.Time > ms {
			break
		}
		rate = p.Rate
	}
	return rate
}

func TestBasalSeries_Cancellation(t *testing.T) {
	eng := NewDefault()
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(2 * time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := eng.BasalSeries(ctx, nil, resolver, w)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if got != nil {
		t.Errorf("points = %+v, want nil on cancellation", got)
	}
}

func TestBasalSeries_InvalidWindow(t *testing.T) {
	eng := NewDefault()
	resolver := NewTempBasalResolver(flatProfileResolver(1.0), nil)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := eng.BasalSeries(context.Background(), nil, resolver, Window{Start: at, End: at})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("error = %v, want ErrInvalidWindow", err)
	}
}

func TestBasalSeries_AgreesWithPointQueries(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	temp := tempBasal(start.Add(15*time.Minute), 20)
	temp.Absolute = f64(1.7)
	treatments := []models.Treatment{temp}

	resolver := NewTempBasalResolver(profiles, treatments)
	w := Window{Start: start, End: start.Add(time.Hour)}

	series, err := eng.BasalSeries(context.Background(), nil, resolver, w)
	if err != nil {
		t.Fatalf("BasalSeries() error = %v", err)
	}

	// The compacted series, read as a step function, must reproduce what the
	// point query reports at every sampled tick.
	rateAt := func(at time.Time) float64 {
		ms := at.UnixMilli()
		rate := series[0].Rate
		for _, p := range series {
			if p.Time > ms {
				break
			}
			rate = p.Rate
		}
		return rate
	}

	for m := 0; m <= 60; m += 5 {
		tick := start.Add(time.Duration(m) * time.Minute)
		point := eng.BasalAt(treatments, profiles, tick)
		if got := rateAt(tick); got != point.Rate {
			t.Errorf("at +%dm: series rate = %f, point rate = %f", m, got, point.Rate)
		}
	}
}

func TestBasalAt_MatchesResolver(t *testing.T) {
	eng := NewDefault()
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	temp := tempBasal(start, 60)
	temp.Absolute = f64(2.2)

	got := eng.BasalAt([]models.Treatment{temp}, flatProfileResolver(1.0), start.Add(30*time.Minute))
	if got.Rate != 2.2 || !got.TempActive {
		t.Errorf("BasalAt() = %+v, want active override at 2.2", got)
	}
	if got.ScheduledRate != 1.0 {
		t.Errorf("ScheduledRate = %f, want 1.0", got.ScheduledRate)
	}
}
