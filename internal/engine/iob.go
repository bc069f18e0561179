package engine

import (
	"math"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// microDoseMinutes is the sub-interval size when decomposing rate-based
// delivery (temp basals, combo bolus tails) into discrete dose events.
const microDoseMinutes = 5.0

// minMicroDose is the smallest micro-dose worth tracking, in units.
const minMicroDose = 0.0001

// IOBAt computes insulin on board at the given instant. Boluses count as
// discrete doses; temp basals contribute their deviation from the scheduled
// rate, decomposed into micro-doses so they decay like real doses. A device
// status reporting its own IOB within tolerance of the instant overrides the
// derived total.
//
// Treatments are expected to be pre-filtered to roughly one DIA window
// before at; anything older contributes zero and is skipped.
func (e *Engine) IOBAt(
	treatments []models.Treatment,
	statuses []models.DeviceStatus,
	profiles *ProfileResolver,
	at time.Time,
	diaOverride float64,
) models.IobResult {
	if profiles == nil {
		profiles = NewProfileResolver(nil, e.cfg)
	}

	diaHours := diaOverride
	if diaHours <= 0 {
		diaHours = profiles.DIAAt(at)
	}
	diaMinutes := diaHours * 60

	curve := NewInsulinCurve(e.cfg.InsulinModel, e.cfg.InsulinPeakMinutes, diaMinutes)
	windowStart := at.Add(-time.Duration(diaMinutes * float64(time.Minute)))

	var bolusIOB, basalIOB, activity float64

	sum := func(doseAt time.Time, units float64, basal bool) {
		minutes := at.Sub(doseAt).Minutes()
		remaining := units * curve.RemainingFraction(minutes)
		if basal {
			basalIOB += remaining
		} else {
			bolusIOB += remaining
		}
		activity += units * curve.Activity(minutes)
	}

	for i := range treatments {
		t := &treatments[i]
		switch {
		case t.IsBolus() && t.HasInsulin():
			doseAt := t.Time()
			if doseAt.After(at) || doseAt.Before(windowStart) {
				continue
			}
			sum(doseAt, t.Insulin, false)
		case t.IsTempBasal() && t.Duration > 0:
			e.eachTempBasalDose(t, profiles, windowStart, at, func(doseAt time.Time, units float64) {
				sum(doseAt, units, true)
			})
		}

		// The extended portion of a combo bolus is delivered at a declared
		// rate on top of basal; it is still bolus insulin.
		if t.IsComboBolus() && t.Duration > 0 && t.Relative != nil {
			e.eachRateDose(t.Time(), t.Duration, *t.Relative, windowStart, at, func(doseAt time.Time, units float64) {
				sum(doseAt, units, false)
			})
		}
	}

	result := models.IobResult{
		Time:     at.UnixMilli(),
		IOB:      math.Max(0, round2(bolusIOB+basalIOB)),
		BolusIOB: round2(bolusIOB),
		BasalIOB: round2(basalIOB),
		Activity: math.Round(activity*10000) / 10000,
		Source:   models.SourceDerived,
	}

	reportsIOB := func(s *models.DeviceStatus) bool { return s.IOB != nil }
	if status := e.freshDeviceStatus(statuses, at, reportsIOB); status != nil {
		result.IOB = *status.IOB
		result.Source = deviceSource(status)
	}

	return result
}

// eachTempBasalDose decomposes a temp basal into micro-doses of its net
// delivery (declared rate minus the scheduled rate at each sub-interval) and
// visits the ones inside (windowStart, at]. Nothing is materialized outside
// that window, so long overrides stay cheap.
func (e *Engine) eachTempBasalDose(
	tb *models.Treatment,
	profiles *ProfileResolver,
	windowStart, at time.Time,
	visit func(doseAt time.Time, units float64),
) {
	start := tb.Time()
	chunks := int(math.Ceil(tb.Duration / microDoseMinutes))

	for chunk := 0; chunk < chunks; chunk++ {
		chunkStart := start.Add(time.Duration(float64(chunk) * microDoseMinutes * float64(time.Minute)))
		if chunkStart.After(at) {
			break
		}
		if chunkStart.Before(windowStart) {
			continue
		}

		chunkDuration := microDoseMinutes
		if chunk == chunks-1 {
			chunkDuration = tb.Duration - float64(chunk)*microDoseMinutes
		}

		scheduled := profiles.BasalRateAt(chunkStart)
		declared := scheduled
		switch {
		case tb.Absolute != nil:
			declared = *tb.Absolute
		case tb.Percent != nil:
			declared = scheduled * *tb.Percent / 100
		}

		units := (declared - scheduled) * chunkDuration / 60
		if math.Abs(units) < minMicroDose {
			continue
		}
		visit(chunkStart, units)
	}
}

// eachRateDose decomposes a fixed-rate delivery interval into micro-doses
// inside (windowStart, at].
func (e *Engine) eachRateDose(
	start time.Time,
	durationMinutes, rate float64,
	windowStart, at time.Time,
	visit func(doseAt time.Time, units float64),
) {
	chunks := int(math.Ceil(durationMinutes / microDoseMinutes))

	for chunk := 0; chunk < chunks; chunk++ {
		chunkStart := start.Add(time.Duration(float64(chunk) * microDoseMinutes * float64(time.Minute)))
		if chunkStart.After(at) {
			break
		}
		if chunkStart.Before(windowStart) {
			continue
		}

		chunkDuration := microDoseMinutes
		if chunk == chunks-1 {
			chunkDuration = durationMinutes - float64(chunk)*microDoseMinutes
		}

		units := rate * chunkDuration / 60
		if math.Abs(units) < minMicroDose {
			continue
		}
		visit(chunkStart, units)
	}
}

// freshDeviceStatus returns the status closest to at within the configured
// tolerance that satisfies reports, or nil. The predicate keeps a nearby
// status that lacks the field being overridden from masking an older one
// that carries it.
func (e *Engine) freshDeviceStatus(
	statuses []models.DeviceStatus,
	at time.Time,
	reports func(*models.DeviceStatus) bool,
) *models.DeviceStatus {
	var best *models.DeviceStatus
	var bestDiff time.Duration

	for i := range statuses {
		if !reports(&statuses[i]) {
			continue
		}
		diff := at.Sub(statuses[i].Time())
		if diff < 0 {
			diff = -diff
		}
		if diff > e.cfg.DeviceStatusTolerance {
			continue
		}
		if best == nil || diff < bestDiff {
			best = &statuses[i]
			bestDiff = diff
		}
	}
	return best
}

func deviceSource(status *models.DeviceStatus) string {
	if status.Device != "" {
		return status.Device
	}
	return "device"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
