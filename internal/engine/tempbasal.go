package engine

import (
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// TempBasalResolver answers "what basal rate was effectively delivered at T"
// from the scheduled profile rate plus any temp-basal and combo-bolus
// overrides. It scans the provided treatments on every call, so callers
// driving it across many sampled points should pre-filter to the relevant
// window first.
type TempBasalResolver struct {
	profiles     *ProfileResolver
	tempBasals   []models.Treatment
	comboBoluses []models.Treatment
}

// NewTempBasalResolver splits the treatments into the temp-basal and
// combo-bolus records it needs; everything else is ignored.
func NewTempBasalResolver(profiles *ProfileResolver, treatments []models.Treatment) *TempBasalResolver {
	r := &TempBasalResolver{profiles: profiles}
	for _, t := range treatments {
		switch {
		case t.IsTempBasal() && t.Duration > 0:
			r.tempBasals = append(r.tempBasals, t)
		case t.IsComboBolus() && t.Duration > 0:
			r.comboBoluses = append(r.comboBoluses, t)
		}
	}
	return r
}

// StatusAt returns the effective and scheduled basal rate at the given time.
// Overlapping temp basals are malformed input; the most recently started one
// wins deterministically.
func (r *TempBasalResolver) StatusAt(at time.Time) models.BasalStatus {
	scheduled := r.profiles.BasalRateAt(at)
	effective := scheduled
	active := false

	if tb := r.activeTempBasal(at); tb != nil {
		active = true
		switch {
		case tb.Absolute != nil:
			effective = *tb.Absolute
		case tb.Percent != nil:
			effective = scheduled * *tb.Percent / 100
		}
	}

	// A combo bolus' extended portion is delivered on top of whatever basal
	// is running.
	for i := range r.comboBoluses {
		cb := &r.comboBoluses[i]
		if cb.Relative != nil && cb.ActiveAt(at) {
			effective += *cb.Relative
		}
	}

	return models.BasalStatus{
		Time:          at.UnixMilli(),
		Rate:          effective,
		ScheduledRate: scheduled,
		TempActive:    active,
	}
}

// activeTempBasal returns the temp basal covering at, preferring the most
// recently started when several overlap.
func (r *TempBasalResolver) activeTempBasal(at time.Time) *models.Treatment {
	var winner *models.Treatment
	for i := range r.tempBasals {
		tb := &r.tempBasals[i]
		if !tb.ActiveAt(at) {
			continue
		}
		if winner == nil || tb.Date > winner.Date {
			winner = tb
		}
	}
	return winner
}
