package engine

import (
	"math"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// minCountedCarbs filters out sub-gram entries some uploaders emit.
const minCountedCarbs = 1.0

// COBAt computes carbs on board at the given instant. Each carb treatment
// contributes its grams at its own timestamp and decays linearly at the
// effective absorption rate. Active insulin accelerates absorption, bounded
// below by the configured minimum rate. A device status reporting its own
// COB within tolerance overrides the derived total.
func (e *Engine) COBAt(
	treatments []models.Treatment,
	statuses []models.DeviceStatus,
	profiles *ProfileResolver,
	at time.Time,
) models.CobResult {
	if profiles == nil {
		profiles = NewProfileResolver(nil, e.cfg)
	}

	rate := e.effectiveAbsorptionRate(treatments, profiles, at)

	var cob float64
	decaying := false

	for i := range treatments {
		t := &treatments[i]
		if !t.HasCarbs() || t.Carbs < minCountedCarbs {
			continue
		}
		eaten := t.Time()
		if eaten.After(at) {
			continue
		}

		absorbed := rate * at.Sub(eaten).Hours()
		remaining := t.Carbs - absorbed
		if remaining > 0 {
			cob += remaining
			decaying = true
		}
	}

	cob = math.Min(cob, e.cfg.MaxCob)

	result := models.CobResult{
		Time:           at.UnixMilli(),
		COB:            math.Round(cob*10) / 10,
		IsDecaying:     decaying,
		AbsorptionRate: math.Round(rate*10) / 10,
		Source:         models.SourceDerived,
	}

	if decaying {
		result.CarbImpact = e.carbImpact(rate, profiles, at)
	}

	reportsCOB := func(s *models.DeviceStatus) bool { return s.COB != nil }
	if status := e.freshDeviceStatus(statuses, at, reportsCOB); status != nil {
		result.COB = *status.COB
		result.IsDecaying = result.COB > 0
		result.Source = deviceSource(status)
	}

	return result
}

// effectiveAbsorptionRate is the baseline g/hr rate, raised while insulin is
// active (carbs absorb faster under active insulin) and floored at the
// configured minimum either way. The boost constant is deliberately
// configurable: the acceleration heuristic is bounded, not exact.
func (e *Engine) effectiveAbsorptionRate(treatments []models.Treatment, profiles *ProfileResolver, at time.Time) float64 {
	rate := e.cfg.CarbAbsorptionRate

	iob := e.IOBAt(treatments, nil, profiles, at, 0)
	if iob.Activity > 0 {
		rate *= 1 + e.cfg.CarbActivityBoost*iob.Activity*60
	}

	return math.Max(rate, e.cfg.MinCarbAbsorptionRate)
}

// carbImpact estimates the raw glucose impact of ongoing absorption in
// mg/dL per 5 minutes, from the active carb sensitivity factor (ISF over
// carb ratio).
func (e *Engine) carbImpact(rate float64, profiles *ProfileResolver, at time.Time) float64 {
	csf := profiles.SensitivityAt(at) / profiles.CarbRatioAt(at)
	gramsPer5m := rate / 60 * 5
	return math.Round(gramsPer5m*csf*10) / 10
}
