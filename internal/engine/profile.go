package engine

import (
	"sort"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// ProfileResolver answers "which profile is active at time T" and "what is
// the scheduled basal rate at T". It is built fresh per request from the
// caller's profile list and never fails: with no data it degrades to the
// engine's configured defaults, and callers check HasData before trusting
// resolved values.
type ProfileResolver struct {
	profiles []models.Profile // sorted by activation ascending
	cfg      Config
}

// NewProfileResolver copies and sorts the given profiles. The slice the
// caller passed is left untouched.
func NewProfileResolver(profiles []models.Profile, cfg Config) *ProfileResolver {
	sorted := make([]models.Profile, len(profiles))
	copy(sorted, profiles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ActivationDate < sorted[j].ActivationDate
	})
	return &ProfileResolver{profiles: sorted, cfg: cfg}
}

// HasData returns true if at least one profile is available
func (r *ProfileResolver) HasData() bool {
	return len(r.profiles) > 0
}

// Resolve returns the profile with the latest activation not after t.
// If every profile activates after t, the earliest one is returned.
// Returns nil when no profiles exist.
func (r *ProfileResolver) Resolve(at time.Time) *models.Profile {
	if len(r.profiles) == 0 {
		return nil
	}

	millis := at.UnixMilli()
	active := &r.profiles[0]
	for i := range r.profiles {
		if r.profiles[i].ActivationDate <= millis {
			active = &r.profiles[i]
		} else {
			break
		}
	}
	return active
}

// BasalRateAt returns the scheduled basal rate at t. With no profile data,
// or a profile without a basal schedule, the configured default rate is
// returned.
func (r *ProfileResolver) BasalRateAt(at time.Time) float64 {
	p := r.Resolve(at)
	if p == nil || !p.HasBasalSchedule() {
		return r.cfg.DefaultBasalRate
	}
	return p.BasalRateAt(at)
}

// SensitivityAt returns the active ISF (mg/dL per unit) at t
func (r *ProfileResolver) SensitivityAt(at time.Time) float64 {
	if p := r.Resolve(at); p != nil && p.Sensitivity > 0 {
		return p.Sensitivity
	}
	return r.cfg.DefaultSensitivity
}

// CarbRatioAt returns the active carb ratio (g per unit) at t
func (r *ProfileResolver) CarbRatioAt(at time.Time) float64 {
	if p := r.Resolve(at); p != nil && p.CarbRatio > 0 {
		return p.CarbRatio
	}
	return r.cfg.DefaultCarbRatio
}

// DIAAt returns the active duration of insulin action in hours at t
func (r *ProfileResolver) DIAAt(at time.Time) float64 {
	if p := r.Resolve(at); p != nil && p.DIA > 0 {
		return p.DIA
	}
	return r.cfg.DIAHours
}
