// Package models contains data structures used throughout the application
package models

import (
	"math"
	"sort"
	"time"
)

// BasalSegment is one time-of-day slice of a basal schedule. Minutes is the
// offset from start of day at which the segment's rate takes effect.
type BasalSegment struct {
	Minutes int     `json:"minutes"` // Offset from midnight (0-1439)
	Rate    float64 `json:"rate"`    // U/hr
}

// Profile is a named therapy schedule: basal segments plus the scalar
// parameters the engine needs. The profile with the latest activation not
// after the query time is the active one.
type Profile struct {
	ID             string         `json:"_id"`
	Name           string         `json:"name"`
	ActivationDate int64          `json:"activationDate"` // Unix timestamp in milliseconds
	Basal          []BasalSegment `json:"basal"`
	Sensitivity    float64        `json:"sensitivity"` // ISF: mg/dL lowered per unit
	CarbRatio      float64        `json:"carbRatio"`   // Grams covered per unit
	DIA            float64        `json:"dia"`         // Duration of insulin action in hours
	Units          string         `json:"units"`
}

// ActivatedAt returns the profile's activation time
func (p *Profile) ActivatedAt() time.Time {
	return time.UnixMilli(p.ActivationDate)
}

// HasBasalSchedule returns true if the profile carries at least one segment
func (p *Profile) HasBasalSchedule() bool {
	return len(p.Basal) > 0
}

// BasalRateAt returns the scheduled basal rate for the time-of-day of t.
// Segments wrap across midnight: a time before the first segment's start
// falls in the last segment's window. Returns 0 if the schedule is empty;
// callers are expected to check HasBasalSchedule first.
func (p *Profile) BasalRateAt(t time.Time) float64 {
	if len(p.Basal) == 0 {
		return 0
	}

	schedule := make([]BasalSegment, len(p.Basal))
	copy(schedule, p.Basal)
	sort.Slice(schedule, func(i, j int) bool {
		return schedule[i].Minutes < schedule[j].Minutes
	})

	nowMinutes := t.Hour()*60 + t.Minute()

	// Default to the last segment: its window wraps past midnight.
	rate := schedule[len(schedule)-1].Rate

	for i, seg := range schedule {
		nextMinutes := 24 * 60
		if i+1 < len(schedule) {
			nextMinutes = schedule[i+1].Minutes
		}
		if nowMinutes >= seg.Minutes && nowMinutes < nextMinutes {
			rate = seg.Rate
			break
		}
	}

	return roundRate(rate)
}

// MaxBasalRate returns the highest rate in the schedule, or 0 if empty
func (p *Profile) MaxBasalRate() float64 {
	var max float64
	for _, seg := range p.Basal {
		if seg.Rate > max {
			max = seg.Rate
		}
	}
	return max
}

// roundRate rounds a basal rate to pump precision (3 decimals)
func roundRate(rate float64) float64 {
	return math.Round(rate*1000) / 1000
}
