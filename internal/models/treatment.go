// Package models contains data structures used throughout the application
package models

import "time"

// Treatment represents a single therapy event (insulin, carbs, temp basal, etc.)
// in Nightscout-compatible form. Treatments are read-only snapshots: the engine
// never mutates them, and ordering by Date is the only invariant it relies on.
type Treatment struct {
	ID        string  `json:"_id"`
	EventType string  `json:"eventType"`
	Date      int64   `json:"date"` // Unix timestamp in milliseconds
	CreatedAt string  `json:"created_at"`
	Insulin   float64 `json:"insulin"`  // Units of insulin
	Carbs     float64 `json:"carbs"`    // Grams of carbohydrates
	Duration  float64 `json:"duration"` // Duration in minutes (temp basals, combo boluses)
	Notes     string  `json:"notes"`
	EnteredBy string  `json:"enteredBy"`
	Device    string  `json:"device"`

	// For temp basals. At most one of Percent/Absolute is expected; both nil
	// resolves to the scheduled rate.
	Percent  *float64 `json:"percent,omitempty"`  // Scheduled rate scaled by percent/100
	Absolute *float64 `json:"absolute,omitempty"` // Rate override in U/hr

	// For combo boluses: the extended portion delivered as a basal-like rate.
	Relative *float64 `json:"relative,omitempty"` // U/hr during the combo window

	// For profile switches
	Profile string `json:"profile,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	// Fallback to created_at
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t *Treatment) HasCarbs() bool {
	return t.Carbs > 0
}

// IsBolus returns true if this is a bolus treatment
func (t *Treatment) IsBolus() bool {
	bolusTypes := map[string]bool{
		"Bolus":            true,
		"Snack Bolus":      true,
		"Meal Bolus":       true,
		"Correction Bolus": true,
		"Combo Bolus":      true,
		"Bolus Wizard":     true,
	}
	return bolusTypes[t.EventType] || (t.HasInsulin() && t.EventType != TreatmentEventTypes.TempBasal)
}

// IsTempBasal returns true if this is a temporary basal override
func (t *Treatment) IsTempBasal() bool {
	return t.EventType == TreatmentEventTypes.TempBasal
}

// IsComboBolus returns true if this is a combo (dual-wave) bolus
func (t *Treatment) IsComboBolus() bool {
	return t.EventType == TreatmentEventTypes.ComboBolus
}

// IsProfileSwitch returns true if this treatment switches the active profile
func (t *Treatment) IsProfileSwitch() bool {
	return t.EventType == TreatmentEventTypes.ProfileSwitch
}

// ActiveAt returns true if a duration-bearing treatment covers the given time.
// The covered interval is [start, start+duration).
func (t *Treatment) ActiveAt(at time.Time) bool {
	if t.Duration <= 0 {
		return false
	}
	start := t.Time()
	return !at.Before(start) && at.Before(t.EndTime())
}

// EndTime returns the end of a duration-bearing treatment's interval
func (t *Treatment) EndTime() time.Time {
	return t.Time().Add(time.Duration(t.Duration * float64(time.Minute)))
}

// TreatmentEventTypes contains common Nightscout event types
var TreatmentEventTypes = struct {
	BGCheck         string
	SnackBolus      string
	MealBolus       string
	CorrectionBolus string
	CarbCorrection  string
	ComboBolus      string
	Note            string
	SiteChange      string
	SensorStart     string
	SensorChange    string
	InsulinChange   string
	TempBasal       string
	ProfileSwitch   string
	BolusWizard     string
}{
	BGCheck:         "BG Check",
	SnackBolus:      "Snack Bolus",
	MealBolus:       "Meal Bolus",
	CorrectionBolus: "Correction Bolus",
	CarbCorrection:  "Carb Correction",
	ComboBolus:      "Combo Bolus",
	Note:            "Note",
	SiteChange:      "Site Change",
	SensorStart:     "Sensor Start",
	SensorChange:    "Sensor Change",
	InsulinChange:   "Insulin Change",
	TempBasal:       "Temp Basal",
	ProfileSwitch:   "Profile Switch",
	BolusWizard:     "Bolus Wizard",
}
