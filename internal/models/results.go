// Package models contains data structures used throughout the application
package models

// SourceDerived marks engine-computed values, as opposed to values a
// closed-loop device reported about itself.
const SourceDerived = "derived"

// IobResult is the insulin-on-board picture at one instant.
type IobResult struct {
	Time     int64   `json:"time"` // Unix timestamp in milliseconds
	IOB      float64 `json:"iob"`  // Total units still active
	BolusIOB float64 `json:"bolusIob"`
	BasalIOB float64 `json:"basalIob"` // From temp-basal deviation micro-doses
	Activity float64 `json:"activity"` // Units metabolized per minute
	Source   string  `json:"source"`   // "derived" or reporting device name
}

// CobResult is the carbs-on-board picture at one instant.
type CobResult struct {
	Time           int64   `json:"time"`
	COB            float64 `json:"cob"`        // Grams not yet absorbed
	IsDecaying     bool    `json:"isDecaying"` // Any tracked entry still has remaining grams
	AbsorptionRate float64 `json:"absorptionRate"` // Effective g/hr in use
	CarbImpact     float64 `json:"carbImpact"`     // Raw impact in mg/dL per 5 min
	Source         string  `json:"source"`
}

// BasalStatus is the effective basal rate at one instant.
type BasalStatus struct {
	Time          int64   `json:"time"`
	Rate          float64 `json:"rate"`          // Effective delivered U/hr
	ScheduledRate float64 `json:"scheduledRate"` // Profile rate for comparison
	TempActive    bool    `json:"tempActive"`    // A temp basal override covers this instant
}

// BasalPoint is one run-length-encoded point of a reconstructed basal
// timeline. A point is emitted only when a tracked value changes.
type BasalPoint struct {
	Time          int64       `json:"time"`
	Rate          float64     `json:"rate"`
	ScheduledRate float64     `json:"scheduledRate"`
	Origin        BasalOrigin `json:"origin"`
}

// Snapshot is a cross-sectional view of therapy state at one instant, used
// for retrospective review. Glucose fields are nil when no reading can be
// interpolated for the requested time.
type Snapshot struct {
	Time        int64       `json:"time"`
	Glucose     *float64    `json:"glucose,omitempty"`     // mg/dL, interpolated
	GlucoseMmol *float64    `json:"glucoseMmol,omitempty"` // mmol/L
	Delta       *float64    `json:"delta,omitempty"`       // vs. reading ~5 min earlier
	Direction   string      `json:"direction,omitempty"`
	IOB         IobResult   `json:"iob"`
	COB         CobResult   `json:"cob"`
	Basal       BasalStatus `json:"basal"`
	// Treatments in the trailing window before the snapshot time, newest first.
	RecentTreatments []Treatment `json:"recentTreatments"`
}
