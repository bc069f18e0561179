// Package models contains data structures used throughout the application
package models

import "time"

// SpanCategory identifies what kind of system state a StateSpan records.
type SpanCategory string

const (
	SpanBasalDelivery SpanCategory = "basal-delivery"
	SpanPumpMode      SpanCategory = "pump-mode"
	SpanProfile       SpanCategory = "profile"
)

// BasalOrigin tags where a basal rate came from.
type BasalOrigin string

const (
	OriginScheduled BasalOrigin = "scheduled"
	OriginAlgorithm BasalOrigin = "algorithm"
	OriginManual    BasalOrigin = "manual"
	OriginSuspended BasalOrigin = "suspended"
	// OriginInferred marks points reconstructed from profile and temp basal
	// records rather than confirmed by the device.
	OriginInferred BasalOrigin = "inferred"
)

// ValidBasalOrigin reports whether o is an origin a device may report.
// Inferred is reserved for engine output and rejected at ingestion.
func ValidBasalOrigin(o BasalOrigin) bool {
	switch o {
	case OriginScheduled, OriginAlgorithm, OriginManual, OriginSuspended:
		return true
	}
	return false
}

// StateSpan is a time-ranged, device-confirmed record of a system state.
// For the basal-delivery category the payload is the typed Rate/Origin pair.
// Spans are authoritative over inferred values for their covered interval.
type StateSpan struct {
	ID       string       `json:"_id"`
	Category SpanCategory `json:"category"`
	State    string       `json:"state"`
	Start    int64        `json:"start"`         // Unix timestamp in milliseconds
	End      *int64       `json:"end,omitempty"` // nil = still active

	// Basal-delivery payload. Rate may be nil only for suspended spans.
	Rate   *float64    `json:"rate,omitempty"` // U/hr
	Origin BasalOrigin `json:"origin,omitempty"`
}

// StartTime returns the span's start time
func (s *StateSpan) StartTime() time.Time {
	return time.UnixMilli(s.Start)
}

// EndTime returns the span's end, or ok=false for an open-ended span.
func (s *StateSpan) EndTime() (time.Time, bool) {
	if s.End == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.End), true
}

// Covers returns true if the span's interval contains the given time.
// Open-ended spans cover everything from their start onward.
func (s *StateSpan) Covers(at time.Time) bool {
	if at.Before(s.StartTime()) {
		return false
	}
	end, ok := s.EndTime()
	if !ok {
		return true
	}
	return at.Before(end)
}

// EffectiveRate returns the delivered rate the span asserts. Suspended spans
// deliver zero regardless of any declared rate.
func (s *StateSpan) EffectiveRate(fallback float64) float64 {
	if s.Origin == OriginSuspended {
		return 0
	}
	if s.Rate != nil {
		return *s.Rate
	}
	return fallback
}

// DeviceStatus is device-reported point-in-time telemetry. Closed-loop pumps
// report their own IOB/COB; when present those are preferred over locally
// derived values.
type DeviceStatus struct {
	ID     string   `json:"_id"`
	Date   int64    `json:"date"` // Unix timestamp in milliseconds
	Device string   `json:"device"`
	IOB    *float64 `json:"iob,omitempty"` // Loop-reported insulin on board
	COB    *float64 `json:"cob,omitempty"` // Loop-reported carbs on board
}

// Time returns the time of the status report
func (d *DeviceStatus) Time() time.Time {
	return time.UnixMilli(d.Date)
}
