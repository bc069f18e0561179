package engine

import (
	"math"
	"sort"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

// SnapshotAt assembles a cross-sectional view of therapy state at one
// instant: interpolated glucose with a short-horizon delta, IOB, COB, the
// effective basal rate, and the treatments from the trailing window.
func (e *Engine) SnapshotAt(
	entries []models.GlucoseEntry,
	treatments []models.Treatment,
	statuses []models.DeviceStatus,
	profiles *ProfileResolver,
	at time.Time,
) models.Snapshot {
	if profiles == nil {
		profiles = NewProfileResolver(nil, e.cfg)
	}

	snap := models.Snapshot{
		Time:             at.UnixMilli(),
		IOB:              e.IOBAt(treatments, statuses, profiles, at, 0),
		COB:              e.COBAt(treatments, statuses, profiles, at),
		Basal:            e.BasalAt(treatments, profiles, at),
		RecentTreatments: recentTreatments(treatments, at, e.cfg.TreatmentTrailingWindow),
	}

	glucose, direction, twoSided := e.interpolateGlucose(entries, at)
	if glucose == nil {
		return snap
	}

	snap.Glucose = glucose
	mmol := models.ToMmol(*glucose)
	snap.GlucoseMmol = &mmol
	snap.Direction = direction

	// A one-sided value has nothing meaningful to diff against.
	if twoSided {
		snap.Delta = e.glucoseDelta(entries, *glucose, at)
	}

	return snap
}

// interpolateGlucose resolves a glucose value for the instant: a reading
// within tolerance is used verbatim; otherwise the nearest readings on each
// side are linearly interpolated; with only one side available that reading
// is used as-is; with none the value is nil.
func (e *Engine) interpolateGlucose(entries []models.GlucoseEntry, at time.Time) (value *float64, direction string, twoSided bool) {
	var before, after *models.GlucoseEntry

	for i := range entries {
		t := entries[i].Time()
		if !t.After(at) {
			if before == nil || t.After(before.Time()) {
				before = &entries[i]
			}
		}
		if !t.Before(at) {
			if after == nil || t.Before(after.Time()) {
				after = &entries[i]
			}
		}
	}

	verbatim := func(entry *models.GlucoseEntry) (*float64, string, bool) {
		v := float64(entry.SGV)
		return &v, entry.Direction, true
	}

	if before != nil && absDuration(at.Sub(before.Time())) <= e.cfg.SnapshotTolerance {
		return verbatim(before)
	}
	if after != nil && absDuration(after.Time().Sub(at)) <= e.cfg.SnapshotTolerance {
		return verbatim(after)
	}

	switch {
	case before != nil && after != nil:
		span := after.Time().Sub(before.Time())
		if span <= 0 {
			return verbatim(before)
		}
		frac := float64(at.Sub(before.Time())) / float64(span)
		v := float64(before.SGV) + frac*float64(after.SGV-before.SGV)
		v = math.Round(v*10) / 10
		return &v, "", true
	case before != nil:
		v := float64(before.SGV)
		return &v, before.Direction, false
	case after != nil:
		v := float64(after.SGV)
		return &v, after.Direction, false
	}

	return nil, "", false
}

// glucoseDelta diffs the resolved value against the reading closest to the
// configured lookback before the instant. Readings within tolerance of the
// instant are skipped: the reading a verbatim snapshot came from cannot also
// serve as its reference. No sufficiently close prior reading means no delta.
func (e *Engine) glucoseDelta(entries []models.GlucoseEntry, value float64, at time.Time) *float64 {
	target := at.Add(-e.cfg.DeltaLookback)
	cutoff := at.Add(-e.cfg.SnapshotTolerance)

	var closest *models.GlucoseEntry
	var closestDiff time.Duration

	for i := range entries {
		t := entries[i].Time()
		if t.After(cutoff) {
			continue
		}
		diff := absDuration(t.Sub(target))
		if closest == nil || diff < closestDiff {
			closest = &entries[i]
			closestDiff = diff
		}
	}

	// Anything further than two lookbacks from the target says more about
	// sensor gaps than about trend.
	if closest == nil || closestDiff > 2*e.cfg.DeltaLookback {
		return nil
	}

	delta := math.Round((value-float64(closest.SGV))*10) / 10
	return &delta
}

// recentTreatments returns the treatments inside the trailing window before
// at, newest first.
func recentTreatments(treatments []models.Treatment, at time.Time, window time.Duration) []models.Treatment {
	cutoff := at.Add(-window)

	recent := make([]models.Treatment, 0)
	for _, t := range treatments {
		tt := t.Time()
		if tt.After(cutoff) && !tt.After(at) {
			recent = append(recent, t)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Date > recent[j].Date
	})
	return recent
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
