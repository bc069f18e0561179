package engine

import (
	"math"
	"testing"
	"time"

	"github.com/mrcode/nocturne-server/internal/models"
)

func bolus(at time.Time, units float64) models.Treatment {
	return models.Treatment{
		EventType: models.TreatmentEventTypes.CorrectionBolus,
		Date:      at.UnixMilli(),
		Insulin:   units,
	}
}

func TestIOBAt_SingleBolusLifecycle(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	treatments := []models.Treatment{bolus(t0, 3.0)}

	// At dose time the full amount is on board.
	got := eng.IOBAt(treatments, nil, profiles, t0, 4)
	if math.Abs(got.IOB-3.0) > 0.01 {
		t.Errorf("IOB at dose time = %f, want ~3.0", got.IOB)
	}
	if got.BolusIOB != got.IOB || got.BasalIOB != 0 {
		t.Errorf("partition = bolus %f / basal %f, want all bolus", got.BolusIOB, got.BasalIOB)
	}
	if got.Source != models.SourceDerived {
		t.Errorf("Source = %q, want %q", got.Source, models.SourceDerived)
	}

	// At DIA the dose is fully spent.
	got = eng.IOBAt(treatments, nil, profiles, t0.Add(4*time.Hour), 4)
	if got.IOB != 0 {
		t.Errorf("IOB at DIA = %f, want 0", got.IOB)
	}
}

func TestIOBAt_MonotonicBetweenDoses(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	treatments := []models.Treatment{bolus(t0, 5.0)}

	prev := eng.IOBAt(treatments, nil, profiles, t0, 4).IOB
	for m := 15; m <= 240; m += 15 {
		got := eng.IOBAt(treatments, nil, profiles, t0.Add(time.Duration(m)*time.Minute), 4)
		if got.IOB > prev {
			t.Errorf("IOB rose from %f to %f at +%dm with no new dose", prev, got.IOB, m)
		}
		if got.IOB < 0 {
			t.Errorf("IOB = %f at +%dm, want non-negative", got.IOB, m)
		}
		prev = got.IOB
	}
}

func TestIOBAt_TempBasalMicroDoses(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// 2 U/hr for 30 min against a 1 U/hr schedule: 0.5 U net delivered.
	temp := tempBasal(t0, 30)
	temp.Absolute = f64(2.0)
	treatments := []models.Treatment{temp}

	got := eng.IOBAt(treatments, nil, profiles, t0.Add(30*time.Minute), 4)
	if got.BasalIOB < 0.4 || got.BasalIOB > 0.5 {
		t.Errorf("BasalIOB just after 30min temp = %f, want ~0.5 minus early decay", got.BasalIOB)
	}
	if got.BolusIOB != 0 {
		t.Errorf("BolusIOB = %f, want 0 for pure temp basal", got.BolusIOB)
	}
}

func TestIOBAt_SuspendedTempIsNegative(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// Zero-temp for an hour withholds scheduled insulin: negative basal IOB,
	// but the total never reports below zero.
	temp := tempBasal(t0, 60)
	temp.Absolute = f64(0)
	treatments := []models.Treatment{temp}

	got := eng.IOBAt(treatments, nil, profiles, t0.Add(time.Hour), 4)
	if got.BasalIOB >= 0 {
		t.Errorf("BasalIOB = %f, want negative during zero temp", got.BasalIOB)
	}
	if got.IOB != 0 {
		t.Errorf("IOB = %f, want floored at 0", got.IOB)
	}
}

func TestIOBAt_OldDosesExcluded(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	treatments := []models.Treatment{
		bolus(now.Add(-6*time.Hour), 10.0), // beyond DIA
		bolus(now.Add(30*time.Minute), 4.0), // future
	}

	got := eng.IOBAt(treatments, nil, profiles, now, 4)
	if got.IOB != 0 {
		t.Errorf("IOB = %f, want 0 (old and future doses excluded)", got.IOB)
	}
}

func TestIOBAt_ComboBolusTail(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	combo := models.Treatment{
		EventType: models.TreatmentEventTypes.ComboBolus,
		Date:      t0.UnixMilli(),
		Insulin:   2.0,          // immediate portion
		Duration:  120,          // extended over 2 hours
		Relative:  f64(1.0),     // 1 U/hr => 2 U extended
	}

	got := eng.IOBAt([]models.Treatment{combo}, nil, profiles, t0.Add(2*time.Hour), 4)

	// Immediate portion has decayed for 2h; extended portion is fresher.
	if got.BolusIOB <= 0 {
		t.Errorf("BolusIOB = %f, want positive", got.BolusIOB)
	}
	if got.BasalIOB != 0 {
		t.Errorf("BasalIOB = %f, want 0 (combo tail counts as bolus insulin)", got.BasalIOB)
	}
	if got.IOB >= 4.0 {
		t.Errorf("IOB = %f, want less than total 4 U after 2h of decay", got.IOB)
	}
}

func TestIOBAt_DeviceStatusOverride(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	treatments := []models.Treatment{bolus(now.Add(-time.Hour), 3.0)}
	statuses := []models.DeviceStatus{
		{Date: now.Add(-2 * time.Minute).UnixMilli(), Device: "loop://pump", IOB: f64(1.85)},
	}

	got := eng.IOBAt(treatments, statuses, profiles, now, 4)
	if got.IOB != 1.85 {
		t.Errorf("IOB = %f, want device-reported 1.85", got.IOB)
	}
	if got.Source != "loop://pump" {
		t.Errorf("Source = %q, want %q", got.Source, "loop://pump")
	}

	// A stale status is ignored.
	stale := []models.DeviceStatus{
		{Date: now.Add(-time.Hour).UnixMilli(), Device: "loop://pump", IOB: f64(9)},
	}
	got = eng.IOBAt(treatments, stale, profiles, now, 4)
	if got.Source != models.SourceDerived {
		t.Errorf("Source = %q, want derived for stale telemetry", got.Source)
	}
}

func TestIOBAt_OverrideSkipsStatusWithoutIOB(t *testing.T) {
	eng := NewDefault()
	profiles := flatProfileResolver(1.0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// The nearest status carries only COB; the IOB override must come from
	// the older status that actually reports IOB.
	statuses := []models.DeviceStatus{
		{Date: now.Add(-2 * time.Minute).UnixMilli(), Device: "openaps://rig", COB: f64(18)},
		{Date: now.Add(-8 * time.Minute).UnixMilli(), Device: "loop://pump", IOB: f64(1.5)},
	}

	got := eng.IOBAt(nil, statuses, profiles, now, 4)
	if got.IOB != 1.5 {
		t.Errorf("IOB = %f, want 1.5 from the IOB-reporting status", got.IOB)
	}
	if got.Source != "loop://pump" {
		t.Errorf("Source = %q, want %q", got.Source, "loop://pump")
	}

	// The COB override still comes from the nearer status.
	cob := eng.COBAt(nil, statuses, profiles, now)
	if cob.COB != 18 || cob.Source != "openaps://rig" {
		t.Errorf("COB = %f from %q, want 18 from openaps://rig", cob.COB, cob.Source)
	}
}

func TestIOBAt_EmptyInputIsZero(t *testing.T) {
	eng := NewDefault()

	got := eng.IOBAt(nil, nil, nil, time.Now(), 0)
	if got.IOB != 0 || got.Activity != 0 {
		t.Errorf("IOB/Activity = %f/%f, want zeros for empty input", got.IOB, got.Activity)
	}
}
