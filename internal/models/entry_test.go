package models

import (
	"math"
	"testing"
)

func TestGlucoseEntryConversions(t *testing.T) {
	entry := GlucoseEntry{SGV: 180}

	if got := entry.ValueMgDL(); got != 180 {
		t.Errorf("ValueMgDL() = %d, want 180", got)
	}
	if got := entry.ValueMmolL(); math.Abs(got-9.99) > 0.01 {
		t.Errorf("ValueMmolL() = %f, want ~9.99", got)
	}

	if got := ToMgdl(ToMmol(120)); math.Abs(got-120) > 0.0001 {
		t.Errorf("ToMgdl(ToMmol(120)) = %f, want 120", got)
	}
}

func TestGlucoseEntryTrendArrow(t *testing.T) {
	tests := []struct {
		name  string
		entry GlucoseEntry
		want  string
	}{
		{"direction string", GlucoseEntry{Direction: "Flat"}, "→"},
		{"double up", GlucoseEntry{Direction: "DoubleUp"}, "⇈"},
		{"numeric fallback", GlucoseEntry{Trend: 6}, "↓"},
		{"unknown", GlucoseEntry{Direction: "Sideways", Trend: 99}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.TrendArrow(); got != tt.want {
				t.Errorf("TrendArrow() = %q, want %q", got, tt.want)
			}
		})
	}
}
