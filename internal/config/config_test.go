package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default :8080", cfg.ListenAddr)
	}
}

func TestLoadPartialFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"listenAddr": ":9000", "diaHours": 5}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want overridden :9000", cfg.ListenAddr)
	}
	if cfg.DIAHours != 5 {
		t.Errorf("DIAHours = %f, want overridden 5", cfg.DIAHours)
	}
	// Untouched fields keep their defaults.
	if cfg.CarbAbsorptionRate != 30 {
		t.Errorf("CarbAbsorptionRate = %f, want default 30", cfg.CarbAbsorptionRate)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{listenAddr}`},
		{"zero dia", `{"diaHours": 0}`},
		{"peak outside duration", `{"insulinPeakMinutes": 500}`},
		{"inverted sample bounds", `{"minSampleMinutes": 30, "maxSampleMinutes": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.body), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() = nil error, want rejection")
			}
		})
	}
}

func TestEngineConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.DIAHours = 6
	cfg.SnapshotToleranceMinutes = 2
	cfg.DeltaLookbackMinutes = 10

	eng := cfg.EngineConfig()
	if eng.DIAHours != 6 {
		t.Errorf("DIAHours = %f, want 6", eng.DIAHours)
	}
	if eng.SnapshotTolerance != 2*time.Minute {
		t.Errorf("SnapshotTolerance = %v, want 2m", eng.SnapshotTolerance)
	}
	if eng.DeltaLookback != 10*time.Minute {
		t.Errorf("DeltaLookback = %v, want 10m", eng.DeltaLookback)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.ListenAddr = ":7777"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want :7777", got.ListenAddr)
	}
}
