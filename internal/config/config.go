// Package config loads server configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mrcode/nocturne-server/internal/engine"
)

// Config contains all server settings
type Config struct {
	// Server settings
	ListenAddr   string `json:"listenAddr"`
	DatabasePath string `json:"databasePath"`

	// Insulin model settings
	InsulinModel       string  `json:"insulinModel"` // "exponential" or "bilinear"
	InsulinPeakMinutes float64 `json:"insulinPeakMinutes"`
	DIAHours           float64 `json:"diaHours"`

	// Fallbacks used when no profile is stored
	DefaultBasalRate   float64 `json:"defaultBasalRate"`   // U/hr
	DefaultSensitivity float64 `json:"defaultSensitivity"` // mg/dL per U
	DefaultCarbRatio   float64 `json:"defaultCarbRatio"`   // g per U

	// Carb absorption settings
	CarbAbsorptionRate    float64 `json:"carbAbsorptionRate"`    // g/hr baseline
	MinCarbAbsorptionRate float64 `json:"minCarbAbsorptionRate"` // g/hr floor
	CarbActivityBoost     float64 `json:"carbActivityBoost"`
	MaxCob                float64 `json:"maxCob"` // grams

	// Series settings
	GapFillMinutes   int `json:"gapFillMinutes"`
	MinSampleMinutes int `json:"minSampleMinutes"`
	MaxSampleMinutes int `json:"maxSampleMinutes"`
	MaxSamplePoints  int `json:"maxSamplePoints"`

	// Snapshot settings (minutes)
	SnapshotToleranceMinutes int `json:"snapshotToleranceMinutes"`
	DeltaLookbackMinutes     int `json:"deltaLookbackMinutes"`
	TreatmentTrailingMinutes int `json:"treatmentTrailingMinutes"`
	DeviceStatusTolerance    int `json:"deviceStatusToleranceMinutes"`
}

// Default returns a config with default values
func Default() *Config {
	eng := engine.DefaultConfig()
	return &Config{
		ListenAddr:   ":8080",
		DatabasePath: "nocturne.db",

		InsulinModel:       eng.InsulinModel,
		InsulinPeakMinutes: eng.InsulinPeakMinutes,
		DIAHours:           eng.DIAHours,

		DefaultBasalRate:   eng.DefaultBasalRate,
		DefaultSensitivity: eng.DefaultSensitivity,
		DefaultCarbRatio:   eng.DefaultCarbRatio,

		CarbAbsorptionRate:    eng.CarbAbsorptionRate,
		MinCarbAbsorptionRate: eng.MinCarbAbsorptionRate,
		CarbActivityBoost:     eng.CarbActivityBoost,
		MaxCob:                eng.MaxCob,

		GapFillMinutes:   eng.GapFillMinutes,
		MinSampleMinutes: eng.MinSampleMinutes,
		MaxSampleMinutes: eng.MaxSampleMinutes,
		MaxSamplePoints:  eng.MaxSamplePoints,

		SnapshotToleranceMinutes: int(eng.SnapshotTolerance.Minutes()),
		DeltaLookbackMinutes:     int(eng.DeltaLookback.Minutes()),
		TreatmentTrailingMinutes: int(eng.TreatmentTrailingWindow.Minutes()),
		DeviceStatusTolerance:    int(eng.DeviceStatusTolerance.Minutes()),
	}
}

// Load reads the config file at path. A missing file yields the defaults;
// a present file is decoded over the defaults, so partial files work.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listenAddr must be set")
	}
	if c.DIAHours <= 0 {
		return fmt.Errorf("diaHours must be positive, got %v", c.DIAHours)
	}
	if c.InsulinPeakMinutes <= 0 || c.InsulinPeakMinutes >= c.DIAHours*60 {
		return fmt.Errorf("insulinPeakMinutes must be inside the insulin duration")
	}
	if c.CarbAbsorptionRate <= 0 {
		return fmt.Errorf("carbAbsorptionRate must be positive, got %v", c.CarbAbsorptionRate)
	}
	if c.GapFillMinutes <= 0 {
		return fmt.Errorf("gapFillMinutes must be positive, got %d", c.GapFillMinutes)
	}
	if c.MinSampleMinutes <= 0 || c.MaxSampleMinutes < c.MinSampleMinutes {
		return fmt.Errorf("sample interval bounds %d-%d are inverted", c.MinSampleMinutes, c.MaxSampleMinutes)
	}
	if c.MaxSamplePoints <= 0 {
		return fmt.Errorf("maxSamplePoints must be positive, got %d", c.MaxSamplePoints)
	}
	return nil
}

// EngineConfig maps the server settings onto the engine's configuration.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		InsulinModel:       c.InsulinModel,
		InsulinPeakMinutes: c.InsulinPeakMinutes,
		DIAHours:           c.DIAHours,

		DefaultBasalRate:   c.DefaultBasalRate,
		DefaultSensitivity: c.DefaultSensitivity,
		DefaultCarbRatio:   c.DefaultCarbRatio,

		CarbAbsorptionRate:    c.CarbAbsorptionRate,
		MinCarbAbsorptionRate: c.MinCarbAbsorptionRate,
		CarbActivityBoost:     c.CarbActivityBoost,
		MaxCob:                c.MaxCob,

		GapFillMinutes:   c.GapFillMinutes,
		MinSampleMinutes: c.MinSampleMinutes,
		MaxSampleMinutes: c.MaxSampleMinutes,
		MaxSamplePoints:  c.MaxSamplePoints,

		SnapshotTolerance:       time.Duration(c.SnapshotToleranceMinutes) * time.Minute,
		DeltaLookback:           time.Duration(c.DeltaLookbackMinutes) * time.Minute,
		TreatmentTrailingWindow: time.Duration(c.TreatmentTrailingMinutes) * time.Minute,
		DeviceStatusTolerance:   time.Duration(c.DeviceStatusTolerance) * time.Minute,
	}
}
