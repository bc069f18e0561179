// Package engine implements the physiological time-series reconstruction
// core: insulin-on-board, carbs-on-board and effective basal rate, computed
// at arbitrary instants or as continuous series from caller-supplied therapy
// events. The engine is purely functional: it owns no state, performs no I/O
// and mutates nothing it is given.
package engine

import "time"

// Config contains the engine's model parameters. All fields have working
// defaults from DefaultConfig; zero values are not usable directly.
type Config struct {
	// Insulin activity model
	InsulinModel       string  // "exponential" or "bilinear"
	InsulinPeakMinutes float64 // Peak activity time (75 for rapid-acting analogs)
	DIAHours           float64 // Duration of insulin action when no profile supplies one

	// Fallback scheduled rate when no profile data exists at all. Resolvers
	// degrade to this instead of failing; callers check HasData.
	DefaultBasalRate float64 // U/hr

	DefaultSensitivity float64 // ISF fallback, mg/dL per unit
	DefaultCarbRatio   float64 // Grams per unit fallback

	// Carb absorption
	CarbAbsorptionRate    float64 // g/hr baseline
	MinCarbAbsorptionRate float64 // g/hr floor: large entries never decay slower than this
	CarbActivityBoost     float64 // Extra absorption per U/min of insulin activity
	MaxCob                float64 // Grams cap on tracked COB

	// Basal reconstruction
	GapFillMinutes int // Cadence for inferring rates where no span covers

	// Sampler bounds
	MinSampleMinutes int
	MaxSampleMinutes int
	MaxSamplePoints  int

	// Snapshot assembly
	SnapshotTolerance       time.Duration // Reading within this of T is used verbatim
	DeltaLookback           time.Duration // Target offset for the delta reading
	TreatmentTrailingWindow time.Duration // Recent-treatment window

	// Device telemetry within this of T may override derived IOB/COB
	DeviceStatusTolerance time.Duration
}

// DefaultConfig returns the recommended engine configuration
func DefaultConfig() Config {
	return Config{
		InsulinModel:       ModelExponential,
		InsulinPeakMinutes: 75,
		DIAHours:           4,

		DefaultBasalRate:   1.0,
		DefaultSensitivity: 50,
		DefaultCarbRatio:   10,

		CarbAbsorptionRate:    30,
		MinCarbAbsorptionRate: 12,
		CarbActivityBoost:     0.5,
		MaxCob:                120,

		GapFillMinutes: 5,

		MinSampleMinutes: 1,
		MaxSampleMinutes: 60,
		MaxSamplePoints:  5000,

		SnapshotTolerance:       time.Minute,
		DeltaLookback:           5 * time.Minute,
		TreatmentTrailingWindow: time.Hour,

		DeviceStatusTolerance: 10 * time.Minute,
	}
}

// Engine evaluates the reconstruction calculations under one configuration.
// It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine with the given configuration
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// NewDefault creates an engine with DefaultConfig
func NewDefault() *Engine {
	return New(DefaultConfig())
}

// Config returns the engine's configuration
func (e *Engine) Config() Config {
	return e.cfg
}
