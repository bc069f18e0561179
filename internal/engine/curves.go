package engine

import "math"

// Insulin activity model names accepted by Config.InsulinModel.
const (
	ModelExponential = "exponential"
	ModelBilinear    = "bilinear"
)

// InsulinCurve models how a dose of insulin is metabolized over time. Both
// functions take minutes since the dose. RemainingFraction is the share of
// the dose still on board (1 at t=0, 0 at DIA); Activity is its rate of
// consumption per minute (the negative derivative of RemainingFraction).
type InsulinCurve interface {
	RemainingFraction(minutes float64) float64
	Activity(minutes float64) float64
}

// NewInsulinCurve builds the curve variant named by model. Unknown names
// fall back to the exponential model.
func NewInsulinCurve(model string, peakMinutes, diaMinutes float64) InsulinCurve {
	switch model {
	case ModelBilinear:
		return newBilinearCurve(peakMinutes, diaMinutes)
	default:
		return newExponentialCurve(peakMinutes, diaMinutes)
	}
}

// exponentialCurve is the standard exponential insulin activity model with
// Activity(t) = S * (t/tau^2) * (1 - t/DIA) * exp(-t/tau), normalized so the
// dose is exactly consumed at DIA. RemainingFraction is its closed-form
// integral, so the two stay consistent as a derivative pair.
type exponentialCurve struct {
	dia float64
	tau float64
	a   float64
	s   float64
}

func newExponentialCurve(peak, dia float64) *exponentialCurve {
	if dia <= 0 {
		dia = 1
	}
	// The time constant diverges as the peak approaches DIA/2.
	if peak <= 0 || peak >= dia/2 {
		peak = dia / 4
	}

	tau := peak * (1 - peak/dia) / (1 - 2*peak/dia)
	a := 2 * tau / dia
	s := 1 / (1 - a + (1+a)*math.Exp(-dia/tau))

	return &exponentialCurve{dia: dia, tau: tau, a: a, s: s}
}

func (c *exponentialCurve) RemainingFraction(minutes float64) float64 {
	if minutes <= 0 {
		return 1
	}
	if minutes >= c.dia {
		return 0
	}

	t := minutes
	inner := (t*t/(c.tau*c.dia*(1-c.a)) - t/c.tau - 1) * math.Exp(-t/c.tau)
	remaining := 1 - c.s*(1-c.a)*(inner+1)
	return clamp01(remaining)
}

func (c *exponentialCurve) Activity(minutes float64) float64 {
	if minutes <= 0 || minutes >= c.dia {
		return 0
	}
	return c.s * (minutes / (c.tau * c.tau)) * (1 - minutes/c.dia) * math.Exp(-minutes/c.tau)
}

// bilinearCurve is the triangular activity model: activity climbs linearly
// to the peak, then falls linearly to zero at DIA. Cruder than the
// exponential model but matches older pump calculators.
type bilinearCurve struct {
	peak float64
	dia  float64
}

func newBilinearCurve(peak, dia float64) *bilinearCurve {
	if dia <= 0 {
		dia = 1
	}
	if peak <= 0 || peak >= dia {
		peak = dia / 4
	}
	return &bilinearCurve{peak: peak, dia: dia}
}

func (c *bilinearCurve) Activity(minutes float64) float64 {
	if minutes <= 0 || minutes >= c.dia {
		return 0
	}
	// Normalized so the triangle's area is 1: height 2/dia at the peak.
	height := 2 / c.dia
	if minutes <= c.peak {
		return height * minutes / c.peak
	}
	return height * (c.dia - minutes) / (c.dia - c.peak)
}

func (c *bilinearCurve) RemainingFraction(minutes float64) float64 {
	if minutes <= 0 {
		return 1
	}
	if minutes >= c.dia {
		return 0
	}

	var absorbed float64
	if minutes <= c.peak {
		absorbed = minutes * minutes / (c.peak * c.dia)
	} else {
		rest := c.dia - minutes
		span := c.dia - c.peak
		absorbed = c.peak/c.dia + (span*span-rest*rest)/(c.dia*span)
	}
	return clamp01(1 - absorbed)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
