// Package cost prices generation work and compares actual spend against the
// estimate made at job creation.
package cost

import (
	"math"

	"storyreel/internal/config"
	"storyreel/internal/ledger"
)

// Pricing is a per-second rate table.
type Pricing struct {
	VideoPerSecond float64
	MusicPerSecond float64
}

// NewPricing reads rates from configuration.
func NewPricing(cfg config.Cost) Pricing {
	return Pricing{
		VideoPerSecond: cfg.VideoRatePerSecond,
		MusicPerSecond: cfg.MusicRatePerSecond,
	}
}

// Clip prices one generated clip.
func (p Pricing) Clip(seconds float64) float64 {
	return round(math.Max(seconds, 0) * p.VideoPerSecond)
}

// Music prices one music generation or continuation step.
func (p Pricing) Music(seconds float64) float64 {
	return round(math.Max(seconds, 0) * p.MusicPerSecond)
}

// Estimate prices a whole job assuming every pair and every audio step
// succeeds.
func (p Pricing) Estimate(pairs []ledger.Pair, audio bool) float64 {
	total := 0.0
	for _, pair := range pairs {
		total += p.Clip(pair.DurationSeconds)
		if audio {
			total += p.Music(pair.DurationSeconds)
		}
	}
	return round(total)
}

// Variance compares actual spend to the estimate.
type Variance struct {
	Estimated float64
	Actual    float64
	// Ratio is actual/estimated, or 0 when nothing was estimated.
	Ratio   float64
	Flagged bool
}

// Check flags a job when |actual/estimated - 1| exceeds threshold. A zero
// estimate is flagged only when something was spent. threshold <= 0
// disables flagging.
func Check(estimated, actual, threshold float64) Variance {
	v := Variance{Estimated: estimated, Actual: actual}
	if estimated > 0 {
		v.Ratio = actual / estimated
	}
	if threshold <= 0 {
		return v
	}
	if estimated <= 0 {
		v.Flagged = actual > 0
		return v
	}
	v.Flagged = math.Abs(v.Ratio-1) > threshold
	return v
}

// round keeps sums stable at a tenth of a cent.
func round(value float64) float64 {
	return math.Round(value*10000) / 10000
}
