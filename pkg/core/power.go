/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: power.go
Description: Annealing power schedule. The temperature starts at 1 and decays exponentially
with campaign time; while hot every seed gets the same energy, as it cools energy shifts
toward seeds whose executions ran closest to the targets.
*/

package core

import (
	"math"
	"time"
)

// Annealing constants.
const (
	// TemperatureBase makes T fall to 0.05 once elapsed reaches the time-to-exploit.
	TemperatureBase = 20.0
	// MaxPowerExponent bounds the factor to [2^-5, 2^5].
	MaxPowerExponent = 5.0
)

// Temperature returns T = 20^(-elapsed/timeToExploit).
func Temperature(elapsed, timeToExploit time.Duration) float64 {
	if timeToExploit <= 0 {
		return 0
	}
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(TemperatureBase, -float64(elapsed)/float64(timeToExploit))
}

// PowerFactor maps a normalized distance in [0,1] and a temperature to an
// energy multiplier: p = (1-d)(1-T) + 0.5T, factor = 2^(10p-5).
func PowerFactor(normDistance, temperature float64) float64 {
	d := clamp01(normDistance)
	t := clamp01(temperature)
	p := (1-d)*(1-t) + 0.5*t
	return math.Pow(2, 2*MaxPowerExponent*p-MaxPowerExponent)
}

// NormalizeDistance places d within the corpus range [min, max]. A flat
// range gives the midpoint.
func NormalizeDistance(d, min, max float64) float64 {
	if max <= min {
		return 0.5
	}
	return clamp01((d - min) / (max - min))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.5
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
