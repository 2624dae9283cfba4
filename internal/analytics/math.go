// Package analytics derives read-only views (snapshot, playback, timeframe,
// wind rose) from the measurement store. Nothing here writes.
package analytics

import (
	"math"
	"sort"
)

const (
	// dryAirGasConstant is R_d in J/(kg·K).
	dryAirGasConstant = 287.05

	// referenceAirDensity is the ISA sea-level fallback in kg/m³, used when
	// pressure or temperature is missing.
	referenceAirDensity = 1.225
)

func ptr(v float64) *float64 { return &v }

// mean returns nil for an empty input.
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return ptr(sum / float64(len(values)))
}

func minMax(values []float64) (*float64, *float64) {
	if len(values) == 0 {
		return nil, nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return ptr(lo), ptr(hi)
}

// percentile90 is the nearest-rank P90: the value at index ceil(0.9·n)-1 of
// the sorted input. No interpolation, so snapshot and timeframe agree on the
// same sample set.
func percentile90(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.9*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return ptr(sorted[idx])
}

// popStdDev is the population standard deviation. Nil for empty input.
func popStdDev(values []float64) *float64 {
	m := mean(values)
	if m == nil {
		return nil
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - *m
		sumSq += d * d
	}
	return ptr(math.Sqrt(sumSq / float64(len(values))))
}

// circularMean averages wind directions (degrees) on the unit circle and
// normalizes to [0, 360). Nil for an empty set and for the degenerate case
// where the vectors cancel out.
func circularMean(degrees []float64) *float64 {
	if len(degrees) == 0 {
		return nil
	}
	var sinSum, cosSum float64
	for _, d := range degrees {
		r := d * math.Pi / 180
		sinSum += math.Sin(r)
		cosSum += math.Cos(r)
	}
	if math.Hypot(sinSum, cosSum) < 1e-9 {
		return nil
	}
	deg := math.Atan2(sinSum, cosSum) * 180 / math.Pi
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// Opposing inputs like {10, 350} leave a −ε sine sum; the wrap above
	// would then report 360−ε, which is outside [0, 360).
	if 360-deg < 1e-9 {
		deg = 0
	}
	return ptr(deg)
}

// windToward converts a meteorological from-direction to the direction air
// moves toward.
func windToward(fromDeg float64) float64 {
	return math.Mod(fromDeg+180, 360)
}

// flowVector decomposes speed and from-direction into the 2-D vector of air
// movement: dx east, dy north.
func flowVector(speed, fromDeg float64) (dx, dy float64) {
	r := windToward(fromDeg) * math.Pi / 180
	return speed * math.Sin(r), speed * math.Cos(r)
}

// airDensity applies the ideal gas law to pressure (hPa) and temperature
// (°C). Either missing falls back to the reference density.
func airDensity(pressureHpa, tempC *float64) float64 {
	if pressureHpa == nil || tempC == nil {
		return referenceAirDensity
	}
	kelvin := *tempC + 273.15
	if kelvin <= 0 {
		return referenceAirDensity
	}
	return (*pressureHpa * 100) / (dryAirGasConstant * kelvin)
}

// powerDensity is the kinetic energy flux 0.5·ρ·v³ in W/m².
func powerDensity(density, speed float64) float64 {
	return 0.5 * density * speed * speed * speed
}
