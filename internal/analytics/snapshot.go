package analytics

import (
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// NativeCadence is the stations' observation interval. Coverage ratios and
// hours-above-threshold conversions assume it.
const NativeCadence = 10 * time.Minute

// Stats is the summary statistic set shared by the snapshot view and each
// timeframe bucket. All metrics are nil when no sample carries the relevant
// field; DataPoints alone distinguishes "no data" from "data with gaps".
type Stats struct {
	DataPoints    int      `json:"dataPoints"`
	CoverageRatio *float64 `json:"coverageRatio"`

	AvgSpeedMps *float64 `json:"avgSpeedMps"`
	P90SpeedMps *float64 `json:"p90SpeedMps"`
	MaxSpeedMps *float64 `json:"maxSpeedMps"`
	HoursAbove3 *float64 `json:"hoursAbove3Mps"`
	HoursAbove5 *float64 `json:"hoursAbove5Mps"`

	MinTempC *float64 `json:"minTempC"`
	AvgTempC *float64 `json:"avgTempC"`
	MaxTempC *float64 `json:"maxTempC"`

	AvgPressureHpa *float64 `json:"avgPressureHpa"`

	PrevailingDirectionDeg *float64 `json:"prevailingDirectionDeg"`
	AvgPowerDensityWm2     *float64 `json:"avgPowerDensityWm2"`
}

// Snapshot is the single-window summary over a loaded range.
type Snapshot struct {
	StationID string    `json:"stationId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Stats
}

// computeStats aggregates one slice of measurements. span is the covered
// wall-clock extent used for the coverage denominator; zero span yields a
// nil ratio rather than a division by zero.
func computeStats(rows []models.Measurement, span time.Duration) Stats {
	stats := Stats{DataPoints: len(rows)}

	if span > 0 {
		expected := float64(span) / float64(NativeCadence)
		if expected > 0 {
			stats.CoverageRatio = ptr(float64(len(rows)) / expected)
		}
	}

	var speeds, temps, pressures, directions, powers []float64
	above3, above5 := 0, 0
	for _, m := range rows {
		if m.Speed.Valid {
			v := m.Speed.Float64
			speeds = append(speeds, v)
			if v > 3 {
				above3++
			}
			if v > 5 {
				above5++
			}

			var p, t *float64
			if m.Pressure.Valid {
				p = ptr(m.Pressure.Float64)
			}
			if m.Temperature.Valid {
				t = ptr(m.Temperature.Float64)
			}
			powers = append(powers, powerDensity(airDensity(p, t), v))
		}
		if m.Temperature.Valid {
			temps = append(temps, m.Temperature.Float64)
		}
		if m.Pressure.Valid {
			pressures = append(pressures, m.Pressure.Float64)
		}
		if m.Direction.Valid {
			directions = append(directions, m.Direction.Float64)
		}
	}

	stats.AvgSpeedMps = mean(speeds)
	stats.P90SpeedMps = percentile90(speeds)
	_, stats.MaxSpeedMps = minMax(speeds)
	if len(speeds) > 0 {
		nativeHours := NativeCadence.Hours()
		stats.HoursAbove3 = ptr(float64(above3) * nativeHours)
		stats.HoursAbove5 = ptr(float64(above5) * nativeHours)
	}

	stats.MinTempC, stats.MaxTempC = minMax(temps)
	stats.AvgTempC = mean(temps)
	stats.AvgPressureHpa = mean(pressures)
	stats.PrevailingDirectionDeg = circularMean(directions)
	stats.AvgPowerDensityWm2 = mean(powers)
	return stats
}
