package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// fallbackSampleStep is used for energy integration when a sample's spacing
// cannot be derived from its neighbors.
const fallbackSampleStep = 10 * time.Minute

// TimeframeBucket is one grouped period with the shared statistic set, the
// bucket's speed variability, and the generation estimate when simulation
// parameters were supplied.
type TimeframeBucket struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Stats
	SpeedStdDevMps         *float64 `json:"speedStdDevMps"`
	EstimatedGenerationMwh *float64 `json:"estimatedGenerationMwh"`
}

// ComparisonMetric is one baseline/current pair. Deltas are nil when either
// side is missing; no fabricated numbers.
type ComparisonMetric struct {
	Baseline     *float64 `json:"baseline"`
	Current      *float64 `json:"current"`
	Absolute     *float64 `json:"absoluteDelta"`
	PercentDelta *float64 `json:"percentDelta"`
}

// Comparison holds the per-metric deltas between the compare range and the
// primary range.
type Comparison struct {
	BaselineStart time.Time                   `json:"baselineStart"`
	BaselineEnd   time.Time                   `json:"baselineEnd"`
	Metrics       map[string]ComparisonMetric `json:"metrics"`
}

// TimeframeResult is the grouped view: ordered buckets, a rose over the
// source rows, and an optional period comparison.
type TimeframeResult struct {
	StationID string            `json:"stationId"`
	Start     time.Time         `json:"start"`
	End       time.Time         `json:"end"`
	GroupBy   models.GroupBy    `json:"groupBy"`
	Buckets   []TimeframeBucket `json:"buckets"`
	WindRose  WindRoseSummary   `json:"windRose"`
	Compare   *Comparison       `json:"comparison,omitempty"`
}

// bucketBounds returns the grouping key and the bucket's nominal boundaries
// for a timestamp. Seasons are the fixed DJF/MAM/JJA/SON quarters, with DJF
// assigned to December's year.
func bucketBounds(t time.Time, groupBy models.GroupBy) (string, time.Time, time.Time) {
	t = t.UTC()
	switch groupBy {
	case models.GroupByHour:
		start := t.Truncate(time.Hour)
		return start.Format("2006-01-02T15"), start, start.Add(time.Hour)
	case models.GroupByDay:
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01-02"), start, start.AddDate(0, 0, 1)
	case models.GroupByWeek:
		// ISO week, Monday start.
		offset := (int(t.Weekday()) + 6) % 7
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week), start, start.AddDate(0, 0, 7)
	case models.GroupBySeason:
		return seasonBounds(t)
	default: // month
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01"), start, start.AddDate(0, 1, 0)
	}
}

func seasonBounds(t time.Time) (string, time.Time, time.Time) {
	year := t.Year()
	switch t.Month() {
	case time.December:
		return fmt.Sprintf("%04d-DJF", year),
			time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year+1, time.March, 1, 0, 0, 0, 0, time.UTC)
	case time.January, time.February:
		return fmt.Sprintf("%04d-DJF", year-1),
			time.Date(year-1, time.December, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC)
	case time.March, time.April, time.May:
		return fmt.Sprintf("%04d-MAM", year),
			time.Date(year, time.March, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC)
	case time.June, time.July, time.August:
		return fmt.Sprintf("%04d-JJA", year),
			time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC)
	default:
		return fmt.Sprintf("%04d-SON", year),
			time.Date(year, time.September, 1, 0, 0, 0, 0, time.UTC),
			time.Date(year, time.December, 1, 0, 0, 0, 0, time.UTC)
	}
}

// buildTimeframe groups ordered measurements and computes per-bucket stats.
// Bucket boundaries clip to the query range so coverage denominators match
// the data actually requested.
func buildTimeframe(stationID string, rows []models.Measurement, start, end time.Time, groupBy models.GroupBy, sim *models.SimulationParams) TimeframeResult {
	result := TimeframeResult{
		StationID: stationID,
		Start:     start,
		End:       end,
		GroupBy:   groupBy,
	}

	type group struct {
		key        string
		start, end time.Time
		rows       []models.Measurement
	}
	groups := map[string]*group{}
	var order []string
	for _, m := range rows {
		key, bStart, bEnd := bucketBounds(m.MeasuredAt, groupBy)
		g, ok := groups[key]
		if !ok {
			if bStart.Before(start) {
				bStart = start
			}
			if bEnd.After(end) {
				bEnd = end
			}
			g = &group{key: key, start: bStart, end: bEnd}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, m)
	}
	sort.Slice(order, func(i, j int) bool { return groups[order[i]].start.Before(groups[order[j]].start) })

	for _, key := range order {
		g := groups[key]
		bucket := TimeframeBucket{
			Key:   g.key,
			Start: g.start,
			End:   g.end,
			Stats: computeStats(g.rows, g.end.Sub(g.start)),
		}
		bucket.SpeedStdDevMps = popStdDev(validSpeeds(g.rows))
		bucket.EstimatedGenerationMwh = bucketGeneration(g.rows, sim)
		result.Buckets = append(result.Buckets, bucket)
	}

	samples := make([]roseSample, len(rows))
	for i, m := range rows {
		samples[i] = roseSample{speed: nullPtr(m.Speed), direction: nullPtr(m.Direction)}
	}
	result.WindRose = buildWindRose(samples)
	return result
}

// bucketGeneration is the one rule for whether a bucket carries a generation
// estimate: nil without simulation params or samples, a value (possibly zero)
// otherwise.
func bucketGeneration(rows []models.Measurement, sim *models.SimulationParams) *float64 {
	if sim == nil || len(rows) == 0 {
		return nil
	}
	return ptr(estimateGenerationMwh(rows, *sim))
}

func validSpeeds(rows []models.Measurement) []float64 {
	var speeds []float64
	for _, m := range rows {
		if m.Speed.Valid {
			speeds = append(speeds, m.Speed.Float64)
		}
	}
	return speeds
}

// estimateGenerationMwh integrates the turbine power curve over the samples.
// Each sample's duration is the gap to the next sample when plausible, else
// a typical step derived from the series.
func estimateGenerationMwh(rows []models.Measurement, sim models.SimulationParams) float64 {
	if len(rows) == 0 || !sim.Valid() {
		return 0
	}

	typical := typicalStep(rows)
	total := 0.0
	for i, m := range rows {
		dt := typical
		if i+1 < len(rows) {
			if gap := rows[i+1].MeasuredAt.Sub(m.MeasuredAt); gap > 0 && gap <= 24*time.Hour {
				dt = gap
			}
		}
		total += samplePowerKw(m, sim) * dt.Hours()
	}
	return total / 1000
}

// typicalStep is the first plausible spacing in the series, falling back to
// the native cadence.
func typicalStep(rows []models.Measurement) time.Duration {
	for i := 1; i < len(rows); i++ {
		if gap := rows[i].MeasuredAt.Sub(rows[i-1].MeasuredAt); gap > 0 && gap <= 24*time.Hour {
			return gap
		}
	}
	return fallbackSampleStep
}

// samplePowerKw maps one measurement through the power curve. The measured
// speed is density-corrected before the curve lookup; samples outside the
// operating temperature or pressure envelope contribute exactly zero.
func samplePowerKw(m models.Measurement, sim models.SimulationParams) float64 {
	if !m.Speed.Valid {
		return 0
	}
	if m.Temperature.Valid {
		t := m.Temperature.Float64
		if sim.MinOperatingTempC != nil && t < *sim.MinOperatingTempC {
			return 0
		}
		if sim.MaxOperatingTempC != nil && t > *sim.MaxOperatingTempC {
			return 0
		}
	}
	if m.Pressure.Valid {
		p := m.Pressure.Float64
		if sim.MinOperatingPressure != nil && p < *sim.MinOperatingPressure {
			return 0
		}
		if sim.MaxOperatingPressure != nil && p > *sim.MaxOperatingPressure {
			return 0
		}
	}

	refDensity := sim.ReferenceAirDensity
	if refDensity <= 0 {
		refDensity = referenceAirDensity
	}
	density := refDensity
	if m.Pressure.Valid && m.Temperature.Valid {
		density = airDensity(ptr(m.Pressure.Float64), ptr(m.Temperature.Float64))
	}
	vEq := m.Speed.Float64 * math.Cbrt(density/refDensity)

	perTurbine := powerCurveKw(vEq, sim)
	turbines := sim.TurbineCount
	if turbines <= 0 {
		turbines = 1
	}
	return perTurbine * float64(turbines)
}

// powerCurveKw is the three-segment curve: zero below cut-in and at or above
// cut-out, rated power between rated and cut-out, and a cubic ramp between
// cut-in and rated.
func powerCurveKw(speed float64, sim models.SimulationParams) float64 {
	switch {
	case speed < sim.CutInSpeedMps || speed >= sim.CutOutSpeedMps:
		return 0
	case speed >= sim.RatedSpeedMps:
		return sim.RatedPowerKW
	default:
		cutIn3 := math.Pow(sim.CutInSpeedMps, 3)
		rated3 := math.Pow(sim.RatedSpeedMps, 3)
		return sim.RatedPowerKW * (math.Pow(speed, 3) - cutIn3) / (rated3 - cutIn3)
	}
}

// comparisonMetrics are the statistics the period comparison reports.
func buildComparison(baseline, current TimeframeBucket, baselineStart, baselineEnd time.Time) *Comparison {
	cmp := &Comparison{
		BaselineStart: baselineStart,
		BaselineEnd:   baselineEnd,
		Metrics: map[string]ComparisonMetric{
			"avgSpeedMps":            compareMetric(baseline.AvgSpeedMps, current.AvgSpeedMps),
			"p90SpeedMps":            compareMetric(baseline.P90SpeedMps, current.P90SpeedMps),
			"hoursAbove5Mps":         compareMetric(baseline.HoursAbove5, current.HoursAbove5),
			"estimatedGenerationMwh": compareMetric(baseline.EstimatedGenerationMwh, current.EstimatedGenerationMwh),
		},
	}
	return cmp
}

func compareMetric(baseline, current *float64) ComparisonMetric {
	m := ComparisonMetric{Baseline: baseline, Current: current}
	if baseline == nil || current == nil {
		return m
	}
	m.Absolute = ptr(*current - *baseline)
	if *baseline != 0 {
		m.PercentDelta = ptr((*current - *baseline) / *baseline * 100)
	}
	return m
}

func nullPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return ptr(v.Float64)
}
