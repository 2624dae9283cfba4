package analytics

import (
	"fmt"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// MeasurementSource is the store-side read surface the engine needs.
type MeasurementSource interface {
	GetMeasurements(stationID string, start, end time.Time) ([]models.Measurement, error)
}

// Engine computes the three read views. It never triggers fetching; ranges
// with no local data come back as explicit empty results.
type Engine struct {
	source MeasurementSource
}

func NewEngine(source MeasurementSource) *Engine {
	return &Engine{source: source}
}

func (e *Engine) GetSnapshot(stationID string, start, end time.Time) (*Snapshot, error) {
	rows, err := e.source.GetMeasurements(stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	return &Snapshot{
		StationID: stationID,
		Start:     start.UTC(),
		End:       end.UTC(),
		Stats:     computeStats(rows, end.Sub(start)),
	}, nil
}

func (e *Engine) GetPlayback(stationID string, start, end time.Time, step models.PlaybackStep) (*PlaybackResult, error) {
	rows, err := e.source.GetMeasurements(stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	result := buildPlayback(stationID, rows, start.UTC(), end.UTC(), step, DefaultFrameBudget)
	return &result, nil
}

// GetTimeframe groups the range, optionally estimating generation and
// comparing against an equivalent baseline range.
func (e *Engine) GetTimeframe(stationID string, start, end time.Time, groupBy models.GroupBy, sim *models.SimulationParams, compareStart, compareEnd *time.Time) (*TimeframeResult, error) {
	rows, err := e.source.GetMeasurements(stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load measurements: %w", err)
	}
	result := buildTimeframe(stationID, rows, start.UTC(), end.UTC(), groupBy, sim)

	if compareStart != nil && compareEnd != nil {
		baseRows, err := e.source.GetMeasurements(stationID, *compareStart, *compareEnd)
		if err != nil {
			return nil, fmt.Errorf("load baseline measurements: %w", err)
		}
		baseline := aggregateBucket(baseRows, compareStart.UTC(), compareEnd.UTC(), sim)
		current := aggregateBucket(rows, start.UTC(), end.UTC(), sim)
		result.Compare = buildComparison(baseline, current, compareStart.UTC(), compareEnd.UTC())
	}
	return &result, nil
}

// aggregateBucket treats a whole range as one bucket, for comparisons.
func aggregateBucket(rows []models.Measurement, start, end time.Time, sim *models.SimulationParams) TimeframeBucket {
	bucket := TimeframeBucket{
		Start: start,
		End:   end,
		Stats: computeStats(rows, end.Sub(start)),
	}
	bucket.SpeedStdDevMps = popStdDev(validSpeeds(rows))
	bucket.EstimatedGenerationMwh = bucketGeneration(rows, sim)
	return bucket
}
