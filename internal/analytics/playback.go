package analytics

import (
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// DefaultFrameBudget caps playback sequence length. A request whose range
// would exceed it at the asked step is answered at the next coarser step
// instead of failing.
const DefaultFrameBudget = 1500

type FrameQuality string

const (
	FrameObserved   FrameQuality = "observed"
	FrameAggregated FrameQuality = "aggregated"
	FrameGapFilled  FrameQuality = "gap_filled"
)

// Frame is one fixed-cadence playback sample. Gap-filled frames carry nil
// values; missing stretches are visible, never interpolated over.
type Frame struct {
	Timestamp    time.Time    `json:"timestamp"`
	Quality      FrameQuality `json:"qualityFlag"`
	TemperatureC *float64     `json:"temperatureC"`
	PressureHpa  *float64     `json:"pressureHpa"`
	SpeedMps     *float64     `json:"speedMps"`
	DirectionDeg *float64     `json:"directionDeg"`
	FlowDx       *float64     `json:"flowDx"`
	FlowDy       *float64     `json:"flowDy"`
}

// PlaybackResult is the frame sequence plus the rose over those frames.
// EffectiveStep may be coarser than the requested step when the frame budget
// forced a substitution.
type PlaybackResult struct {
	StationID     string              `json:"stationId"`
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	RequestedStep models.PlaybackStep `json:"requestedStep"`
	EffectiveStep models.PlaybackStep `json:"effectiveStep"`
	Frames        []Frame             `json:"frames"`
	WindRose      WindRoseSummary     `json:"windRose"`
}

// coercePlaybackStep walks toward coarser steps until the frame count fits
// the budget, stopping at the coarsest step regardless.
func coercePlaybackStep(step models.PlaybackStep, start, end time.Time, budget int) models.PlaybackStep {
	for {
		frames := int(end.Sub(start) / step.Duration())
		if frames <= budget {
			return step
		}
		coarser := step.Coarser()
		if coarser == step {
			return step
		}
		step = coarser
	}
}

// buildPlayback resamples ordered measurements onto the step grid. A frame
// covering exactly one source sample is observed, several samples average
// into an aggregated frame, and an empty sub-interval yields a gap-filled
// frame of nils.
func buildPlayback(stationID string, rows []models.Measurement, start, end time.Time, requested models.PlaybackStep, budget int) PlaybackResult {
	if budget <= 0 {
		budget = DefaultFrameBudget
	}
	step := coercePlaybackStep(requested, start, end, budget)
	dur := step.Duration()

	result := PlaybackResult{
		StationID:     stationID,
		Start:         start,
		End:           end,
		RequestedStep: requested,
		EffectiveStep: step,
	}

	next := 0
	for t := start; t.Before(end); t = t.Add(dur) {
		frameEnd := t.Add(dur)

		// rows are ordered; advance a cursor instead of rescanning.
		first := next
		for next < len(rows) && rows[next].MeasuredAt.Before(frameEnd) {
			next++
		}
		result.Frames = append(result.Frames, buildFrame(t, rows[first:next]))
	}

	samples := make([]roseSample, len(result.Frames))
	for i, f := range result.Frames {
		samples[i] = roseSample{speed: f.SpeedMps, direction: f.DirectionDeg}
	}
	result.WindRose = buildWindRose(samples)
	return result
}

func buildFrame(at time.Time, rows []models.Measurement) Frame {
	if len(rows) == 0 {
		return Frame{Timestamp: at, Quality: FrameGapFilled}
	}

	frame := Frame{Timestamp: at, Quality: FrameAggregated}
	if len(rows) == 1 {
		frame.Quality = FrameObserved
	}

	var temps, pressures, speeds, directions []float64
	for _, m := range rows {
		if m.Temperature.Valid {
			temps = append(temps, m.Temperature.Float64)
		}
		if m.Pressure.Valid {
			pressures = append(pressures, m.Pressure.Float64)
		}
		if m.Speed.Valid {
			speeds = append(speeds, m.Speed.Float64)
		}
		if m.Direction.Valid {
			directions = append(directions, m.Direction.Float64)
		}
	}
	frame.TemperatureC = mean(temps)
	frame.PressureHpa = mean(pressures)
	frame.SpeedMps = mean(speeds)
	frame.DirectionDeg = circularMean(directions)

	if frame.SpeedMps != nil && frame.DirectionDeg != nil {
		dx, dy := flowVector(*frame.SpeedMps, *frame.DirectionDeg)
		frame.FlowDx, frame.FlowDy = ptr(dx), ptr(dy)
	}
	return frame
}
