package models

import (
	"database/sql"
	"time"
)

type StationRole string

const (
	RoleMeteo        StationRole = "meteo"
	RoleSupplemental StationRole = "supplemental"
	RoleArchive      StationRole = "archive"
)

type Station struct {
	StationID  string
	Name       string
	Latitude   float64
	Longitude  float64
	AltitudeM  float64
	Role       StationRole
	Selectable bool
}

// Measurement is one station reading at one instant. Timestamps are UTC with
// minute precision; any physical field may be missing in the upstream payload.
type Measurement struct {
	StationID   string
	StationName string
	MeasuredAt  time.Time
	Temperature sql.NullFloat64 // °C
	Pressure    sql.NullFloat64 // hPa
	Speed       sql.NullFloat64 // m/s
	Direction   sql.NullFloat64 // degrees the wind blows from, 0-360
	Latitude    sql.NullFloat64
	Longitude   sql.NullFloat64
	Altitude    sql.NullFloat64 // m
	FetchedAt   time.Time
}

// FetchWindow records that [StartUTC, EndUTC) was fully and successfully
// retrieved for a station. It is a positive assertion only: a window may be
// fetched and still contain zero measurements.
type FetchWindow struct {
	StationID string
	StartUTC  time.Time
	EndUTC    time.Time
	FetchedAt time.Time
}

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// QueryJob is the pollable state of one orchestration run. Counters are
// monotonic within a job and status only moves forward.
type QueryJob struct {
	JobID                string
	StationID            string
	Status               JobStatus
	RequestedStartUTC    time.Time
	EffectiveEndUTC      time.Time
	TotalWindows         int
	CachedWindows        int
	MissingWindows       int
	CompletedWindows     int
	TotalAPICallsPlanned int
	CompletedAPICalls    int
	FramesPlanned        int
	FramesReady          int
	Message              string
	ErrorDetail          sql.NullString
	CreatedAtUTC         time.Time
	UpdatedAtUTC         time.Time
}

// Percent reports planned-call completion for progress display.
func (j *QueryJob) Percent() float64 {
	if j.TotalAPICallsPlanned > 0 {
		return float64(j.CompletedAPICalls) / float64(j.TotalAPICallsPlanned) * 100.0
	}
	if j.Status == JobComplete {
		return 100.0
	}
	return 0.0
}

type PlaybackStep string

const (
	StepTenMinutes  PlaybackStep = "10min"
	StepHourly      PlaybackStep = "1h"
	StepThreeHourly PlaybackStep = "3h"
	StepDaily       PlaybackStep = "1d"
)

func (s PlaybackStep) Duration() time.Duration {
	switch s {
	case StepTenMinutes:
		return 10 * time.Minute
	case StepHourly:
		return time.Hour
	case StepThreeHourly:
		return 3 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Coarser returns the next coarser step, or the same step when already daily.
func (s PlaybackStep) Coarser() PlaybackStep {
	switch s {
	case StepTenMinutes:
		return StepHourly
	case StepHourly:
		return StepThreeHourly
	case StepThreeHourly:
		return StepDaily
	default:
		return StepDaily
	}
}

type GroupBy string

const (
	GroupByHour   GroupBy = "hour"
	GroupByDay    GroupBy = "day"
	GroupByWeek   GroupBy = "week"
	GroupByMonth  GroupBy = "month"
	GroupBySeason GroupBy = "season"
)

// SimulationParams configures the turbine generation estimate. Operating
// bounds are hard cutoffs: a sample outside any bound contributes zero energy.
type SimulationParams struct {
	TurbineCount         int
	RatedPowerKW         float64
	CutInSpeedMps        float64
	RatedSpeedMps        float64
	CutOutSpeedMps       float64
	ReferenceAirDensity  float64 // kg/m³, used when pressure/temperature are missing
	MinOperatingTempC    *float64
	MaxOperatingTempC    *float64
	MinOperatingPressure *float64 // hPa
	MaxOperatingPressure *float64 // hPa
}

// Valid reports whether the power-curve breakpoints are usable.
func (p *SimulationParams) Valid() bool {
	if p == nil {
		return false
	}
	// ReferenceAirDensity is optional; zero means the ISA sea-level default.
	if p.TurbineCount <= 0 || p.RatedPowerKW <= 0 {
		return false
	}
	return 0 <= p.CutInSpeedMps && p.CutInSpeedMps < p.RatedSpeedMps && p.RatedSpeedMps < p.CutOutSpeedMps
}
