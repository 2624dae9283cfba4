// Package orchestrate runs background fetch jobs: plan the windows, fetch
// the missing ones under the global rate gate, persist, publish progress.
package orchestrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pabhub/polarwind/internal/analytics"
	"github.com/pabhub/polarwind/internal/metrics"
	"github.com/pabhub/polarwind/internal/models"
	"github.com/pabhub/polarwind/internal/planner"
	"github.com/pabhub/polarwind/internal/store"
	"github.com/pabhub/polarwind/internal/upstream"
)

var (
	ErrJobNotFound         = errors.New("orchestrate: job not found")
	ErrJobNotComplete      = errors.New("orchestrate: job not complete")
	ErrUnknownStation      = errors.New("orchestrate: unknown station")
	ErrStationNotQueryable = errors.New("orchestrate: station not queryable")
)

// Config tunes the per-window fetch discipline.
type Config struct {
	// AttemptsPerWindow bounds retries of one window before the job fails.
	AttemptsPerWindow int

	// CallsPerWindow is how many upstream HTTP calls one window fetch costs.
	// The provider's two-step protocol makes it 2.
	CallsPerWindow int

	// RetryBackoff is the base delay between attempts on transient errors;
	// it doubles per attempt.
	RetryBackoff time.Duration

	// MaxRetryWait caps how long a rate-limit cooldown can stall one window.
	MaxRetryWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		AttemptsPerWindow: 4,
		CallsPerWindow:    2,
		RetryBackoff:      2 * time.Second,
		MaxRetryWait:      10 * time.Minute,
	}
}

// Orchestrator owns job lifecycles. One worker goroutine per job, windows
// fetched strictly oldest-first, at most one in-flight job per station.
type Orchestrator struct {
	store  *store.Store
	client upstream.Client
	engine *analytics.Engine
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]string        // station id -> running job id
	done   map[string]chan struct{} // job id -> closed on terminal status

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st *store.Store, client upstream.Client, engine *analytics.Engine, cfg Config) *Orchestrator {
	if cfg.AttemptsPerWindow <= 0 {
		cfg.AttemptsPerWindow = DefaultConfig().AttemptsPerWindow
	}
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = DefaultConfig().CallsPerWindow
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = DefaultConfig().MaxRetryWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  st,
		client: client,
		engine: engine,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		active: map[string]string{},
		done:   map[string]chan struct{}{},
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Close stops accepting work and signals running workers. Workers notice at
// their next window boundary and mark their jobs failed.
func (o *Orchestrator) Close() {
	o.cancel()
}

// SubmitQuery plans the range and starts a background fetch of the missing
// windows. When a job for the station is already running its id is returned
// instead of starting a second fetch of the same gaps. When the cache
// already covers the range the job is born complete and the upstream is
// never touched.
func (o *Orchestrator) SubmitQuery(stationID string, start, end time.Time) (string, error) {
	station, err := o.store.GetStation(stationID)
	if err != nil {
		return "", fmt.Errorf("look up station: %w", err)
	}
	if station == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}
	if !station.Selectable {
		return "", fmt.Errorf("%w: %s", ErrStationNotQueryable, stationID)
	}

	now := o.now().UTC()
	start = start.UTC()
	end = end.UTC()
	if end.After(now) {
		end = now
	}
	if !start.Before(end) {
		return "", fmt.Errorf("orchestrate: empty range [%s, %s)", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if running, ok := o.active[stationID]; ok {
		return running, nil
	}

	windows, err := planner.Plan(o.store, stationID, start, end, now)
	if err != nil {
		return "", fmt.Errorf("plan windows: %w", err)
	}
	missing := planner.CountMissing(windows)
	cached := len(windows) - missing
	metrics.WindowsCached.WithLabelValues(stationID).Add(float64(cached))

	job := models.QueryJob{
		JobID:                uuid.NewString(),
		StationID:            stationID,
		Status:               models.JobQueued,
		RequestedStartUTC:    start,
		EffectiveEndUTC:      end,
		TotalWindows:         len(windows),
		CachedWindows:        cached,
		MissingWindows:       missing,
		TotalAPICallsPlanned: missing * o.cfg.CallsPerWindow,
		FramesPlanned:        int(end.Sub(start) / analytics.NativeCadence),
		CreatedAtUTC:         now,
	}

	if missing == 0 {
		job.Status = models.JobComplete
		job.FramesReady = job.FramesPlanned
		job.Message = "range fully cached"
		if err := o.store.PutQueryJob(job); err != nil {
			return "", fmt.Errorf("persist job: %w", err)
		}
		ch := make(chan struct{})
		close(ch)
		o.done[job.JobID] = ch
		return job.JobID, nil
	}

	job.Message = fmt.Sprintf("queued: %d of %d windows to fetch", missing, len(windows))
	if err := o.store.PutQueryJob(job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	o.active[stationID] = job.JobID
	o.done[job.JobID] = make(chan struct{})
	go o.run(job, windows)
	return job.JobID, nil
}

// GetJobStatus returns the current job row.
func (o *Orchestrator) GetJobStatus(jobID string) (*models.QueryJob, error) {
	job, err := o.store.GetQueryJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// GetJobResult computes the snapshot over the job's range. Valid only once
// the job is complete.
func (o *Orchestrator) GetJobResult(jobID string) (*analytics.Snapshot, error) {
	job, err := o.GetJobStatus(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobComplete {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotComplete, jobID, job.Status)
	}
	return o.engine.GetSnapshot(job.StationID, job.RequestedStartUTC, job.EffectiveEndUTC)
}

// WaitJob blocks until the job reaches a terminal status or ctx is done.
func (o *Orchestrator) WaitJob(ctx context.Context, jobID string) error {
	o.mu.Lock()
	ch, ok := o.done[jobID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// run is the per-job worker: strictly sequential, oldest window first. Writes
// for window k are committed before the job row advances past k, so a poller
// seeing completed_windows = k can already query windows 1..k.
func (o *Orchestrator) run(job models.QueryJob, windows []planner.Window) {
	started := o.now()
	defer func() {
		o.mu.Lock()
		delete(o.active, job.StationID)
		close(o.done[job.JobID])
		o.mu.Unlock()
		metrics.JobDuration.Observe(o.now().Sub(started).Seconds())
	}()

	job.Status = models.JobRunning
	job.Message = "starting"
	o.persist(&job)

	fetched := 0
	for _, w := range windows {
		if w.Cached {
			continue
		}
		if err := o.ctx.Err(); err != nil {
			o.fail(&job, fmt.Errorf("orchestrator shutting down: %w", err))
			return
		}

		rows, err := o.fetchWindow(job.StationID, w)
		if err != nil {
			metrics.WindowsFetched.WithLabelValues(job.StationID, "failed").Inc()
			o.fail(&job, fmt.Errorf("window [%s, %s): %w",
				w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), err))
			return
		}

		if err := o.store.UpsertMeasurements(job.StationID, rows, w.Start, w.End); err != nil {
			metrics.WindowsFetched.WithLabelValues(job.StationID, "persist_error").Inc()
			o.fail(&job, fmt.Errorf("persist window [%s, %s): %w",
				w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"), err))
			return
		}
		metrics.WindowsFetched.WithLabelValues(job.StationID, "ok").Inc()

		fetched++
		job.CompletedWindows = fetched
		job.CompletedAPICalls = fetched * o.cfg.CallsPerWindow
		job.FramesReady = job.FramesPlanned * (job.CachedWindows + fetched) / job.TotalWindows
		job.Message = fmt.Sprintf("fetched window %d of %d (%d rows)", fetched, job.MissingWindows, len(rows))
		o.persist(&job)
	}

	job.Status = models.JobComplete
	job.FramesReady = job.FramesPlanned
	job.Message = fmt.Sprintf("complete: %d windows fetched, %d cached", fetched, job.CachedWindows)
	o.persist(&job)
	metrics.JobsCompleted.WithLabelValues(string(models.JobComplete)).Inc()
	log.Printf("orchestrate: job %s complete for station %s", job.JobID, job.StationID)
}

// fetchWindow drives one window through the attempt budget. No-data is a
// success with zero rows. Invalid requests fail without retry. Rate limits
// wait out the provider's hint, capped, and consume an attempt.
func (o *Orchestrator) fetchWindow(stationID string, w planner.Window) ([]models.Measurement, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.AttemptsPerWindow; attempt++ {
		rows, err := o.client.FetchWindow(o.ctx, stationID, w.Start, w.End)
		switch {
		case err == nil:
			return rows, nil
		case errors.Is(err, upstream.ErrNoData):
			return nil, nil
		}

		var invalid *upstream.InvalidRequestError
		if errors.As(err, &invalid) {
			return nil, err
		}
		if o.ctx.Err() != nil {
			return nil, o.ctx.Err()
		}
		lastErr = err

		wait := o.cfg.RetryBackoff << (attempt - 1)
		var limited *upstream.RateLimitedError
		if errors.As(err, &limited) && limited.RetryAfter > wait {
			wait = limited.RetryAfter
		}
		if wait > o.cfg.MaxRetryWait {
			wait = o.cfg.MaxRetryWait
		}

		if attempt < o.cfg.AttemptsPerWindow {
			log.Printf("orchestrate: window [%s, %s) attempt %d/%d failed, retrying in %s: %v",
				w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"),
				attempt, o.cfg.AttemptsPerWindow, wait, err)
			if serr := o.sleep(o.ctx, wait); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", o.cfg.AttemptsPerWindow, lastErr)
}

func (o *Orchestrator) fail(job *models.QueryJob, err error) {
	job.Status = models.JobFailed
	job.Message = "failed"
	job.ErrorDetail = sql.NullString{String: err.Error(), Valid: true}
	o.persist(job)
	metrics.JobsCompleted.WithLabelValues(string(models.JobFailed)).Inc()
	log.Printf("orchestrate: job %s failed for station %s: %v", job.JobID, job.StationID, err)
}

func (o *Orchestrator) persist(job *models.QueryJob) {
	if err := o.store.PutQueryJob(*job); err != nil {
		log.Printf("orchestrate: persist job %s: %v", job.JobID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
