// Package refresh keeps the current month warm for the selectable stations,
// so "latest data" analytics queries hit cache instead of the upstream.
package refresh

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/pabhub/polarwind/internal/models"
)

// DefaultSchedule runs the refresh every six hours.
const DefaultSchedule = "0 */6 * * *"

// Submitter is the orchestrator surface the refresher drives.
type Submitter interface {
	SubmitQuery(stationID string, start, end time.Time) (string, error)
	WaitJob(ctx context.Context, jobID string) error
	GetJobStatus(jobID string) (*models.QueryJob, error)
}

// StationLister yields the stations eligible for refreshing.
type StationLister interface {
	GetSelectableStations() ([]models.Station, error)
}

type Refresher struct {
	stations StationLister
	orch     Submitter
	cron     *cron.Cron
	now      func() time.Time
}

func New(stations StationLister, orch Submitter) *Refresher {
	return &Refresher{
		stations: stations,
		orch:     orch,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules RefreshAll on the cron expression and begins ticking.
func (r *Refresher) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := r.RefreshAll(ctx); err != nil {
			log.Printf("refresh: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	r.cron.Start()
	log.Printf("refresh: scheduled %q", schedule)
	return nil
}

func (r *Refresher) Stop() {
	r.cron.Stop()
}

// RefreshAll submits a current-month fetch for every selectable station and
// waits the jobs out. Per-station failures aggregate; one broken station
// never blocks the others.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	stations, err := r.stations.GetSelectableStations()
	if err != nil {
		return fmt.Errorf("list stations: %w", err)
	}

	now := r.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !monthStart.Before(now) {
		return nil
	}

	var errs *multierror.Error
	for _, st := range stations {
		if err := r.refreshStation(ctx, st.StationID, monthStart, now); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("station %s: %w", st.StationID, err))
		}
	}
	return errs.ErrorOrNil()
}

func (r *Refresher) refreshStation(ctx context.Context, stationID string, start, end time.Time) error {
	jobID, err := r.orch.SubmitQuery(stationID, start, end)
	if err != nil {
		return err
	}
	if err := r.orch.WaitJob(ctx, jobID); err != nil {
		return err
	}

	job, err := r.orch.GetJobStatus(jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobFailed {
		return fmt.Errorf("job %s failed: %s", jobID, job.ErrorDetail.String)
	}
	log.Printf("refresh: station %s %s (%d windows fetched)", stationID, job.Status, job.CompletedWindows)
	return nil
}
