package refresh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

type fakeLister struct {
	stations []models.Station
}

func (f *fakeLister) GetSelectableStations() ([]models.Station, error) {
	return f.stations, nil
}

type fakeSubmitter struct {
	submitted []string
	failFor   map[string]bool
	jobs      map[string]string // job id -> station id
}

func (f *fakeSubmitter) SubmitQuery(stationID string, start, end time.Time) (string, error) {
	f.submitted = append(f.submitted, stationID)
	jobID := "job-" + stationID
	if f.jobs == nil {
		f.jobs = map[string]string{}
	}
	f.jobs[jobID] = stationID
	return jobID, nil
}

func (f *fakeSubmitter) WaitJob(ctx context.Context, jobID string) error {
	return nil
}

func (f *fakeSubmitter) GetJobStatus(jobID string) (*models.QueryJob, error) {
	station := f.jobs[jobID]
	job := &models.QueryJob{JobID: jobID, StationID: station, Status: models.JobComplete}
	if f.failFor[station] {
		job.Status = models.JobFailed
	}
	return job, nil
}

func TestRefreshAllSubmitsCurrentMonth(t *testing.T) {
	lister := &fakeLister{stations: []models.Station{
		{StationID: "89064", Selectable: true},
		{StationID: "89070", Selectable: true},
	}}
	sub := &fakeSubmitter{}
	r := New(lister, sub)
	r.now = func() time.Time { return time.Date(2023, time.June, 20, 12, 0, 0, 0, time.UTC) }

	if err := r.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if len(sub.submitted) != 2 {
		t.Fatalf("submitted = %v, want both stations", sub.submitted)
	}
}

func TestRefreshAllAggregatesFailures(t *testing.T) {
	lister := &fakeLister{stations: []models.Station{
		{StationID: "89064", Selectable: true},
		{StationID: "89070", Selectable: true},
	}}
	sub := &fakeSubmitter{failFor: map[string]bool{"89064": true}}
	r := New(lister, sub)
	r.now = func() time.Time { return time.Date(2023, time.June, 20, 12, 0, 0, 0, time.UTC) }

	err := r.RefreshAll(context.Background())
	if err == nil {
		t.Fatal("want error when a station's job fails")
	}
	if !strings.Contains(err.Error(), "89064") {
		t.Errorf("error %q should name the failed station", err)
	}
	// The healthy station was still refreshed.
	if len(sub.submitted) != 2 {
		t.Errorf("submitted = %v, want both stations despite the failure", sub.submitted)
	}
}

type errLister struct{}

func (errLister) GetSelectableStations() ([]models.Station, error) {
	return nil, errors.New("db closed")
}

func TestRefreshAllListError(t *testing.T) {
	r := New(errLister{}, &fakeSubmitter{})
	if err := r.RefreshAll(context.Background()); err == nil {
		t.Fatal("want error when listing stations fails")
	}
}
