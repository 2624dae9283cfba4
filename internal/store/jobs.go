package store

import (
	"database/sql"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

// PutQueryJob inserts or fully replaces a job row. The orchestrator calls it
// after each durable progress change, so the stored row is always consistent
// with data that has already been committed.
func (s *Store) PutQueryJob(job models.QueryJob) error {
	_, err := s.db.Exec(`
		INSERT INTO query_jobs (
			job_id, station_id, status,
			requested_start_utc, effective_end_utc,
			total_windows, cached_windows, missing_windows, completed_windows,
			total_api_calls_planned, completed_api_calls,
			frames_planned, frames_ready,
			message, error_detail, created_at_utc, updated_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			total_windows = excluded.total_windows,
			cached_windows = excluded.cached_windows,
			missing_windows = excluded.missing_windows,
			completed_windows = excluded.completed_windows,
			total_api_calls_planned = excluded.total_api_calls_planned,
			completed_api_calls = excluded.completed_api_calls,
			frames_planned = excluded.frames_planned,
			frames_ready = excluded.frames_ready,
			message = excluded.message,
			error_detail = excluded.error_detail,
			updated_at_utc = excluded.updated_at_utc
	`,
		job.JobID, job.StationID, string(job.Status),
		job.RequestedStartUTC.UTC(), job.EffectiveEndUTC.UTC(),
		job.TotalWindows, job.CachedWindows, job.MissingWindows, job.CompletedWindows,
		job.TotalAPICallsPlanned, job.CompletedAPICalls,
		job.FramesPlanned, job.FramesReady,
		job.Message, job.ErrorDetail, job.CreatedAtUTC.UTC(), time.Now().UTC(),
	)
	return err
}

func (s *Store) GetQueryJob(jobID string) (*models.QueryJob, error) {
	row := s.db.QueryRow(`
		SELECT job_id, station_id, status,
		       requested_start_utc, effective_end_utc,
		       total_windows, cached_windows, missing_windows, completed_windows,
		       total_api_calls_planned, completed_api_calls,
		       frames_planned, frames_ready,
		       message, error_detail, created_at_utc, updated_at_utc
		FROM query_jobs WHERE job_id = ?
	`, jobID)

	var job models.QueryJob
	var status string
	err := row.Scan(
		&job.JobID, &job.StationID, &status,
		&job.RequestedStartUTC, &job.EffectiveEndUTC,
		&job.TotalWindows, &job.CachedWindows, &job.MissingWindows, &job.CompletedWindows,
		&job.TotalAPICallsPlanned, &job.CompletedAPICalls,
		&job.FramesPlanned, &job.FramesReady,
		&job.Message, &job.ErrorDetail, &job.CreatedAtUTC, &job.UpdatedAtUTC,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}
