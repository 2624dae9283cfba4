package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    latitude REAL,
    longitude REAL,
    altitude_m REAL,
    role TEXT NOT NULL DEFAULT 'meteo',
    selectable BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS measurements (
    station_id TEXT NOT NULL,
    station_name TEXT NOT NULL DEFAULT '',
    measured_at_utc DATETIME NOT NULL,
    temperature_c REAL,
    pressure_hpa REAL,
    speed_mps REAL,
    direction_deg REAL,
    latitude REAL,
    longitude REAL,
    altitude_m REAL,
    fetched_at_utc DATETIME NOT NULL,
    PRIMARY KEY (station_id, measured_at_utc)
);

CREATE INDEX IF NOT EXISTS idx_measurements_station_time ON measurements(station_id, measured_at_utc);

CREATE TABLE IF NOT EXISTS fetch_windows (
    station_id TEXT NOT NULL,
    start_utc DATETIME NOT NULL,
    end_utc DATETIME NOT NULL,
    fetched_at_utc DATETIME NOT NULL,
    PRIMARY KEY (station_id, start_utc, end_utc)
);

CREATE INDEX IF NOT EXISTS idx_fetch_windows_station ON fetch_windows(station_id, start_utc);
`,
	},
	{
		Version:     2,
		Description: "Add query_jobs table for pollable fetch jobs",
		SQL: `
CREATE TABLE IF NOT EXISTS query_jobs (
    job_id TEXT PRIMARY KEY,
    station_id TEXT NOT NULL,
    status TEXT NOT NULL,
    requested_start_utc DATETIME NOT NULL,
    effective_end_utc DATETIME NOT NULL,
    total_windows INTEGER NOT NULL,
    cached_windows INTEGER NOT NULL,
    missing_windows INTEGER NOT NULL,
    completed_windows INTEGER NOT NULL,
    total_api_calls_planned INTEGER NOT NULL,
    completed_api_calls INTEGER NOT NULL,
    frames_planned INTEGER NOT NULL,
    frames_ready INTEGER NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    error_detail TEXT,
    created_at_utc DATETIME NOT NULL,
    updated_at_utc DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_query_jobs_updated ON query_jobs(updated_at_utc);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
