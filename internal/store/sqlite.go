package store

import (
	"database/sql"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/pabhub/polarwind/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, name, latitude, longitude, altitude_m, role, selectable)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude_m = excluded.altitude_m,
			role = excluded.role,
			selectable = excluded.selectable
	`, st.StationID, st.Name, st.Latitude, st.Longitude, st.AltitudeM, string(st.Role), st.Selectable)
	return err
}

func (s *Store) GetStation(stationID string) (*models.Station, error) {
	row := s.db.QueryRow(`
		SELECT station_id, name, latitude, longitude, altitude_m, role, selectable
		FROM stations WHERE station_id = ?
	`, stationID)

	var st models.Station
	var role string
	err := row.Scan(&st.StationID, &st.Name, &st.Latitude, &st.Longitude, &st.AltitudeM, &role, &st.Selectable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Role = models.StationRole(role)
	return &st, nil
}

func (s *Store) GetSelectableStations() ([]models.Station, error) {
	rows, err := s.db.Query(`
		SELECT station_id, name, latitude, longitude, altitude_m, role, selectable
		FROM stations WHERE selectable = TRUE ORDER BY station_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		var role string
		if err := rows.Scan(&st.StationID, &st.Name, &st.Latitude, &st.Longitude, &st.AltitudeM, &role, &st.Selectable); err != nil {
			return nil, err
		}
		st.Role = models.StationRole(role)
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// UpsertMeasurements writes a fetched window in one transaction: the rows
// (field-by-field overwrite on timestamp conflict) and the coverage record.
// A window with zero rows still gets its coverage record; absence of rows is
// a valid upstream outcome, not a fetch failure.
func (s *Store) UpsertMeasurements(stationID string, rows []models.Measurement, windowStart, windowEnd time.Time) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO measurements (
			station_id, station_name, measured_at_utc,
			temperature_c, pressure_hpa, speed_mps, direction_deg,
			latitude, longitude, altitude_m, fetched_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, measured_at_utc) DO UPDATE SET
			station_name = excluded.station_name,
			temperature_c = excluded.temperature_c,
			pressure_hpa = excluded.pressure_hpa,
			speed_mps = excluded.speed_mps,
			direction_deg = excluded.direction_deg,
			latitude = COALESCE(excluded.latitude, measurements.latitude),
			longitude = COALESCE(excluded.longitude, measurements.longitude),
			altitude_m = COALESCE(excluded.altitude_m, measurements.altitude_m),
			fetched_at_utc = excluded.fetched_at_utc
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range rows {
		if _, err := stmt.Exec(
			stationID, m.StationName, m.MeasuredAt.UTC(),
			m.Temperature, m.Pressure, m.Speed, m.Direction,
			m.Latitude, m.Longitude, m.Altitude, now,
		); err != nil {
			return fmt.Errorf("upsert measurement %s: %w", m.MeasuredAt.Format(time.RFC3339), err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO fetch_windows (station_id, start_utc, end_utc, fetched_at_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, start_utc, end_utc) DO UPDATE SET
			fetched_at_utc = excluded.fetched_at_utc
	`, stationID, windowStart.UTC(), windowEnd.UTC(), now); err != nil {
		return fmt.Errorf("record fetch window: %w", err)
	}

	return tx.Commit()
}

// HasFullCoverage reports whether the union of recorded fetch windows for the
// station contains [start, end) with no gap. Adjacent windows chain: a range
// spanning two back-to-back records still counts as covered.
func (s *Store) HasFullCoverage(stationID string, start, end time.Time) (bool, error) {
	return s.coverage(stationID, start, end, time.Time{})
}

// HasFreshCoverage is HasFullCoverage restricted to windows fetched at or
// after minFetchedAt. Used for the in-progress month, which goes stale as new
// observations appear upstream.
func (s *Store) HasFreshCoverage(stationID string, start, end time.Time, minFetchedAt time.Time) (bool, error) {
	return s.coverage(stationID, start, end, minFetchedAt)
}

func (s *Store) coverage(stationID string, start, end time.Time, minFetchedAt time.Time) (bool, error) {
	if !start.Before(end) {
		return true, nil
	}

	rows, err := s.db.Query(`
		SELECT start_utc, end_utc, fetched_at_utc
		FROM fetch_windows
		WHERE station_id = ? AND start_utc < ? AND end_utc > ?
		ORDER BY start_utc ASC
	`, stationID, end.UTC(), start.UTC())
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var windows []models.FetchWindow
	for rows.Next() {
		var w models.FetchWindow
		if err := rows.Scan(&w.StartUTC, &w.EndUTC, &w.FetchedAt); err != nil {
			return false, err
		}
		if !minFetchedAt.IsZero() && w.FetchedAt.Before(minFetchedAt) {
			continue
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].StartUTC.Before(windows[j].StartUTC) })

	cursor := start.UTC()
	for _, w := range windows {
		if w.StartUTC.After(cursor) {
			return false, nil
		}
		if w.EndUTC.After(cursor) {
			cursor = w.EndUTC
		}
		if !cursor.Before(end.UTC()) {
			return true, nil
		}
	}
	return false, nil
}

// GetMeasurements returns the station's rows in [start, end) ordered by
// timestamp ascending.
func (s *Store) GetMeasurements(stationID string, start, end time.Time) ([]models.Measurement, error) {
	rows, err := s.db.Query(`
		SELECT station_id, station_name, measured_at_utc, temperature_c, pressure_hpa,
		       speed_mps, direction_deg, latitude, longitude, altitude_m, fetched_at_utc
		FROM measurements
		WHERE station_id = ? AND measured_at_utc >= ? AND measured_at_utc < ?
		ORDER BY measured_at_utc ASC
	`, stationID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var measurements []models.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

// IterMeasurements streams the same ordered range without materializing it.
// Iteration stops on the first scan error, which is yielded to the consumer.
func (s *Store) IterMeasurements(stationID string, start, end time.Time) iter.Seq2[models.Measurement, error] {
	return func(yield func(models.Measurement, error) bool) {
		rows, err := s.db.Query(`
			SELECT station_id, station_name, measured_at_utc, temperature_c, pressure_hpa,
			       speed_mps, direction_deg, latitude, longitude, altitude_m, fetched_at_utc
			FROM measurements
			WHERE station_id = ? AND measured_at_utc >= ? AND measured_at_utc < ?
			ORDER BY measured_at_utc ASC
		`, stationID, start.UTC(), end.UTC())
		if err != nil {
			yield(models.Measurement{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMeasurement(rows)
			if !yield(m, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Measurement{}, err)
		}
	}
}

func (s *Store) LatestObservation(stationID string) (*models.Measurement, error) {
	row := s.db.QueryRow(`
		SELECT station_id, station_name, measured_at_utc, temperature_c, pressure_hpa,
		       speed_mps, direction_deg, latitude, longitude, altitude_m, fetched_at_utc
		FROM measurements
		WHERE station_id = ?
		ORDER BY measured_at_utc DESC
		LIMIT 1
	`, stationID)

	m, err := scanMeasurement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row scanner) (models.Measurement, error) {
	var m models.Measurement
	err := row.Scan(
		&m.StationID, &m.StationName, &m.MeasuredAt, &m.Temperature, &m.Pressure,
		&m.Speed, &m.Direction, &m.Latitude, &m.Longitude, &m.Altitude, &m.FetchedAt,
	)
	return m, err
}
