package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pabhub/polarwind/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func testMeasurement(stationID string, at time.Time, speed float64) models.Measurement {
	return models.Measurement{
		StationID:   stationID,
		StationName: "Test Station",
		MeasuredAt:  at,
		Temperature: nf(-2.5),
		Pressure:    nf(987.3),
		Speed:       nf(speed),
		Direction:   nf(225),
	}
}

func TestUpsertAndGetStation(t *testing.T) {
	store := setupTestStore(t)

	station := models.Station{
		StationID:  "89064",
		Name:       "Juan Carlos I",
		Latitude:   -62.663,
		Longitude:  -60.389,
		AltitudeM:  12.0,
		Role:       models.RoleMeteo,
		Selectable: true,
	}
	if err := store.UpsertStation(station); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	got, err := store.GetStation("89064")
	if err != nil {
		t.Fatalf("GetStation: %v", err)
	}
	if got == nil {
		t.Fatal("GetStation returned nil for existing station")
	}
	if got.Name != "Juan Carlos I" {
		t.Errorf("Name = %q, want Juan Carlos I", got.Name)
	}
	if got.Role != models.RoleMeteo {
		t.Errorf("Role = %q, want meteo", got.Role)
	}

	missing, err := store.GetStation("00000")
	if err != nil {
		t.Fatalf("GetStation missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetStation for unknown id = %+v, want nil", missing)
	}
}

func TestGetSelectableStations(t *testing.T) {
	store := setupTestStore(t)

	stations := []models.Station{
		{StationID: "89064", Name: "Juan Carlos I", Role: models.RoleMeteo, Selectable: true},
		{StationID: "89064RA", Name: "Juan Carlos I (archive)", Role: models.RoleArchive, Selectable: false},
		{StationID: "89070", Name: "Gabriel de Castilla", Role: models.RoleMeteo, Selectable: true},
	}
	for _, st := range stations {
		if err := store.UpsertStation(st); err != nil {
			t.Fatalf("UpsertStation %s: %v", st.StationID, err)
		}
	}

	got, err := store.GetSelectableStations()
	if err != nil {
		t.Fatalf("GetSelectableStations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].StationID != "89064" || got[1].StationID != "89070" {
		t.Errorf("got stations %s, %s; want 89064, 89070", got[0].StationID, got[1].StationID)
	}
}

func TestUpsertMeasurementsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	start := utc(2023, time.January, 1, 0, 0)
	end := utc(2023, time.January, 31, 0, 0)
	rows := []models.Measurement{
		testMeasurement("89064", utc(2023, time.January, 1, 0, 0), 5.0),
		testMeasurement("89064", utc(2023, time.January, 1, 0, 10), 6.0),
	}

	if err := store.UpsertMeasurements("89064", rows, start, end); err != nil {
		t.Fatalf("first UpsertMeasurements: %v", err)
	}

	// Same window again with a revised value: no duplicate rows, field overwritten.
	rows[1].Speed = nf(7.5)
	if err := store.UpsertMeasurements("89064", rows, start, end); err != nil {
		t.Fatalf("second UpsertMeasurements: %v", err)
	}

	got, err := store.GetMeasurements("89064", start, end)
	if err != nil {
		t.Fatalf("GetMeasurements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Speed.Float64 != 7.5 {
		t.Errorf("Speed = %v, want 7.5 after overwrite", got[1].Speed.Float64)
	}
}

func TestUpsertMeasurementsEmptyWindowRecordsCoverage(t *testing.T) {
	store := setupTestStore(t)

	start := utc(2023, time.June, 1, 0, 0)
	end := utc(2023, time.July, 1, 0, 0)
	if err := store.UpsertMeasurements("89064", nil, start, end); err != nil {
		t.Fatalf("UpsertMeasurements: %v", err)
	}

	covered, err := store.HasFullCoverage("89064", start, end)
	if err != nil {
		t.Fatalf("HasFullCoverage: %v", err)
	}
	if !covered {
		t.Error("empty window should still count as covered")
	}
}

func TestCoverageUnion(t *testing.T) {
	store := setupTestStore(t)

	// Two back-to-back windows plus a third with a gap before it.
	windows := []struct{ start, end time.Time }{
		{utc(2023, time.January, 1, 0, 0), utc(2023, time.January, 31, 0, 0)},
		{utc(2023, time.January, 31, 0, 0), utc(2023, time.March, 2, 0, 0)},
		{utc(2023, time.March, 2, 0, 1), utc(2023, time.March, 15, 0, 0)},
	}
	for _, w := range windows {
		if err := store.UpsertMeasurements("89064", nil, w.start, w.end); err != nil {
			t.Fatalf("UpsertMeasurements: %v", err)
		}
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"within single window", utc(2023, time.January, 5, 0, 0), utc(2023, time.January, 20, 0, 0), true},
		{"spans adjacent windows", utc(2023, time.January, 15, 0, 0), utc(2023, time.February, 15, 0, 0), true},
		{"exact union of adjacent", utc(2023, time.January, 1, 0, 0), utc(2023, time.March, 2, 0, 0), true},
		{"one-minute gap fails", utc(2023, time.February, 15, 0, 0), utc(2023, time.March, 10, 0, 0), false},
		{"starts before coverage", utc(2022, time.December, 25, 0, 0), utc(2023, time.January, 10, 0, 0), false},
		{"ends after coverage", utc(2023, time.March, 10, 0, 0), utc(2023, time.March, 20, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.HasFullCoverage("89064", tt.start, tt.end)
			if err != nil {
				t.Fatalf("HasFullCoverage: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasFullCoverage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshCoverage(t *testing.T) {
	store := setupTestStore(t)

	start := utc(2023, time.May, 1, 0, 0)
	end := utc(2023, time.May, 15, 0, 0)
	if err := store.UpsertMeasurements("89064", nil, start, end); err != nil {
		t.Fatalf("UpsertMeasurements: %v", err)
	}

	fresh, err := store.HasFreshCoverage("89064", start, end, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("HasFreshCoverage: %v", err)
	}
	if !fresh {
		t.Error("window fetched just now should be fresh")
	}

	stale, err := store.HasFreshCoverage("89064", start, end, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("HasFreshCoverage: %v", err)
	}
	if stale {
		t.Error("window should not satisfy a freshness floor in the future")
	}
}

func TestCoverageIsolatedPerStation(t *testing.T) {
	store := setupTestStore(t)

	start := utc(2023, time.January, 1, 0, 0)
	end := utc(2023, time.January, 31, 0, 0)
	if err := store.UpsertMeasurements("89064", nil, start, end); err != nil {
		t.Fatalf("UpsertMeasurements: %v", err)
	}

	covered, err := store.HasFullCoverage("89070", start, end)
	if err != nil {
		t.Fatalf("HasFullCoverage: %v", err)
	}
	if covered {
		t.Error("coverage for 89064 must not leak to 89070")
	}
}

func TestIterMeasurements(t *testing.T) {
	store := setupTestStore(t)

	start := utc(2023, time.January, 1, 0, 0)
	end := utc(2023, time.January, 2, 0, 0)
	var want []time.Time
	var rows []models.Measurement
	for i := 0; i < 6; i++ {
		at := start.Add(time.Duration(i) * 10 * time.Minute)
		want = append(want, at)
		rows = append(rows, testMeasurement("89064", at, float64(i)))
	}
	if err := store.UpsertMeasurements("89064", rows, start, end); err != nil {
		t.Fatalf("UpsertMeasurements: %v", err)
	}

	var got []time.Time
	for m, err := range store.IterMeasurements("89064", start, end) {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		got = append(got, m.MeasuredAt)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if !got[i].Equal(want[i]) {
			t.Errorf("row %d at %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLatestObservation(t *testing.T) {
	store := setupTestStore(t)

	none, err := store.LatestObservation("89064")
	if err != nil {
		t.Fatalf("LatestObservation: %v", err)
	}
	if none != nil {
		t.Errorf("LatestObservation with no rows = %+v, want nil", none)
	}

	start := utc(2023, time.January, 1, 0, 0)
	end := utc(2023, time.January, 2, 0, 0)
	rows := []models.Measurement{
		testMeasurement("89064", utc(2023, time.January, 1, 8, 0), 3.0),
		testMeasurement("89064", utc(2023, time.January, 1, 9, 0), 4.0),
	}
	if err := store.UpsertMeasurements("89064", rows, start, end); err != nil {
		t.Fatalf("UpsertMeasurements: %v", err)
	}

	latest, err := store.LatestObservation("89064")
	if err != nil {
		t.Fatalf("LatestObservation: %v", err)
	}
	if latest == nil {
		t.Fatal("LatestObservation returned nil")
	}
	if !latest.MeasuredAt.Equal(utc(2023, time.January, 1, 9, 0)) {
		t.Errorf("MeasuredAt = %v, want 09:00", latest.MeasuredAt)
	}
}

func TestQueryJobRoundTrip(t *testing.T) {
	store := setupTestStore(t)

	job := models.QueryJob{
		JobID:                "a2c4e6",
		StationID:            "89064",
		Status:               models.JobQueued,
		RequestedStartUTC:    utc(2023, time.January, 1, 0, 0),
		EffectiveEndUTC:      utc(2023, time.March, 15, 0, 0),
		TotalWindows:         3,
		MissingWindows:       3,
		TotalAPICallsPlanned: 6,
		FramesPlanned:        120,
		Message:              "queued",
		CreatedAtUTC:         time.Now().UTC(),
	}
	if err := store.PutQueryJob(job); err != nil {
		t.Fatalf("PutQueryJob: %v", err)
	}

	job.Status = models.JobRunning
	job.CompletedWindows = 2
	job.CompletedAPICalls = 4
	job.FramesReady = 80
	job.Message = "fetching window 3 of 3"
	if err := store.PutQueryJob(job); err != nil {
		t.Fatalf("PutQueryJob update: %v", err)
	}

	got, err := store.GetQueryJob("a2c4e6")
	if err != nil {
		t.Fatalf("GetQueryJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetQueryJob returned nil")
	}
	if got.Status != models.JobRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.CompletedWindows != 2 || got.FramesReady != 80 {
		t.Errorf("progress = %d windows / %d frames, want 2 / 80", got.CompletedWindows, got.FramesReady)
	}

	missing, err := store.GetQueryJob("nope")
	if err != nil {
		t.Fatalf("GetQueryJob missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetQueryJob unknown id = %+v, want nil", missing)
	}
}
