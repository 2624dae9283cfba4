package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newFakeClock(start time.Time) (*Gate, *[]time.Duration) {
	now := start
	var slept []time.Duration
	g := NewGate(2 * time.Second)
	g.now = func() time.Time { return now }
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}
	return g, &slept
}

func TestGateSpacesCalls(t *testing.T) {
	g, slept := newFakeClock(time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if len(*slept) != 0 {
		t.Fatalf("first call slept %v, want no sleep", *slept)
	}

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Errorf("second call slept %v, want [2s]", *slept)
	}
}

func TestGateCooldown(t *testing.T) {
	g, slept := newFakeClock(time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	g.Cooldown(30 * time.Second)
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait after cooldown: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 30*time.Second {
		t.Errorf("slept %v, want [30s]", *slept)
	}
}

func TestGateCooldownClamped(t *testing.T) {
	g, slept := newFakeClock(time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	g.Cooldown(2 * time.Hour)
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != 10*time.Minute {
		t.Errorf("slept %v, want cap at [10m]", *slept)
	}

	g.Cooldown(time.Millisecond)
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Floor of 1s beats the 2s spacing? No: spacing still applies, so 2s wins.
	if got := (*slept)[len(*slept)-1]; got != 2*time.Second {
		t.Errorf("slept %v, want 2s", got)
	}
}

func TestGateHonorsContext(t *testing.T) {
	g := NewGate(time.Hour)
	ctx := context.Background()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := g.Wait(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("120"); got != 2*time.Minute {
		t.Errorf("parseRetryAfter(120) = %v, want 2m", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v, want 0", got)
	}
	if got := parseRetryAfter("not-a-time"); got != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v, want 0", got)
	}
}

func TestParseObservations(t *testing.T) {
	payload := []byte(`[
		{"nombre": "JCI Estacion meteorologica", "fhora": "2023-01-01T00:00:00+0000",
		 "temp": -2.1, "pres": 987.4, "vel": 5.3, "ddd": 270, "lat": -62.66, "lon": -60.39, "alt": 12},
		{"nombre": "JCI Estacion meteorologica", "fhora": "2023-01-01T00:10:00",
		 "temp": null, "vel": 6.0},
		{"nombre": "JCI Estacion meteorologica", "fhora": "garbage"}
	]`)

	rows, err := parseObservations("89064", payload)
	if err != nil {
		t.Fatalf("parseObservations: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len = %d, want 2 (unparseable timestamp skipped)", len(rows))
	}
	if !rows[0].Temperature.Valid || rows[0].Temperature.Float64 != -2.1 {
		t.Errorf("Temperature = %+v, want -2.1", rows[0].Temperature)
	}
	if rows[1].Temperature.Valid {
		t.Error("null temp should scan as invalid NullFloat64")
	}
	if !rows[1].Speed.Valid || rows[1].Speed.Float64 != 6.0 {
		t.Errorf("Speed = %+v, want 6.0", rows[1].Speed)
	}
	if rows[0].MeasuredAt.Location() != time.UTC {
		t.Errorf("MeasuredAt location = %v, want UTC", rows[0].MeasuredAt.Location())
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2023-01-01T00:00:00+00:00",
		"2023-01-01T00:00:00+0000",
		"2023-01-01T00:00:00",
		"2023-01-01T00:00:00UTC",
	} {
		got, ok := parseTimestamp(s)
		if !ok || !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, %v; want %v", s, got, ok, want)
		}
	}
	if _, ok := parseTimestamp("garbage"); ok {
		t.Error("parseTimestamp(garbage) should fail")
	}
}

func TestParseObservationsNoData(t *testing.T) {
	payload := []byte(`{"descripcion": "No hay datos que satisfagan esos criterios", "estado": 404}`)
	_, err := parseObservations("89064", payload)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func testClient(t *testing.T, handler http.Handler) *AEMETClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gate := NewGate(2 * time.Second)
	gate.now = time.Now
	gate.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	c := NewAEMETClient("test-key", gate)
	c.baseURL = srv.URL
	return c
}

func TestFetchWindowTwoStep(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/antartida/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api_key") != "test-key" {
			t.Errorf("api_key header = %q, want test-key", r.Header.Get("api_key"))
		}
		fmt.Fprintf(w, `{"estado": 200, "datos": "%s/payload"}`, srvURL)
	})
	mux.HandleFunc("/payload", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"nombre": "JCI", "fhora": "2023-01-05T10:00:00", "temp": -1.0, "vel": 4.2}]`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	gate := NewGate(time.Millisecond)
	c := NewAEMETClient("test-key", gate)
	c.baseURL = srv.URL

	rows, err := c.FetchWindow(context.Background(), "89064",
		time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len = %d, want 1", len(rows))
	}
	if rows[0].StationID != "89064" {
		t.Errorf("StationID = %q, want 89064", rows[0].StationID)
	}
}

func TestFetchWindowNoDataEnvelope(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"estado": 404, "descripcion": "No hay datos que satisfagan esos criterios"}`)
	}))

	_, err := c.FetchWindow(context.Background(), "89064",
		time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2019, time.January, 31, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoData) {
		t.Errorf("err = %v, want ErrNoData", err)
	}
}

func TestFetchWindowRateLimited(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.FetchWindow(context.Background(), "89064",
		time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC))

	var rle *RateLimitedError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want *RateLimitedError", err)
	}
	if rle.RetryAfter != 45*time.Second {
		t.Errorf("RetryAfter = %v, want 45s", rle.RetryAfter)
	}
}

func TestFetchWindowUnauthorized(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.FetchWindow(context.Background(), "89064",
		time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.January, 31, 0, 0, 0, 0, time.UTC))

	var ire *InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("err = %v, want *InvalidRequestError", err)
	}
	if ire.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", ire.Status)
	}
}
