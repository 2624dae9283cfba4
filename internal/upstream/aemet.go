package upstream

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/pabhub/polarwind/internal/metrics"
	"github.com/pabhub/polarwind/internal/models"
)

const (
	defaultBaseURL = "https://opendata.aemet.es/opendata"
	requestTimeout = 30 * time.Second

	// AEMET's Antarctic endpoint takes timestamps in this literal layout.
	aemetTimeLayout = "2006-01-02T15:04:05UTC"
)

// AEMETClient talks to AEMET OpenData's Antarctic observations API. Each
// fetch is two calls: the metadata endpoint returns a short-lived URL, and
// the payload lives behind that URL. Both calls pass through the shared Gate.
type AEMETClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	gate    *Gate
	breaker *gobreaker.CircuitBreaker
}

func NewAEMETClient(apiKey string, gate *Gate) *AEMETClient {
	return &AEMETClient{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		gate:    gate,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "aemet",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *AEMETClient) FetchWindow(ctx context.Context, stationID string, start, end time.Time) ([]models.Measurement, error) {
	metaURL := fmt.Sprintf("%s/api/antartida/datos/fechaini/%s/fechafin/%s/estacion/%s",
		c.baseURL,
		start.UTC().Format(aemetTimeLayout),
		end.UTC().Format(aemetTimeLayout),
		stationID,
	)

	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	meta, err := c.get(ctx, metaURL)
	if err != nil {
		return nil, fmt.Errorf("metadata request: %w", err)
	}

	estado := gjson.GetBytes(meta, "estado").Int()
	descripcion := gjson.GetBytes(meta, "descripcion").String()
	if estado == http.StatusNotFound || strings.Contains(strings.ToLower(descripcion), "no hay datos") {
		return nil, ErrNoData
	}
	// AEMET also reports throttling as a 200 envelope with estado 429.
	if estado == http.StatusTooManyRequests {
		c.gate.Cooldown(0)
		return nil, &RateLimitedError{}
	}
	if estado == http.StatusUnauthorized {
		return nil, &InvalidRequestError{Status: int(estado), Detail: descripcion}
	}
	if estado != 0 && estado != http.StatusOK {
		return nil, fmt.Errorf("metadata estado %d: %s", estado, descripcion)
	}

	datosURL := gjson.GetBytes(meta, "datos").String()
	if datosURL == "" {
		return nil, fmt.Errorf("metadata response missing datos URL")
	}

	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	payload, err := c.get(ctx, datosURL)
	if err != nil {
		return nil, fmt.Errorf("payload request: %w", err)
	}

	rows, err := parseObservations(stationID, payload)
	if err != nil {
		return nil, err
	}
	metrics.UpstreamRowsFetched.Add(float64(len(rows)))
	return rows, nil
}

type httpResult struct {
	status     int
	retryAfter time.Duration
	body       []byte
}

// get performs one HTTP GET through the circuit breaker, retrying only
// connection-level and 5xx failures. Non-5xx statuses are carried out of the
// breaker as successes so a run of 404s or 429s never trips it; the caller's
// error taxonomy handles those, and the caller owns the attempt budget.
func (c *AEMETClient) get(ctx context.Context, url string) ([]byte, error) {
	var res httpResult

	operation := func() error {
		out, err := c.breaker.Execute(func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Header.Set("api_key", c.apiKey)
			req.Header.Set("Accept", "application/json")

			start := time.Now()
			resp, err := c.http.Do(req)
			metrics.UpstreamRequestDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.UpstreamRequests.WithLabelValues("error").Inc()
				return nil, err
			}
			defer resp.Body.Close()

			metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
			if resp.StatusCode >= 500 {
				return nil, fmt.Errorf("server error: %s", resp.Status)
			}

			r := httpResult{
				status:     resp.StatusCode,
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if resp.StatusCode == http.StatusOK {
				data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
				if err != nil {
					return nil, fmt.Errorf("read body: %w", err)
				}
				r.body = data
			}
			return r, nil
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(fmt.Errorf("circuit breaker: %w", err))
			}
			return err
		}
		res = out.(httpResult)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	notify := func(err error, wait time.Duration) {
		log.Printf("upstream: transient error, retrying in %s: %v", wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}

	switch res.status {
	case http.StatusOK:
		return res.body, nil
	case http.StatusTooManyRequests:
		c.gate.Cooldown(res.retryAfter)
		return nil, &RateLimitedError{RetryAfter: res.retryAfter}
	case http.StatusNotFound:
		return nil, ErrNoData
	default:
		return nil, &InvalidRequestError{Status: res.status, Detail: http.StatusText(res.status)}
	}
}

// parseObservations maps the AEMET Antarctic payload (a JSON array) onto
// measurements. Rows without a parseable timestamp are skipped; every other
// field is optional and lands as NULL when absent.
func parseObservations(stationID string, payload []byte) ([]models.Measurement, error) {
	root := gjson.ParseBytes(payload)
	if !root.IsArray() {
		if strings.Contains(strings.ToLower(root.Get("descripcion").String()), "no hay datos") {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("unexpected payload shape: %s", truncate(payload, 120))
	}

	var rows []models.Measurement
	skipped := 0
	root.ForEach(func(_, row gjson.Result) bool {
		at, ok := parseTimestamp(row.Get("fhora").String())
		if !ok {
			skipped++
			return true
		}
		rows = append(rows, models.Measurement{
			StationID:   stationID,
			StationName: row.Get("nombre").String(),
			MeasuredAt:  at,
			Temperature: nullFloat(row.Get("temp")),
			Pressure:    nullFloat(row.Get("pres")),
			Speed:       nullFloat(row.Get("vel")),
			Direction:   nullFloat(row.Get("ddd")),
			Latitude:    nullFloat(row.Get("lat")),
			Longitude:   nullFloat(row.Get("lon")),
			Altitude:    nullFloat(row.Get("alt")),
		})
		return true
	})
	if skipped > 0 {
		log.Printf("upstream: skipped %d rows without a parseable timestamp", skipped)
	}
	return rows, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	aemetTimeLayout,
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nullFloat(r gjson.Result) sql.NullFloat64 {
	if !r.Exists() || r.Type == gjson.Null {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r.Float(), Valid: true}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
