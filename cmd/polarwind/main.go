package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/pabhub/polarwind/internal/analytics"
	"github.com/pabhub/polarwind/internal/models"
	"github.com/pabhub/polarwind/internal/orchestrate"
	"github.com/pabhub/polarwind/internal/refresh"
	"github.com/pabhub/polarwind/internal/store"
	"github.com/pabhub/polarwind/internal/upstream"
)

var defaultStations = []models.Station{
	{StationID: "89064", Name: "Estación Meteorológica Juan Carlos I", Latitude: -62.663, Longitude: -60.388, AltitudeM: 12, Role: models.RoleMeteo, Selectable: true},
	{StationID: "89064R", Name: "Estación Radiométrica Juan Carlos I", Latitude: -62.663, Longitude: -60.388, AltitudeM: 12, Role: models.RoleSupplemental, Selectable: false},
	{StationID: "89064RA", Name: "Estación Radiométrica Juan Carlos I (hasta 08/03/2007)", Latitude: -62.663, Longitude: -60.388, AltitudeM: 12, Role: models.RoleArchive, Selectable: false},
	{StationID: "89070", Name: "Estación Meteorológica Gabriel de Castilla", Latitude: -62.977, Longitude: -60.675, AltitudeM: 15, Role: models.RoleMeteo, Selectable: true},
}

type globals struct {
	DB          string        `help:"Path to the SQLite database." default:"data/polarwind.db" env:"POLARWIND_DB"`
	APIKey      string        `help:"AEMET OpenData API key." env:"AEMET_API_KEY"`
	MinInterval time.Duration `help:"Minimum spacing between upstream calls." default:"2s" env:"POLARWIND_MIN_INTERVAL"`
	MetricsAddr string        `help:"Expose Prometheus metrics on this address (empty disables)." env:"POLARWIND_METRICS_ADDR"`
}

type cli struct {
	globals

	Fetch     fetchCmd     `cmd:"" help:"Fetch a station's range into the local cache and print the snapshot."`
	Status    statusCmd    `cmd:"" help:"Print the status of a fetch job."`
	Result    resultCmd    `cmd:"" help:"Print the snapshot result of a completed fetch job."`
	Snapshot  snapshotCmd  `cmd:"" help:"Summarize an already-cached range."`
	Playback  playbackCmd  `cmd:"" help:"Print playback frames and the wind rose for a cached range."`
	Timeframe timeframeCmd `cmd:"" help:"Print grouped statistics, optionally with a generation estimate."`
	Refresh   refreshCmd   `cmd:"" help:"Refresh the current month for the selectable stations."`
	Stations  stationsCmd  `cmd:"" help:"List known stations."`
}

// app wires the core once per invocation.
type app struct {
	store  *store.Store
	engine *analytics.Engine
	orch   *orchestrate.Orchestrator
}

func newApp(g globals) (*app, func(), error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	for _, station := range defaultStations {
		if err := st.UpsertStation(station); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("seed station %s: %w", station.StationID, err)
		}
	}

	gate := upstream.NewGate(g.MinInterval)
	client := upstream.NewAEMETClient(g.APIKey, gate)
	engine := analytics.NewEngine(st)
	orch := orchestrate.New(st, client, engine, orchestrate.DefaultConfig())

	if g.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("metrics: listening on %s", g.MetricsAddr)
			if err := http.ListenAndServe(g.MetricsAddr, mux); err != nil {
				log.Printf("metrics: %v", err)
			}
		}()
	}

	cleanup := func() {
		orch.Close()
		db.Close()
	}
	return &app{store: st, engine: engine, orch: orch}, cleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type fetchCmd struct {
	Station string    `arg:"" help:"Station id (e.g. 89064)."`
	Start   time.Time `arg:"" format:"2006-01-02" help:"Range start (UTC)."`
	End     time.Time `arg:"" format:"2006-01-02" help:"Range end (UTC, exclusive)."`
	NoWait  bool      `help:"Submit and print the job id without waiting."`
}

func (c *fetchCmd) Run(a *app) error {
	jobID, err := a.orch.SubmitQuery(c.Station, c.Start, c.End)
	if err != nil {
		return err
	}
	if c.NoWait {
		fmt.Println(jobID)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go pollProgress(ctx, a, jobID)

	if err := a.orch.WaitJob(ctx, jobID); err != nil {
		return err
	}
	job, err := a.orch.GetJobStatus(jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobFailed {
		return fmt.Errorf("job %s failed: %s", jobID, job.ErrorDetail.String)
	}

	snap, err := a.orch.GetJobResult(jobID)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func pollProgress(ctx context.Context, a *app, jobID string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		job, err := a.orch.GetJobStatus(jobID)
		if err != nil || job.Status.Terminal() {
			return
		}
		log.Printf("fetch: %s (%.0f%%)", job.Message, job.Percent())
	}
}

type statusCmd struct {
	JobID string `arg:"" help:"Job id returned by fetch."`
}

func (c *statusCmd) Run(a *app) error {
	job, err := a.orch.GetJobStatus(c.JobID)
	if err != nil {
		return err
	}
	return printJSON(job)
}

type resultCmd struct {
	JobID string `arg:"" help:"Job id returned by fetch."`
}

func (c *resultCmd) Run(a *app) error {
	snap, err := a.orch.GetJobResult(c.JobID)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

type snapshotCmd struct {
	Station string    `arg:"" help:"Station id."`
	Start   time.Time `arg:"" format:"2006-01-02"`
	End     time.Time `arg:"" format:"2006-01-02"`
}

func (c *snapshotCmd) Run(a *app) error {
	snap, err := a.engine.GetSnapshot(c.Station, c.Start, c.End)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

type playbackCmd struct {
	Station string    `arg:"" help:"Station id."`
	Start   time.Time `arg:"" format:"2006-01-02"`
	End     time.Time `arg:"" format:"2006-01-02"`
	Step    string    `help:"Frame step: 10min, 1h, 3h or 1d." default:"1h" enum:"10min,1h,3h,1d"`
}

func (c *playbackCmd) Run(a *app) error {
	result, err := a.engine.GetPlayback(c.Station, c.Start, c.End, models.PlaybackStep(c.Step))
	if err != nil {
		return err
	}
	return printJSON(result)
}

type timeframeCmd struct {
	Station string    `arg:"" help:"Station id."`
	Start   time.Time `arg:"" format:"2006-01-02"`
	End     time.Time `arg:"" format:"2006-01-02"`
	GroupBy string    `help:"Bucket size: hour, day, week, month or season." default:"day" enum:"hour,day,week,month,season"`

	CompareStart *time.Time `help:"Baseline range start for period comparison." format:"2006-01-02"`
	CompareEnd   *time.Time `help:"Baseline range end for period comparison." format:"2006-01-02"`

	Turbines    int      `help:"Number of turbines to simulate (0 disables the estimate)."`
	RatedKW     float64  `name:"rated-kw" help:"Rated power per turbine in kW." default:"100"`
	CutIn       float64  `help:"Cut-in speed in m/s." default:"3"`
	Rated       float64  `help:"Rated speed in m/s." default:"12"`
	CutOut      float64  `help:"Cut-out speed in m/s." default:"25"`
	MinTempC    *float64 `help:"Minimum operating temperature in °C."`
	MaxTempC    *float64 `help:"Maximum operating temperature in °C."`
	MinPressure *float64 `help:"Minimum operating pressure in hPa."`
	MaxPressure *float64 `help:"Maximum operating pressure in hPa."`
}

func (c *timeframeCmd) Run(a *app) error {
	var sim *models.SimulationParams
	if c.Turbines > 0 {
		sim = &models.SimulationParams{
			TurbineCount:         c.Turbines,
			RatedPowerKW:         c.RatedKW,
			CutInSpeedMps:        c.CutIn,
			RatedSpeedMps:        c.Rated,
			CutOutSpeedMps:       c.CutOut,
			MinOperatingTempC:    c.MinTempC,
			MaxOperatingTempC:    c.MaxTempC,
			MinOperatingPressure: c.MinPressure,
			MaxOperatingPressure: c.MaxPressure,
		}
		if !sim.Valid() {
			return fmt.Errorf("invalid power curve: need 0 <= cut-in < rated < cut-out")
		}
	}

	result, err := a.engine.GetTimeframe(c.Station, c.Start, c.End,
		models.GroupBy(c.GroupBy), sim, c.CompareStart, c.CompareEnd)
	if err != nil {
		return err
	}
	return printJSON(result)
}

type refreshCmd struct {
	Schedule string `help:"Keep running on this cron schedule instead of refreshing once." env:"POLARWIND_REFRESH_SCHEDULE"`
}

func (c *refreshCmd) Run(a *app) error {
	r := refresh.New(a.store, a.orch)

	if c.Schedule == "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return r.RefreshAll(ctx)
	}

	if err := r.Start(c.Schedule); err != nil {
		return err
	}
	defer r.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

type stationsCmd struct{}

func (c *stationsCmd) Run(a *app) error {
	stations, err := a.store.GetSelectableStations()
	if err != nil {
		return err
	}
	return printJSON(stations)
}

func main() {
	var args cli
	ctx := kong.Parse(&args,
		kong.Name("polarwind"),
		kong.Description("Cache-first retrieval and wind analytics for the AEMET Antarctic stations."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)

	a, cleanup, err := newApp(args.globals)
	ctx.FatalIfErrorf(err)
	defer cleanup()

	ctx.FatalIfErrorf(ctx.Run(a))
}
