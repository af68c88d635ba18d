// Command farmsim runs the farm: the tick engine, persistence, the event
// journal, season reports and the HTTP API, plus an optional demo population.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-farm/internal/api"
	"github.com/talgya/mini-farm/internal/config"
	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/journal"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/persistence"
	"github.com/talgya/mini-farm/internal/report"
	"github.com/talgya/mini-farm/internal/scenario"
)

func main() {
	configPath := flag.String("config", "", "YAML config overlaid on the built-in defaults")
	debug := flag.Bool("debug", false, "log at debug level")
	replayDir := flag.String("replay", "", "write the harvests recorded in a journal directory as CSV to stdout and exit")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logOut := os.Stdout
	if *replayDir != "" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *replayDir != "" {
		if err := replay(*replayDir); err != nil {
			slog.Error("replay failed", "dir", *replayDir, "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	settings, err := cfg.Settings()
	if err != nil {
		slog.Error("invalid farm settings", "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Storage.DB); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("failed to create database directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	db, err := persistence.Open(cfg.Storage.DB)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.DB)

	// ── Load or Start Farm State ─────────────────────────────────────
	var snap *farm.Snapshot
	startTick := cfg.Engine.StartTick
	if db.HasFarmState() {
		slog.Info("found saved farm state, loading...")
		s, err := db.LoadFarmState()
		if err != nil {
			slog.Error("failed to load farm state", "error", err)
			os.Exit(1)
		}
		snap = &s
		startTick = s.Tick
	}

	eng := engine.NewEngine(startTick, settings.SeasonLength)
	eng.Interval = cfg.Engine.TickInterval
	eng.SaveEvery = cfg.Engine.SaveEvery
	eng.SetSpeed(cfg.Engine.Speed)

	f, err := farm.New(settings, eng, ledger.NewMemory())
	if err != nil {
		slog.Error("failed to create farm", "error", err)
		os.Exit(1)
	}
	if snap != nil {
		if err := f.Restore(*snap); err != nil {
			slog.Error("failed to restore farm state", "error", err)
			os.Exit(1)
		}
		slog.Info("farm state restored",
			"plants", len(snap.Plants),
			"harvests", humanize.Comma(int64(len(snap.Records))),
			"tick", startTick,
			"farm_time", engine.FarmTime(startTick, settings.SeasonLength),
		)
		if created, err := db.GetMeta("created_at"); err == nil {
			if t, err := time.Parse(time.RFC3339, created); err == nil {
				slog.Info("farm age", "created", humanize.Time(t))
			}
		}

		// Recent history for the events endpoint and live dashboards.
		recent, err := db.RecentEvents(1000)
		if err != nil {
			slog.Warn("failed to load recent events", "error", err)
		}
		f.RestoreEvents(recent)
	} else if err := db.SaveMeta("created_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to save farm metadata", "error", err)
	}

	// ── Event Sinks ───────────────────────────────────────────────────
	events := persistence.NewEventWriter(db, 0)
	f.AddSink(events)

	var jw *journal.Writer
	if cfg.Storage.JournalDir != "" {
		jw = journal.NewWriter(cfg.Storage.JournalDir, "events")
		f.AddSink(jw)
		slog.Info("event journal enabled", "dir", cfg.Storage.JournalDir)
	}

	out, err := report.NewOutput(cfg.Storage.ReportDir)
	if err != nil {
		slog.Error("failed to open report output", "error", err)
		os.Exit(1)
	}

	// ── Demo Farmers ──────────────────────────────────────────────────
	var tender *scenario.Tender
	if cfg.Demo.Enabled {
		demo := scenario.Config{
			Farmers:        cfg.Demo.Farmers,
			Stable:         cfg.Demo.Stable,
			PlotsPerFarmer: cfg.Demo.PlotsPerFarmer,
			Seed:           cfg.Demo.Seed,
			RetryEvery:     cfg.Demo.RetryEvery,
		}
		farmers := scenario.Existing(f, demo.Farmers)
		if len(farmers) == 0 {
			farmers, err = scenario.NewSpawner(demo.Seed).Spawn(f, demo)
			if err != nil {
				slog.Error("failed to spawn demo farmers", "error", err)
				os.Exit(1)
			}
		}
		tender = scenario.NewTender(f, farmers, demo)
		slog.Info("demo farmers ready", "farmers", len(farmers))
	}

	// ── Tick Callbacks ────────────────────────────────────────────────
	save := func() {
		if err := db.SaveFarmState(f.Snapshot()); err != nil {
			slog.Error("save failed", "error", err)
		}
		f.FlushSinks()
		if err := events.Flush(); err != nil {
			slog.Error("event flush failed", "error", err)
		}
		if jw != nil {
			if err := jw.Sync(); err != nil {
				slog.Error("journal sync failed", "error", err)
			}
		}
	}

	if tender != nil {
		eng.OnTick = func(tick uint64) {
			rep, err := tender.Tend()
			if err != nil {
				slog.Error("demo tend failed", "tick", tick, "error", err)
				return
			}
			if rep != (scenario.Report{}) {
				slog.Debug("demo tended", "tick", tick, "report", fmt.Sprintf("%+v", rep))
			}
		}
	}

	eng.OnSeason = func(tick uint64) {
		row := report.SeasonEnded(tick, settings.SeasonLength, len(f.Plants()), f.HarvestRecords())
		slog.Info("season report", "summary", row.String())
		if err := out.WriteSeason(row); err != nil {
			slog.Error("season report write failed", "error", err)
		}
	}
	eng.OnSave = func(uint64) { save() }

	// Save on a fresh start only (restored farms are already saved).
	if snap == nil {
		save()
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Server.AdminKey == "" {
		slog.Warn("FARMSIM_ADMIN_KEY not set, admin POST endpoints are disabled")
	}
	apiServer := &api.Server{
		Farm:              f,
		Eng:               eng,
		DB:                db,
		Port:              cfg.Server.Port,
		AdminKey:          cfg.Server.AdminKey,
		RelayKey:          os.Getenv("FARMSIM_RELAY_KEY"),
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\nmini-farm is growing on a %s grid.\n", settings.Grid)
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
	if startTick > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", startTick, engine.FarmTime(startTick, settings.SeasonLength))
	}
	fmt.Println("Starting farm... (Ctrl+C to stop)")

	eng.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	save()
	if jw != nil {
		if err := jw.Close(); err != nil {
			slog.Error("journal close failed", "error", err)
		}
	}
	if err := out.Close(); err != nil {
		slog.Error("report close failed", "error", err)
	}

	fmt.Println("Farm stopped. State saved.")
}

// replay rebuilds the harvest history from a journal directory.
func replay(dir string) error {
	events, err := journal.ReadAll(dir, "events")
	if err != nil {
		return err
	}
	records := journal.Harvests(events)
	if err := report.WriteHarvestCSV(os.Stdout, records); err != nil {
		return err
	}
	slog.Info("journal replayed",
		"events", humanize.Comma(int64(len(events))),
		"harvests", humanize.Comma(int64(len(records))),
	)
	for _, st := range report.Summarize(records) {
		slog.Info("harvest outcome", "outcome", st.Outcome, "count", st.Count, "mean_absorbed", st.MeanAbsorbed, "yield", st.Yield)
	}
	return nil
}
