// Command farmhand works one farmer's plots through the farm API.
// It observes plot state, decides what to buy, plant and harvest, and acts
// via the admin action endpoint.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/talgya/mini-farm/internal/farmhand"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment.
	apiURL := envOrDefault("FARMHAND_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("FARMSIM_ADMIN_KEY")
	owner := envOrDefault("FARMHAND_OWNER", "farmhand")
	intervalSec := envIntOrDefault("FARMHAND_INTERVAL", 30)
	retryEvery := envIntOrDefault("FARMHAND_RETRY_EVERY", 30)
	memoryPath := envOrDefault("FARMHAND_MEMORY", "farmhand_memory.json")

	if adminKey == "" {
		slog.Error("FARMSIM_ADMIN_KEY is required")
		os.Exit(1)
	}
	plots, err := parsePlots(os.Getenv("FARMHAND_PLOTS"))
	if err != nil {
		slog.Error("FARMHAND_PLOTS", "error", err)
		os.Exit(1)
	}

	interval := time.Duration(intervalSec) * time.Second

	slog.Info("farmhand starting",
		"api_url", apiURL,
		"owner", owner,
		"plots", len(plots),
		"interval", interval,
	)

	hand := &farmhand.Hand{
		Observer:   farmhand.NewObserver(apiURL),
		Actor:      farmhand.NewActor(apiURL, adminKey),
		Memory:     farmhand.LoadMemory(memoryPath),
		Owner:      ledger.Account(owner),
		Plots:      plots,
		RetryEvery: uint64(retryEvery),
	}

	slog.Info("waiting for farm API...")
	waitForAPI(apiURL)

	runCycle(hand)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(hand)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			fmt.Println("Farmhand stopped.")
			return
		}
	}
}

func runCycle(hand *farmhand.Hand) {
	if _, err := hand.RunCycle(); err != nil {
		slog.Error("farmhand cycle failed", "error", err)
	}
}

// parsePlots reads a comma separated list of plot ids.
func parsePlots(s string) ([]world.PlotID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("at least one plot is required")
	}
	var plots []world.PlotID
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("plot %q: %w", f, err)
		}
		plots = append(plots, world.PlotID(n))
	}
	return plots, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// waitForAPI polls the status endpoint with exponential backoff until it
// responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("farm API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("farm API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("farm API not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
