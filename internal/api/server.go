// Package api provides the HTTP API for the farm.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/report"
	"github.com/talgya/mini-farm/internal/world"
)

// Store is the persistence the API needs for snapshots and plot history.
type Store interface {
	SaveFarmState(farm.Snapshot) error
	PlotEvents(plot world.PlotID, limit int) ([]farm.Event, error)
}

// Server serves the farm over HTTP.
type Server struct {
	Farm     *farm.Farm
	Eng      *engine.Engine // optional; nil for a farm driven by another clock
	DB       Store          // optional
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
	RelayKey string // Bearer token for the event stream. Empty = streaming disabled.

	RequestsPerMinute int // per client IP, 0 = unlimited

	streamConns atomic.Int32
	upgrader    websocket.Upgrader
	srv         *http.Server
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/seeds", s.handleSeeds)
	mux.HandleFunc("/api/v1/recipes", s.handleRecipes)
	mux.HandleFunc("/api/v1/plot/", s.handlePlotRoutes)
	mux.HandleFunc("/api/v1/plant/", s.handlePlant)
	mux.HandleFunc("/api/v1/farmer/", s.handleFarmerRoutes)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/harvests", s.handleHarvests)
	mux.HandleFunc("/api/v1/harvests/summary", s.handleHarvestSummary)

	// Live event stream (websocket, relay token).
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("/api/v1/action", s.adminOnly(s.handleAction))

	var limiter *RateLimiter
	if s.RequestsPerMinute > 0 {
		limiter = NewRateLimiter(s.RequestsPerMinute, time.Minute)
	}
	return corsMiddleware(RateLimitMiddleware(limiter, mux))
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the request's bearer token, if any.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no FARMSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if bearerToken(r) != s.AdminKey {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Farm.Settings()
	tick := s.Farm.Tick()

	status := map[string]any{
		"name":         "mini-farm",
		"tick":         tick,
		"farm_time":    engine.FarmTime(tick, st.SeasonLength),
		"season":       engine.SeasonName(s.Farm.Season()),
		"next_season":  engine.NextSeasonStart(tick, st.SeasonLength),
		"grid":         st.Grid.String(),
		"apportion":    st.Policy.String(),
		"plants":       len(s.Farm.Plants()),
		"harvests":     len(s.Farm.HarvestRecords()),
		"regen_rate":   st.Water.RegenRate,
		"capacity":     st.Water.Capacity,
		"plot_price":   st.PlotPrice,
		"seed_price":   st.SeedPrice,
		"running":      false,
		"speed":        0.0,
		"admin_access": s.AdminKey != "",
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
		status["speed"] = s.Eng.Speed()
	}
	writeJSON(w, status)
}

func (s *Server) handleSeeds(w http.ResponseWriter, r *http.Request) {
	type seedView struct {
		farm.SeedSpec
		Seasons  []string `json:"seasons"`
		InSeason bool     `json:"in_season"`
	}

	st := s.Farm.Settings()
	tick := s.Farm.Tick()
	var out []seedView
	for _, sp := range s.Farm.Catalog().Seeds() {
		out = append(out, seedView{
			SeedSpec: sp,
			Seasons:  engine.SeasonMaskNames(sp.GrowthSeasons),
			InSeason: engine.IsGrowthSeason(sp.GrowthSeasons, tick, st.SeasonLength),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Farm.Catalog().Recipes())
}

// handlePlotRoutes dispatches /api/v1/plot/:id, /api/v1/plot/:id/view and
// /api/v1/plot/:id/events.
func (s *Server) handlePlotRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/plot/"), "/")
	id, ok := parsePlotID(w, parts[0])
	if !ok {
		return
	}

	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	switch sub {
	case "":
		view, err := s.Farm.PlotView(id)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, info := range view {
			if info.Plot == id {
				writeJSON(w, info)
				return
			}
		}
		http.Error(w, "plot not in view", http.StatusInternalServerError)
	case "view":
		view, err := s.Farm.PlotView(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"center": id, "plots": view})
	case "events":
		s.handlePlotEvents(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePlotEvents(w http.ResponseWriter, r *http.Request, id world.PlotID) {
	limit := queryLimit(r, 50, 500)
	if s.DB != nil {
		events, err := s.DB.PlotEvents(id, limit)
		if err != nil {
			slog.Error("plot events query failed", "plot", id, "error", err)
			http.Error(w, "events unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
		return
	}

	var events []farm.Event
	for _, e := range s.Farm.Events(0) {
		if e.Plot == id {
			events = append(events, e)
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, events)
}

func (s *Server) handlePlant(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePlotID(w, strings.TrimPrefix(r.URL.Path, "/api/v1/plant/"))
	if !ok {
		return
	}
	p, found := s.Farm.PlantAt(id)
	if !found {
		writeError(w, fmt.Errorf("plant %d: %w", id, farm.ErrNoPlant))
		return
	}
	writeJSON(w, map[string]any{
		"plant":   p,
		"state":   p.State(s.Farm.Tick(), s.Farm.Settings().SeasonLength).String(),
		"seasons": engine.SeasonMaskNames(p.GrowthSeasons),
	})
}

// handleFarmerRoutes serves /api/v1/farmer/:name/plants and
// /api/v1/farmer/:name/balances.
func (s *Server) handleFarmerRoutes(w http.ResponseWriter, r *http.Request) {
	name, sub, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/api/v1/farmer/"), "/")
	if name == "" {
		http.Error(w, "missing farmer", http.StatusBadRequest)
		return
	}
	owner := ledger.Account(name)

	switch sub {
	case "plants":
		ids := s.Farm.PlantIDs(owner)
		if ids == nil {
			ids = []world.PlotID{}
		}
		writeJSON(w, map[string]any{"owner": owner, "count": len(ids), "plants": ids})
	case "balances":
		writeJSON(w, map[string]any{"owner": owner, "balances": s.balances(owner)})
	default:
		http.NotFound(w, r)
	}
}

// balances lists owner's non-zero balances. Ledgers that cannot enumerate are
// asked for every asset the catalog knows.
func (s *Server) balances(owner ledger.Account) map[ledger.Asset]uint64 {
	l := s.Farm.Ledger()
	if b, ok := l.(interface {
		Balances(ledger.Account) map[ledger.Asset]uint64
	}); ok {
		return b.Balances(owner)
	}

	cat := s.Farm.Catalog()
	assets := []ledger.Asset{ledger.Stable}
	for _, p := range s.Farm.Settings().Products {
		assets = append(assets, p.Symbol)
	}
	for _, sp := range cat.Seeds() {
		assets = append(assets, sp.Symbol)
	}
	for _, rc := range cat.Recipes() {
		assets = append(assets, rc.Dish)
	}
	out := make(map[ledger.Asset]uint64)
	for _, a := range assets {
		if q := l.Balance(owner, a); q > 0 {
			out[a] = q
		}
	}
	return out
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 500)
	events := s.Farm.Events(0)

	// Optional kind filter.
	if kind := r.URL.Query().Get("kind"); kind != "" {
		var filtered []farm.Event
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	writeJSON(w, events[start:])
}

func (s *Server) handleHarvests(w http.ResponseWriter, r *http.Request) {
	records := s.Farm.HarvestRecords()
	if owner := r.URL.Query().Get("owner"); owner != "" {
		var filtered []farm.HarvestResult
		for _, h := range records {
			if string(h.Owner) == owner {
				filtered = append(filtered, h)
			}
		}
		records = filtered
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="harvests.csv"`)
		if err := report.WriteHarvestCSV(w, records); err != nil {
			slog.Error("harvest csv failed", "error", err)
		}
		return
	}
	if records == nil {
		records = []farm.HarvestResult{}
	}
	writeJSON(w, records)
}

func (s *Server) handleHarvestSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, report.Summarize(s.Farm.HarvestRecords()))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}

	snap := s.Farm.Snapshot()
	if err := s.DB.SaveFarmState(snap); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"tick":    snap.Tick,
		"plants":  len(snap.Plants),
		"message": "snapshot saved",
	})
}

// statusFor maps farm error classes to HTTP status codes.
func statusFor(err error) int {
	switch farm.ClassOf(err) {
	case farm.ClassValidation:
		switch farm.CodeOf(err) {
		case farm.ErrNotOwner.Code, farm.ErrNotPlotOwner.Code:
			return http.StatusForbidden
		case farm.ErrNoPlant.Code:
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case farm.ClassTiming:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}
	if code := farm.CodeOf(err); code != "" {
		body["code"] = code
		body["class"] = farm.ClassOf(err).String()
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func parsePlotID(w http.ResponseWriter, s string) (world.PlotID, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		http.Error(w, "invalid plot id", http.StatusBadRequest)
		return 0, false
	}
	return world.PlotID(n), true
}

func queryLimit(r *http.Request, def, max int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
