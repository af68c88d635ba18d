// Package persistence provides SQLite-based farm state storage.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

// DB wraps a SQLite connection for farm state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plot_water (
		plot_id INTEGER PRIMARY KEY,
		amount INTEGER NOT NULL,
		change_rate INTEGER NOT NULL,
		tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plant_water (
		plant_id INTEGER PRIMARY KEY,
		absorbed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plants (
		plot_id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL,
		seed TEXT NOT NULL,
		planted_tick INTEGER NOT NULL,
		mature_tick INTEGER NOT NULL,
		overgrown_tick INTEGER NOT NULL,
		growth_seasons INTEGER NOT NULL,
		min_water INTEGER NOT NULL,
		home_rate INTEGER NOT NULL,
		neighbor_rate INTEGER NOT NULL,
		water_absorbed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		owner TEXT NOT NULL,
		asset TEXT NOT NULL,
		qty INTEGER NOT NULL,
		PRIMARY KEY (owner, asset)
	);

	CREATE TABLE IF NOT EXISTS parcels (
		parcel_id INTEGER PRIMARY KEY,
		owner TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS harvests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		plot_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		seed TEXT NOT NULL,
		outcome TEXT NOT NULL,
		water_absorbed INTEGER NOT NULL,
		product TEXT NOT NULL,
		yield INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		plot_id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		asset TEXT NOT NULL,
		qty INTEGER NOT NULL,
		change_rate INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		water_absorbed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_plants_owner ON plants(owner);
	CREATE INDEX IF NOT EXISTS idx_parcels_owner ON parcels(owner);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type waterRow struct {
	PlotID world.PlotID `db:"plot_id"`
	water.Log
}

type absorbedRow struct {
	PlantID  water.PlantID `db:"plant_id"`
	Absorbed uint64        `db:"absorbed"`
}

type balanceRow struct {
	Owner ledger.Account `db:"owner"`
	Asset ledger.Asset   `db:"asset"`
	Qty   uint64         `db:"qty"`
}

type parcelRow struct {
	ParcelID ledger.ParcelID `db:"parcel_id"`
	Owner    ledger.Account  `db:"owner"`
}

type harvestRow struct {
	Tick          uint64         `db:"tick"`
	PlotID        world.PlotID   `db:"plot_id"`
	Owner         ledger.Account `db:"owner"`
	Seed          ledger.Asset   `db:"seed"`
	Outcome       string         `db:"outcome"`
	WaterAbsorbed uint64         `db:"water_absorbed"`
	Product       ledger.Asset   `db:"product"`
	Yield         uint64         `db:"yield"`
}

// SaveFarmState performs a full save of the farm snapshot in one transaction.
func (db *DB) SaveFarmState(snap farm.Snapshot) error {
	slog.Info("saving farm state",
		"tick", snap.Tick,
		"plants", len(snap.Plants),
		"plots", humanize.Comma(int64(len(snap.Water.Logs))),
	)

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"plot_water", "plant_water", "plants", "harvests"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for id, l := range snap.Water.Logs {
		if _, err := tx.Exec("INSERT INTO plot_water (plot_id, amount, change_rate, tick) VALUES (?, ?, ?, ?)",
			id, l.Amount, l.ChangeRate, l.Tick); err != nil {
			return fmt.Errorf("insert plot water %d: %w", id, err)
		}
	}
	for id, v := range snap.Water.Absorbed {
		if _, err := tx.Exec("INSERT INTO plant_water (plant_id, absorbed) VALUES (?, ?)", id, v); err != nil {
			return fmt.Errorf("insert plant water %d: %w", id, err)
		}
	}

	for _, p := range snap.Plants {
		_, err := tx.NamedExec(`INSERT INTO plants
			(plot_id, owner, seed, planted_tick, mature_tick, overgrown_tick,
			 growth_seasons, min_water, home_rate, neighbor_rate, water_absorbed)
			VALUES (:plot_id, :owner, :seed, :planted_tick, :mature_tick, :overgrown_tick,
			 :growth_seasons, :min_water, :home_rate, :neighbor_rate, :water_absorbed)`, p)
		if err != nil {
			return fmt.Errorf("insert plant %d: %w", p.PlotID, err)
		}
	}

	for _, h := range snap.Records {
		_, err := tx.Exec(`INSERT INTO harvests
			(tick, plot_id, owner, seed, outcome, water_absorbed, product, yield)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.Tick, h.Plot, h.Owner, h.Seed, h.Outcome.String(), h.WaterAbsorbed, h.Product, h.Yield)
		if err != nil {
			return fmt.Errorf("insert harvest: %w", err)
		}
	}

	if snap.Ledger != nil {
		if err := saveLedger(tx, *snap.Ledger); err != nil {
			return err
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		"last_tick", strconv.FormatUint(snap.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("farm state saved", "tick", snap.Tick)
	return nil
}

func saveLedger(tx *sqlx.Tx, st ledger.State) error {
	if _, err := tx.Exec("DELETE FROM balances"); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM parcels"); err != nil {
		return fmt.Errorf("clear parcels: %w", err)
	}
	for owner, bals := range st.Balances {
		for asset, qty := range bals {
			if _, err := tx.Exec("INSERT INTO balances (owner, asset, qty) VALUES (?, ?, ?)", owner, asset, qty); err != nil {
				return fmt.Errorf("insert balance %s/%s: %w", owner, asset, err)
			}
		}
	}
	for id, owner := range st.Parcels {
		if _, err := tx.Exec("INSERT INTO parcels (parcel_id, owner) VALUES (?, ?)", id, owner); err != nil {
			return fmt.Errorf("insert parcel %d: %w", id, err)
		}
	}
	return nil
}

// HasFarmState reports whether a farm has been saved before.
func (db *DB) HasFarmState() bool {
	_, err := db.GetMeta("last_tick")
	return err == nil
}

// LoadFarmState reads the last saved snapshot.
func (db *DB) LoadFarmState() (farm.Snapshot, error) {
	var snap farm.Snapshot

	tickStr, err := db.GetMeta("last_tick")
	if err != nil {
		return snap, fmt.Errorf("load last tick: %w", err)
	}
	if snap.Tick, err = strconv.ParseUint(tickStr, 10, 64); err != nil {
		return snap, fmt.Errorf("parse last tick %q: %w", tickStr, err)
	}

	var logs []waterRow
	if err := db.conn.Select(&logs, "SELECT plot_id, amount, change_rate, tick FROM plot_water"); err != nil {
		return snap, fmt.Errorf("load plot water: %w", err)
	}
	snap.Water.Logs = make(map[world.PlotID]water.Log, len(logs))
	for _, r := range logs {
		snap.Water.Logs[r.PlotID] = r.Log
	}

	var absorbed []absorbedRow
	if err := db.conn.Select(&absorbed, "SELECT plant_id, absorbed FROM plant_water"); err != nil {
		return snap, fmt.Errorf("load plant water: %w", err)
	}
	snap.Water.Absorbed = make(map[water.PlantID]uint64, len(absorbed))
	for _, r := range absorbed {
		snap.Water.Absorbed[r.PlantID] = r.Absorbed
	}

	if err := db.conn.Select(&snap.Plants, "SELECT * FROM plants ORDER BY plot_id"); err != nil {
		return snap, fmt.Errorf("load plants: %w", err)
	}

	var harvests []harvestRow
	if err := db.conn.Select(&harvests, `SELECT tick, plot_id, owner, seed, outcome, water_absorbed, product, yield
		FROM harvests ORDER BY id`); err != nil {
		return snap, fmt.Errorf("load harvests: %w", err)
	}
	for _, h := range harvests {
		outcome, err := farm.ParseOutcome(h.Outcome)
		if err != nil {
			return snap, err
		}
		snap.Records = append(snap.Records, farm.HarvestResult{
			Plot: h.PlotID, Owner: h.Owner, Seed: h.Seed, Outcome: outcome,
			WaterAbsorbed: h.WaterAbsorbed, Product: h.Product, Yield: h.Yield, Tick: h.Tick,
		})
	}

	st, err := db.loadLedger()
	if err != nil {
		return snap, err
	}
	snap.Ledger = &st
	return snap, nil
}

func (db *DB) loadLedger() (ledger.State, error) {
	st := ledger.State{
		Balances: make(map[ledger.Account]map[ledger.Asset]uint64),
		Parcels:  make(map[ledger.ParcelID]ledger.Account),
	}

	var bals []balanceRow
	if err := db.conn.Select(&bals, "SELECT owner, asset, qty FROM balances"); err != nil {
		return st, fmt.Errorf("load balances: %w", err)
	}
	for _, b := range bals {
		if st.Balances[b.Owner] == nil {
			st.Balances[b.Owner] = make(map[ledger.Asset]uint64)
		}
		st.Balances[b.Owner][b.Asset] = b.Qty
	}

	var parcels []parcelRow
	if err := db.conn.Select(&parcels, "SELECT parcel_id, owner FROM parcels"); err != nil {
		return st, fmt.Errorf("load parcels: %w", err)
	}
	for _, p := range parcels {
		st.Parcels[p.ParcelID] = p.Owner
	}
	return st, nil
}

// SaveEvents appends events to the database. Events already stored are skipped.
func (db *DB) SaveEvents(events []farm.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.NamedExec(`INSERT OR IGNORE INTO events
			(id, tick, kind, plot_id, owner, asset, qty, change_rate, amount, water_absorbed)
			VALUES (:id, :tick, :kind, :plot_id, :owner, :asset, :qty, :change_rate, :amount, :water_absorbed)`, e)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in farm metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// RecentEvents returns the most recent N events, oldest first.
func (db *DB) RecentEvents(limit int) ([]farm.Event, error) {
	var events []farm.Event
	err := db.conn.Select(&events,
		`SELECT id, tick, kind, plot_id, owner, asset, qty, change_rate, amount, water_absorbed
		 FROM events ORDER BY rowid DESC LIMIT ?`,
		limit,
	)
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, err
}

// PlotEvents returns the events of one plot, oldest first.
func (db *DB) PlotEvents(plot world.PlotID, limit int) ([]farm.Event, error) {
	var events []farm.Event
	err := db.conn.Select(&events,
		`SELECT id, tick, kind, plot_id, owner, asset, qty, change_rate, amount, water_absorbed
		 FROM events WHERE plot_id = ? ORDER BY rowid DESC LIMIT ?`,
		plot, limit,
	)
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, err
}

// EventWriter is a farm.EventSink that batches events into the database.
type EventWriter struct {
	db    *DB
	batch int

	mu      sync.Mutex
	pending []farm.Event
}

// NewEventWriter creates a writer that flushes every batch events.
func NewEventWriter(db *DB, batch int) *EventWriter {
	if batch <= 0 {
		batch = 256
	}
	return &EventWriter{db: db, batch: batch}
}

// WriteEvent queues e and flushes when the batch is full.
func (w *EventWriter) WriteEvent(e farm.Event) error {
	w.mu.Lock()
	w.pending = append(w.pending, e)
	full := len(w.pending) >= w.batch
	w.mu.Unlock()
	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes every queued event.
func (w *EventWriter) Flush() error {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	if err := w.db.SaveEvents(events); err != nil {
		w.mu.Lock()
		w.pending = append(events, w.pending...)
		w.mu.Unlock()
		return fmt.Errorf("flush %d events: %w", len(events), err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
