// Package farm is the farming economy: plots are bought as ledger parcels,
// seeds are planted on owned plots, and plants draw water from their plot and
// its neighbors until they are harvested.
//
// Every mutating operation runs under one mutex, so the farm has a single
// serial transaction order. Time comes from an engine.Clock; the farm never
// reads the wall clock.
package farm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

const maxHarvestRecords = 10000

// Farm holds the plants and water accountant and settles every operation
// against the ledger.
type Farm struct {
	mu sync.Mutex

	settings Settings
	catalog  *Catalog
	clock    engine.Clock
	ledger   ledger.Ledger
	water    *water.Accountant

	plants map[world.PlotID]*Plant
	owned  map[ledger.Account]map[world.PlotID]struct{}

	events  *eventLog
	records []HarvestResult
}

// New creates a farm. The settings are validated into a Catalog.
func New(settings Settings, clock engine.Clock, l ledger.Ledger) (*Farm, error) {
	if settings.Grid.Size() == 0 {
		return nil, fmt.Errorf("grid %s has no plots", settings.Grid)
	}
	if settings.SeasonLength == 0 {
		return nil, fmt.Errorf("season length must be positive")
	}
	if settings.Treasury == "" {
		settings.Treasury = "farm"
	}
	cat, err := NewCatalog(settings)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return &Farm{
		settings: settings,
		catalog:  cat,
		clock:    clock,
		ledger:   l,
		water:    water.NewAccountant(settings.Grid, settings.Water, settings.Policy),
		plants:   make(map[world.PlotID]*Plant),
		owned:    make(map[ledger.Account]map[world.PlotID]struct{}),
		events:   newEventLog(settings.EventBuffer),
	}, nil
}

// Settings returns the farm configuration.
func (f *Farm) Settings() Settings { return f.settings }

// Catalog returns the products, seeds and recipes.
func (f *Farm) Catalog() *Catalog { return f.catalog }

// Ledger returns the ledger the farm settles against.
func (f *Farm) Ledger() ledger.Ledger { return f.ledger }

// Tick returns the current tick.
func (f *Farm) Tick() uint64 { return f.clock.Now() }

// Season returns the current season index.
func (f *Farm) Season() uint8 {
	return engine.SeasonIndex(f.clock.Now(), f.settings.SeasonLength)
}

// BuyPlot mints the plot's parcel to caller for PlotPrice stable.
func (f *Farm) BuyPlot(caller ledger.Account, plot world.PlotID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	if !f.settings.Grid.Valid(plot) {
		return f.reject("buy plot", ErrPlotInvalidID, "caller", caller, "plot", plot)
	}
	if _, minted := f.ledger.OwnerOf(ledger.ParcelID(plot)); minted {
		return f.reject("buy plot", ErrPlotAlreadyMinted, "caller", caller, "plot", plot)
	}
	if err := f.ledger.Transfer(caller, f.settings.Treasury, ledger.Stable, f.settings.PlotPrice); err != nil {
		return ledgerErr(fmt.Sprintf("buy plot %d", plot), err)
	}
	if err := f.ledger.MintParcel(ledger.ParcelID(plot), caller); err != nil {
		_ = f.ledger.Transfer(f.settings.Treasury, caller, ledger.Stable, f.settings.PlotPrice)
		return ledgerErr(fmt.Sprintf("buy plot %d", plot), err)
	}

	f.events.emit(Event{Tick: tick, Kind: EventBuyPlot, Plot: plot, Owner: caller, Asset: ledger.Stable, Qty: f.settings.PlotPrice})
	return nil
}

// BuySeeds credits qty seeds to caller for SeedPrice stable each.
func (f *Farm) BuySeeds(caller ledger.Account, seed ledger.Asset, qty uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	if qty == 0 {
		return f.reject("buy seeds", ErrQuantityZero, "caller", caller, "seed", seed)
	}
	if _, ok := f.catalog.Seed(seed); !ok {
		return f.reject("buy seeds", ErrInvalidSeed, "caller", caller, "seed", seed)
	}
	price := f.settings.SeedPrice
	cost := price * qty
	if price != 0 && cost/price != qty {
		return f.reject("buy seeds", ErrInsufficientBalance, "caller", caller, "seed", seed, "qty", qty)
	}
	if err := f.ledger.Transfer(caller, f.settings.Treasury, ledger.Stable, cost); err != nil {
		return ledgerErr(fmt.Sprintf("buy %d %s", qty, seed), err)
	}
	if err := f.ledger.Credit(caller, seed, qty); err != nil {
		_ = f.ledger.Transfer(f.settings.Treasury, caller, ledger.Stable, cost)
		return ledgerErr(fmt.Sprintf("buy %d %s", qty, seed), err)
	}

	f.events.emit(Event{Tick: tick, Kind: EventBuySeeds, Owner: caller, Asset: seed, Qty: qty})
	return nil
}

// Plant burns one seed, escrows the plot's parcel with the farm and registers
// the plant's claimants on the plot and its neighbors.
func (f *Farm) Plant(caller ledger.Account, seed ledger.Asset, plot world.PlotID) (Plant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	sp, ok := f.catalog.Seed(seed)
	if !ok {
		return Plant{}, f.reject("plant", ErrInvalidSeed, "caller", caller, "seed", seed)
	}
	if !engine.IsGrowthSeason(sp.GrowthSeasons, tick, f.settings.SeasonLength) {
		return Plant{}, f.reject("plant", ErrNotGrowthSeason, "caller", caller, "seed", seed, "tick", tick)
	}
	if !f.settings.Grid.Valid(plot) {
		return Plant{}, f.reject("plant", ErrPlotInvalidID, "caller", caller, "plot", plot)
	}
	if f.ledger.Balance(caller, seed) == 0 {
		return Plant{}, f.reject("plant", ErrInsufficientBalance, "caller", caller, "seed", seed)
	}
	owner, minted := f.ledger.OwnerOf(ledger.ParcelID(plot))
	if !minted {
		return Plant{}, f.reject("plant", ErrPlotNotMinted, "caller", caller, "plot", plot)
	}
	if owner != caller {
		// A planted plot's parcel is escrowed with the treasury, so this
		// also rejects planting twice.
		return Plant{}, f.reject("plant", ErrNotPlotOwner, "caller", caller, "plot", plot)
	}

	if err := f.ledger.Debit(caller, seed, 1); err != nil {
		return Plant{}, ledgerErr("plant", err)
	}
	if err := f.ledger.TransferParcel(ledger.ParcelID(plot), caller, f.settings.Treasury); err != nil {
		_ = f.ledger.Credit(caller, seed, 1)
		return Plant{}, ledgerErr("plant", err)
	}

	p := newPlant(plot, caller, sp, tick)
	changes := f.water.Register(p.ID(), plot, p.Rates(), tick)
	f.plants[plot] = p
	f.own(caller, plot)

	f.emitWater(changes)
	f.events.emit(Event{Tick: tick, Kind: EventPlant, Plot: plot, Owner: caller, Asset: seed, Qty: 1})
	slog.Debug("planted", "owner", caller, "seed", seed, "plot", plot, "tick", tick, "mature", p.MatureTick)
	return *p, nil
}

// Harvest evaluates the plant on plot for caller. Overgrown and harvested
// plants leave the ground and their parcel returns to the owner. A plant
// without enough water stays planted and keeps its accumulated water.
func (f *Farm) Harvest(caller ledger.Account, plot world.PlotID) (HarvestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	p, ok := f.plants[plot]
	if !ok {
		return HarvestResult{}, f.reject("harvest", ErrNoPlant, "caller", caller, "plot", plot)
	}
	if p.Owner != caller {
		return HarvestResult{}, f.reject("harvest", ErrNotOwner, "caller", caller, "plot", plot)
	}

	state := p.State(tick, f.settings.SeasonLength)
	if state == StateGrowing {
		return HarvestResult{}, f.reject("harvest", ErrNotFinishedGrowing, "caller", caller, "plot", plot, "mature", p.MatureTick)
	}

	f.emitWater(f.water.Deregister(p.ID(), plot, tick))
	absorbed := f.water.Absorbed(p.ID())
	p.WaterAbsorbed = absorbed

	res := HarvestResult{
		Plot:          plot,
		Owner:         p.Owner,
		Seed:          p.Seed,
		WaterAbsorbed: absorbed,
		Tick:          tick,
	}

	switch {
	case state == StateOvergrown:
		res.Outcome = OutcomeOvergrown
		res.Product = f.settings.Weed
	case absorbed < p.MinWater:
		res.Outcome = OutcomeNotEnoughWater
		f.emitWater(f.water.Register(p.ID(), plot, p.Rates(), tick))
		f.events.emit(Event{Tick: tick, Kind: EventHarvestNotEnoughWater, Plot: plot, Owner: p.Owner, Asset: p.Seed, WaterAbsorbed: absorbed})
		slog.Info("harvest failed, not enough water", "owner", p.Owner, "plot", plot, "absorbed", absorbed, "needed", p.MinWater)
		f.record(res)
		return res, nil
	default:
		res.Outcome = OutcomeHarvested
		if sp, ok := f.catalog.Seed(p.Seed); ok {
			res.Product = sp.Product
		}
	}

	if prod, ok := f.catalog.Product(res.Product); ok {
		res.Yield = prod.Yield
	}
	if err := f.finish(p, res); err != nil {
		f.emitWater(f.water.Register(p.ID(), plot, p.Rates(), tick))
		return HarvestResult{}, err
	}

	kind := EventHarvest
	if res.Outcome == OutcomeOvergrown {
		kind = EventHarvestOvergrown
	}
	f.events.emit(Event{Tick: tick, Kind: kind, Plot: plot, Owner: p.Owner, Asset: res.Product, Qty: res.Yield, WaterAbsorbed: absorbed})
	slog.Info("harvested", "owner", p.Owner, "plot", plot, "seed", p.Seed, "outcome", res.Outcome, "absorbed", absorbed, "yield", res.Yield)
	f.record(res)
	return res, nil
}

// finish returns a deregistered plant's parcel, credits its yield and only
// then removes the plant. On a ledger failure the plant stays planted.
func (f *Farm) finish(p *Plant, res HarvestResult) error {
	parcel := ledger.ParcelID(p.PlotID)
	if err := f.ledger.TransferParcel(parcel, f.settings.Treasury, p.Owner); err != nil {
		return ledgerErr(fmt.Sprintf("return parcel %d", p.PlotID), err)
	}
	if res.Product != "" && res.Yield > 0 {
		if err := f.ledger.Credit(p.Owner, res.Product, res.Yield); err != nil {
			_ = f.ledger.TransferParcel(parcel, p.Owner, f.settings.Treasury)
			return ledgerErr(fmt.Sprintf("credit %s", res.Product), err)
		}
	}

	f.water.Release(p.ID())
	delete(f.plants, p.PlotID)
	f.disown(p.Owner, p.PlotID)
	return nil
}

// PlantAt returns the plant on plot, with its water projected to now.
func (f *Farm) PlantAt(plot world.PlotID) (Plant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plants[plot]
	if !ok {
		return Plant{}, false
	}
	out := *p
	out.WaterAbsorbed = f.water.ProjectAbsorbed(p.ID(), plot, f.clock.Now())
	return out, true
}

// PlantIDs returns the plots owner has plants on, ascending.
func (f *Farm) PlantIDs(owner ledger.Account) []world.PlotID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]world.PlotID, 0, len(f.owned[owner]))
	for id := range f.owned[owner] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Plants returns every plant, ordered by plot.
func (f *Farm) Plants() []Plant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plantsLocked()
}

func (f *Farm) plantsLocked() []Plant {
	out := make([]Plant, 0, len(f.plants))
	for _, p := range f.plants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlotID < out[j].PlotID })
	return out
}

// WaterLog returns the plot's water log projected to now.
func (f *Farm) WaterLog(plot world.PlotID) (water.Log, error) {
	if !f.settings.Grid.Valid(plot) {
		return water.Log{}, fmt.Errorf("water log %d: %w", plot, ErrPlotInvalidID)
	}
	return f.water.Project(plot, f.clock.Now()), nil
}

// PlotInfo is one plot as shown in a plot view.
type PlotInfo struct {
	Plot   world.PlotID   `json:"plot_id"`
	Coord  world.Coord    `json:"coord"`
	Minted bool           `json:"minted"`
	Owner  ledger.Account `json:"owner,omitempty"`
	Plant  *Plant         `json:"plant,omitempty"`
	Water  water.Log      `json:"water"`
}

// PlotView returns the 7×7 window of plots around plot.
func (f *Farm) PlotView(plot world.PlotID) ([]PlotInfo, error) {
	if !f.settings.Grid.Valid(plot) {
		return nil, fmt.Errorf("plot view %d: %w", plot, ErrPlotInvalidID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := f.clock.Now()

	ids := f.settings.Grid.View(plot, 3)
	view := make([]PlotInfo, 0, len(ids))
	for _, id := range ids {
		info := PlotInfo{
			Plot:  id,
			Coord: f.settings.Grid.Coord(id),
			Water: f.water.Project(id, tick),
		}
		info.Owner, info.Minted = f.ledger.OwnerOf(ledger.ParcelID(id))
		if p, ok := f.plants[id]; ok {
			cp := *p
			cp.WaterAbsorbed = f.water.ProjectAbsorbed(p.ID(), id, tick)
			info.Plant = &cp
			info.Owner = p.Owner
		}
		view = append(view, info)
	}
	return view, nil
}

// HarvestRecords returns every recorded harvest attempt, oldest first.
func (f *Farm) HarvestRecords() []HarvestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]HarvestResult, len(f.records))
	copy(out, f.records)
	return out
}

func (f *Farm) record(res HarvestResult) {
	f.records = append(f.records, res)
	if len(f.records) > maxHarvestRecords {
		f.records = append(f.records[:0:0], f.records[len(f.records)-maxHarvestRecords:]...)
	}
}

func (f *Farm) emitWater(changes []water.RateChange) {
	for _, c := range changes {
		f.events.emit(Event{Tick: c.Tick, Kind: EventPlotWaterUpdate, Plot: c.Plot, ChangeRate: c.ChangeRate, Amount: c.Amount})
	}
}

func (f *Farm) own(owner ledger.Account, plot world.PlotID) {
	set, ok := f.owned[owner]
	if !ok {
		set = make(map[world.PlotID]struct{})
		f.owned[owner] = set
	}
	set[plot] = struct{}{}
}

func (f *Farm) disown(owner ledger.Account, plot world.PlotID) {
	delete(f.owned[owner], plot)
	if len(f.owned[owner]) == 0 {
		delete(f.owned, owner)
	}
}

// reject logs a rejected operation and wraps its error.
func (f *Farm) reject(op string, err *Error, args ...any) error {
	slog.Debug("farm operation rejected", append([]any{"op", op, "code", err.Code}, args...)...)
	return fmt.Errorf("%s: %w", op, err)
}
