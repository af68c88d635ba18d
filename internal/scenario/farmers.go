package scenario

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

// Config controls the demo population.
type Config struct {
	Farmers        int
	Stable         uint64 // starting stable balance per farmer
	PlotsPerFarmer int
	Seed           int64
	RetryEvery     uint64 // ticks between retries of a dry plant, 0 = every tick
}

// Farmer is a demo account and the plots it works.
type Farmer struct {
	Name  ledger.Account `json:"name"`
	Plots []world.PlotID `json:"plots"`
}

// Spawner creates demo farmers.
type Spawner struct {
	rng       *rand.Rand
	fertility *Fertility
	nextID    int
}

// NewSpawner creates a farmer spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:       rand.New(rand.NewSource(seed + 300)),
		fertility: NewFertility(seed),
		nextID:    1,
	}
}

// SetNextID sets the number of the next farmer (used when restoring).
func (s *Spawner) SetNextID(id int) {
	s.nextID = id
}

// Spawn credits count farmers with stable and buys each of them the most
// fertile free plots it can find.
func (s *Spawner) Spawn(f *farm.Farm, cfg Config) ([]Farmer, error) {
	grid := f.Settings().Grid
	l := f.Ledger()
	taken := make(map[world.PlotID]bool)
	free := func(id world.PlotID) bool {
		if taken[id] {
			return false
		}
		_, minted := l.OwnerOf(ledger.ParcelID(id))
		return !minted
	}

	farmers := make([]Farmer, 0, cfg.Farmers)
	for i := 0; i < cfg.Farmers; i++ {
		fr := Farmer{Name: ledger.Account(fmt.Sprintf("farmer-%02d", s.nextID))}
		s.nextID++
		if err := l.Credit(fr.Name, ledger.Stable, cfg.Stable); err != nil {
			return farmers, fmt.Errorf("credit %s: %w", fr.Name, err)
		}

		for _, plot := range s.fertility.PickPlots(grid, s.rng, cfg.PlotsPerFarmer, free) {
			if err := f.BuyPlot(fr.Name, plot); err != nil {
				if errors.Is(err, farm.ErrInsufficientBalance) {
					break
				}
				return farmers, err
			}
			taken[plot] = true
			fr.Plots = append(fr.Plots, plot)
		}
		slog.Info("farmer spawned", "name", fr.Name, "plots", len(fr.Plots))
		farmers = append(farmers, fr)
	}
	return farmers, nil
}

// Existing rebuilds the first count demo farmers from a restored farm: their
// plots are the parcels they hold plus the plots their plants occupy.
func Existing(f *farm.Farm, count int) []Farmer {
	lister, _ := f.Ledger().(interface {
		Parcels(ledger.Account) []ledger.ParcelID
	})

	var farmers []Farmer
	for i := 1; i <= count; i++ {
		fr := Farmer{Name: ledger.Account(fmt.Sprintf("farmer-%02d", i))}
		seen := make(map[world.PlotID]bool)
		if lister != nil {
			for _, id := range lister.Parcels(fr.Name) {
				seen[world.PlotID(id)] = true
			}
		}
		for _, id := range f.PlantIDs(fr.Name) {
			seen[id] = true
		}
		if len(seen) == 0 {
			continue
		}
		for id := range seen {
			fr.Plots = append(fr.Plots, id)
		}
		sort.Slice(fr.Plots, func(a, b int) bool { return fr.Plots[a] < fr.Plots[b] })
		farmers = append(farmers, fr)
	}
	return farmers
}

// Report counts what one Tend pass did.
type Report struct {
	Planted        int
	Harvested      int
	Overgrown      int
	NotEnoughWater int
	Converted      int
	Cooked         int
}

// Tender works the demo farmers' plots: it harvests anything past growing,
// plants an in-season seed on every empty plot and turns surplus products into
// seeds and dishes.
type Tender struct {
	Farm    *farm.Farm
	Farmers []Farmer
	Config  Config

	lastTry map[world.PlotID]uint64
}

// NewTender creates a tender for farmers.
func NewTender(f *farm.Farm, farmers []Farmer, cfg Config) *Tender {
	return &Tender{Farm: f, Farmers: farmers, Config: cfg, lastTry: make(map[world.PlotID]uint64)}
}

// Tend runs one pass over every farmer at the farm's current tick.
func (t *Tender) Tend() (Report, error) {
	var rep Report
	for _, fr := range t.Farmers {
		for _, plot := range fr.Plots {
			if err := t.tendPlot(fr.Name, plot, &rep); err != nil {
				return rep, fmt.Errorf("%s plot %d: %w", fr.Name, plot, err)
			}
		}
		if err := t.useProducts(fr.Name, &rep); err != nil {
			return rep, fmt.Errorf("%s: %w", fr.Name, err)
		}
	}
	return rep, nil
}

func (t *Tender) tendPlot(owner ledger.Account, plot world.PlotID, rep *Report) error {
	f := t.Farm
	tick := f.Tick()

	if p, ok := f.PlantAt(plot); ok {
		if p.Owner != owner || p.State(tick, f.Settings().SeasonLength) == farm.StateGrowing {
			return nil
		}
		if last, tried := t.lastTry[plot]; tried && tick-last < t.Config.RetryEvery {
			return nil
		}
		res, err := f.Harvest(owner, plot)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case farm.OutcomeHarvested:
			rep.Harvested++
		case farm.OutcomeOvergrown:
			rep.Overgrown++
		case farm.OutcomeNotEnoughWater:
			rep.NotEnoughWater++
			t.lastTry[plot] = tick
			return nil
		}
		delete(t.lastTry, plot)
	}

	seed, ok := t.pickSeed(owner, tick)
	if !ok {
		return nil
	}
	if _, err := f.Plant(owner, seed, plot); err != nil {
		if farm.ClassOf(err) == farm.ClassValidation {
			slog.Debug("demo plant skipped", "owner", owner, "plot", plot, "error", err)
			return nil
		}
		return err
	}
	rep.Planted++
	return nil
}

// pickSeed returns an in-season seed owner holds, buying one if needed.
func (t *Tender) pickSeed(owner ledger.Account, tick uint64) (ledger.Asset, bool) {
	f := t.Farm
	l := f.Ledger()
	seasonLength := f.Settings().SeasonLength

	var buyable []ledger.Asset
	for _, sp := range f.Catalog().Seeds() {
		if !engine.IsGrowthSeason(sp.GrowthSeasons, tick, seasonLength) {
			continue
		}
		if l.Balance(owner, sp.Symbol) > 0 {
			return sp.Symbol, true
		}
		buyable = append(buyable, sp.Symbol)
	}
	for _, seed := range buyable {
		if err := f.BuySeeds(owner, seed, 1); err == nil {
			return seed, true
		}
	}
	return "", false
}

// useProducts cooks every full recipe basket and turns what is left of a
// seed-bearing product back into seeds.
func (t *Tender) useProducts(owner ledger.Account, rep *Report) error {
	f := t.Farm
	l := f.Ledger()
	for _, r := range f.Catalog().Recipes() {
		for hasAll(l, owner, r.Ingredients) {
			if _, err := f.ConvertProductsToDish(owner, r.Ingredients); err != nil {
				return err
			}
			rep.Cooked++
		}
	}
	for _, p := range f.Settings().Products {
		if _, ok := f.Catalog().SeedFor(p.Symbol); !ok {
			continue
		}
		if q := l.Balance(owner, p.Symbol); q > 0 {
			if err := f.ConvertProductsToSeeds(owner, p.Symbol, q); err != nil {
				return err
			}
			rep.Converted += int(q)
		}
	}
	return nil
}

func hasAll(l ledger.Ledger, owner ledger.Account, want []ledger.Amount) bool {
	need := make(map[ledger.Asset]uint64, len(want))
	for _, a := range want {
		need[a.Asset] += a.Qty
	}
	for asset, qty := range need {
		if l.Balance(owner, asset) < qty {
			return false
		}
	}
	return true
}
