package scenario

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

func demoFarm(t *testing.T, regen, minWater uint64) (*farm.Farm, *engine.ManualClock, *ledger.Memory) {
	t.Helper()
	clock := engine.NewManualClock(100)
	l := ledger.NewMemory()
	f, err := farm.New(farm.Settings{
		Grid:         world.NewGrid(50, 50),
		SeasonLength: 1000,
		Water:        water.Params{RegenRate: regen, Capacity: 1_000_000},
		Rates:        water.Rates{Home: 15, Neighbor: 4},
		PlotPrice:    1,
		SeedPrice:    1,
		Products:     []farm.Product{{Symbol: "PTT", Name: "Potato", Yield: 4}},
		Seeds: []farm.SeedSpec{{
			Symbol: "PTT_SEED", Name: "Potato_seed", Product: "PTT",
			GrowthDuration: 2, GrowthSeasons: engine.AllSeasons, MinWater: minWater,
		}},
		Recipes: []farm.Recipe{{
			Dish: "PTT_DISH", Name: "Potato_dish",
			Ingredients: []ledger.Amount{{Asset: "PTT", Qty: 3}},
		}},
	}, clock, l)
	if err != nil {
		t.Fatalf("farm.New: %v", err)
	}
	return f, clock, l
}

func TestFertility(t *testing.T) {
	g := world.NewGrid(50, 50)
	a, b := NewFertility(42), NewFertility(42)
	for _, id := range []world.PlotID{0, 17, 1249, 2499} {
		sa, sb := a.Score(g, id), b.Score(g, id)
		if sa != sb {
			t.Fatalf("plot %d: scores differ for the same seed: %v vs %v", id, sa, sb)
		}
		if sa < 0 || sa >= 1 {
			t.Fatalf("plot %d: score %v out of [0, 1)", id, sa)
		}
	}

	blocked := world.PlotID(0)
	picks := a.PickPlots(g, rand.New(rand.NewSource(1)), 5, func(id world.PlotID) bool { return id != blocked })
	if len(picks) != 5 {
		t.Fatalf("picked %d plots, want 5", len(picks))
	}
	seen := make(map[world.PlotID]bool)
	for i, id := range picks {
		if seen[id] || id == blocked || !g.Valid(id) {
			t.Fatalf("bad pick %d in %v", id, picks)
		}
		seen[id] = true
		if i > 0 && a.Score(g, picks[i-1]) < a.Score(g, id) {
			t.Fatalf("picks not ordered by fertility: %v", picks)
		}
	}

	again := b.PickPlots(g, rand.New(rand.NewSource(1)), 5, func(id world.PlotID) bool { return id != blocked })
	if !reflect.DeepEqual(picks, again) {
		t.Fatalf("same seeds picked %v then %v", picks, again)
	}
}

func TestSpawn(t *testing.T) {
	f, _, l := demoFarm(t, 100, 1)
	farmers, err := NewSpawner(7).Spawn(f, Config{Farmers: 3, Stable: 10, PlotsPerFarmer: 2})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(farmers) != 3 || farmers[0].Name != "farmer-01" || farmers[2].Name != "farmer-03" {
		t.Fatalf("farmers = %+v", farmers)
	}

	owners := make(map[world.PlotID]ledger.Account)
	for _, fr := range farmers {
		if len(fr.Plots) != 2 {
			t.Fatalf("%s has %d plots", fr.Name, len(fr.Plots))
		}
		for _, id := range fr.Plots {
			if prev, dup := owners[id]; dup {
				t.Fatalf("plot %d given to %s and %s", id, prev, fr.Name)
			}
			owners[id] = fr.Name
			if !l.IsOwner(ledger.ParcelID(id), fr.Name) {
				t.Fatalf("%s does not own plot %d", fr.Name, id)
			}
		}
		if got := l.Balance(fr.Name, ledger.Stable); got != 8 {
			t.Fatalf("%s stable = %d, want 8", fr.Name, got)
		}
	}

	rebuilt := Existing(f, 5)
	if len(rebuilt) != 3 {
		t.Fatalf("Existing found %d farmers", len(rebuilt))
	}
	for i, fr := range rebuilt {
		want := append([]world.PlotID(nil), farmers[i].Plots...)
		if want[0] > want[1] {
			want[0], want[1] = want[1], want[0]
		}
		if fr.Name != farmers[i].Name || !reflect.DeepEqual(fr.Plots, want) {
			t.Fatalf("Existing[%d] = %+v, want plots %v", i, fr, want)
		}
	}
}

func TestTendCycle(t *testing.T) {
	f, clock, l := demoFarm(t, 100, 1)
	cfg := Config{Farmers: 3, Stable: 10, PlotsPerFarmer: 2}
	farmers, err := NewSpawner(7).Spawn(f, cfg)
	if err != nil {
		t.Fatal(err)
	}
	tender := NewTender(f, farmers, cfg)

	rep, err := tender.Tend()
	if err != nil {
		t.Fatalf("Tend: %v", err)
	}
	if rep.Planted != 6 || rep.Harvested != 0 {
		t.Fatalf("first pass = %+v", rep)
	}

	// Still growing: nothing to do.
	clock.Advance(1)
	if rep, _ = tender.Tend(); rep != (Report{}) {
		t.Fatalf("growing pass = %+v", rep)
	}

	clock.Advance(1)
	rep, err = tender.Tend()
	if err != nil {
		t.Fatalf("Tend: %v", err)
	}
	want := Report{Planted: 6, Harvested: 6, Cooked: 6, Converted: 6}
	if rep != want {
		t.Fatalf("harvest pass = %+v, want %+v", rep, want)
	}
	for _, fr := range farmers {
		if l.Balance(fr.Name, "PTT_DISH") != 2 || l.Balance(fr.Name, "PTT_SEED") != 2 {
			t.Fatalf("%s balances = %v", fr.Name, l.Balances(fr.Name))
		}
		if len(f.PlantIDs(fr.Name)) != 2 {
			t.Fatalf("%s not replanted", fr.Name)
		}
	}
}

func TestTendRetriesDryPlants(t *testing.T) {
	f, clock, _ := demoFarm(t, 0, 100)
	cfg := Config{Farmers: 1, Stable: 10, PlotsPerFarmer: 2, RetryEvery: 5}
	farmers, err := NewSpawner(3).Spawn(f, cfg)
	if err != nil {
		t.Fatal(err)
	}
	tender := NewTender(f, farmers, cfg)
	if _, err := tender.Tend(); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2)
	rep, err := tender.Tend()
	if err != nil {
		t.Fatal(err)
	}
	if rep.NotEnoughWater != 2 || rep.Planted != 0 {
		t.Fatalf("dry pass = %+v", rep)
	}

	clock.Advance(1)
	if rep, _ = tender.Tend(); rep.NotEnoughWater != 0 {
		t.Fatalf("retried too soon: %+v", rep)
	}

	// Past the grace period the plants are pulled as weeds and replaced.
	clock.Advance(5)
	rep, err = tender.Tend()
	if err != nil {
		t.Fatal(err)
	}
	if rep.Overgrown != 2 || rep.Planted != 2 {
		t.Fatalf("overgrown pass = %+v", rep)
	}
}
