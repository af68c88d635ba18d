package farm

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

const (
	alice  ledger.Account = "alice"
	bob    ledger.Account = "bob"
	potato ledger.Asset   = "PTT"
	seed   ledger.Asset   = "PTT_SEED"
	weed   ledger.Asset   = "WED"
	dish   ledger.Asset   = "PTT_DISH"
	start                 = 1000
)

// testOptions mirrors the knobs a test farm is usually built with.
type testOptions struct {
	seasonLength  uint64
	regen         uint64
	capacity      uint64
	home          uint64
	neighbor      uint64
	growth        uint64
	growthSeasons uint8
	minWater      uint64
	policy        water.Policy
}

func defaultOptions() testOptions {
	return testOptions{
		seasonLength:  604800,
		regen:         10,
		capacity:      100000,
		home:          15,
		neighbor:      4,
		growth:        2,
		growthSeasons: engine.AllSeasons,
		minWater:      2 * 15,
	}
}

func testSettings(o testOptions) Settings {
	return Settings{
		Grid:         world.NewGrid(1000, 1000),
		SeasonLength: o.seasonLength,
		Water:        water.Params{RegenRate: o.regen, Capacity: o.capacity},
		Policy:       o.policy,
		Rates:        water.Rates{Home: o.home, Neighbor: o.neighbor},
		PlotPrice:    1,
		SeedPrice:    1,
		Treasury:     "farm",
		Weed:         weed,
		Products: []Product{
			{Symbol: potato, Name: "Potato", Yield: 1},
			{Symbol: weed, Name: "Weed", Yield: 1},
		},
		Seeds: []SeedSpec{{
			Symbol:         seed,
			Name:           "Potato_seed",
			Product:        potato,
			GrowthDuration: o.growth,
			GrowthSeasons:  o.growthSeasons,
			MinWater:       o.minWater,
		}},
		Recipes: []Recipe{{
			Dish:        dish,
			Name:        "Potato_dish",
			Ingredients: []ledger.Amount{{Asset: potato, Qty: 3}},
		}},
	}
}

func newTestFarm(t *testing.T, o testOptions) (*Farm, *engine.ManualClock, *ledger.Memory) {
	t.Helper()
	clock := engine.NewManualClock(start)
	l := ledger.NewMemory()
	f, err := New(testSettings(o), clock, l)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, acct := range []ledger.Account{alice, bob} {
		if err := l.Credit(acct, ledger.Stable, 100); err != nil {
			t.Fatal(err)
		}
	}
	return f, clock, l
}

// buyPlant buys a plot and a seed for who and plants it.
func buyPlant(t *testing.T, f *Farm, who ledger.Account, plot world.PlotID) Plant {
	t.Helper()
	if err := f.BuyPlot(who, plot); err != nil {
		t.Fatalf("BuyPlot(%d): %v", plot, err)
	}
	if err := f.BuySeeds(who, seed, 1); err != nil {
		t.Fatalf("BuySeeds: %v", err)
	}
	p, err := f.Plant(who, seed, plot)
	if err != nil {
		t.Fatalf("Plant(%d): %v", plot, err)
	}
	return p
}

func wantCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %s", err, want.Code)
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestBuyPlot(t *testing.T) {
	f, _, l := newTestFarm(t, defaultOptions())

	wantCode(t, f.BuyPlot(alice, 1000*1000), ErrPlotInvalidID)

	if err := f.BuyPlot(alice, 0); err != nil {
		t.Fatalf("BuyPlot: %v", err)
	}
	if !l.IsOwner(0, alice) {
		t.Fatal("parcel not minted to buyer")
	}
	if got := l.Balance(alice, ledger.Stable); got != 99 {
		t.Fatalf("stable balance = %d, want 99", got)
	}
	if got := l.Balance("farm", ledger.Stable); got != 1 {
		t.Fatalf("treasury balance = %d, want 1", got)
	}

	wantCode(t, f.BuyPlot(bob, 0), ErrPlotAlreadyMinted)
	wantCode(t, f.BuyPlot("carol", 5), ErrInsufficientBalance)
	if _, minted := l.OwnerOf(5); minted {
		t.Fatal("failed purchase minted a parcel")
	}
}

func TestBuySeeds(t *testing.T) {
	f, _, l := newTestFarm(t, defaultOptions())

	wantCode(t, f.BuySeeds(alice, seed, 0), ErrQuantityZero)
	wantCode(t, f.BuySeeds(alice, "FAKE_SEED", 1), ErrInvalidSeed)
	wantCode(t, f.BuySeeds(alice, seed, 101), ErrInsufficientBalance)

	if err := f.BuySeeds(alice, seed, 2); err != nil {
		t.Fatalf("BuySeeds: %v", err)
	}
	if l.Balance(alice, seed) != 2 || l.Balance(alice, ledger.Stable) != 98 {
		t.Fatalf("balances after buying 2 seeds: %v", l.Balances(alice))
	}
}

func TestPlantValidation(t *testing.T) {
	t.Run("not growth season is checked first", func(t *testing.T) {
		o := defaultOptions()
		o.growthSeasons = 0
		o.seasonLength = 10
		f, _, _ := newTestFarm(t, o)
		_, err := f.Plant(alice, seed, 0)
		wantCode(t, err, ErrNotGrowthSeason)
	})

	f, _, l := newTestFarm(t, defaultOptions())

	_, err := f.Plant(alice, "FAKE_SEED", 0)
	wantCode(t, err, ErrInvalidSeed)

	_, err = f.Plant(alice, seed, 0)
	wantCode(t, err, ErrInsufficientBalance)

	if err := f.BuySeeds(alice, seed, 2); err != nil {
		t.Fatal(err)
	}
	_, err = f.Plant(alice, seed, 0)
	wantCode(t, err, ErrPlotNotMinted)

	_, err = f.Plant(alice, seed, 1000*1000)
	wantCode(t, err, ErrPlotInvalidID)

	if err := f.BuyPlot(bob, 0); err != nil {
		t.Fatal(err)
	}
	_, err = f.Plant(alice, seed, 0)
	wantCode(t, err, ErrNotPlotOwner)

	if l.Balance(alice, seed) != 2 {
		t.Fatal("rejected plants burned seeds")
	}
}

func TestPlant(t *testing.T) {
	f, _, l := newTestFarm(t, defaultOptions())
	p := buyPlant(t, f, alice, 0)

	if p.PlotID != 0 || p.Owner != alice || p.Seed != seed {
		t.Fatalf("plant = %+v", p)
	}
	if p.PlantedTick != start || p.MatureTick != start+2 || p.OvergrownTick != start+4 {
		t.Fatalf("plant ticks = %d/%d/%d", p.PlantedTick, p.MatureTick, p.OvergrownTick)
	}
	if l.Balance(alice, seed) != 0 {
		t.Fatal("seed not burned")
	}
	if !l.IsOwner(0, "farm") {
		t.Fatal("parcel not escrowed")
	}
	if ids := f.PlantIDs(alice); !reflect.DeepEqual(ids, []world.PlotID{0}) {
		t.Fatalf("PlantIDs = %v", ids)
	}

	home, _ := f.WaterLog(0)
	up, _ := f.WaterLog(1000)
	if home.ChangeRate != 15 || up.ChangeRate != 4 {
		t.Fatalf("change rates home=%d up=%d, want 15 and 4", home.ChangeRate, up.ChangeRate)
	}

	var updates []Event
	for _, e := range f.Events(0) {
		if e.Kind == EventPlotWaterUpdate {
			updates = append(updates, e)
		}
	}
	if len(updates) != 3 {
		t.Fatalf("got %d water updates, want 3", len(updates))
	}
	if updates[0].Plot != 1000 || updates[0].ChangeRate != 4 {
		t.Fatalf("first update = %+v, want plot 1000 rate 4", updates[0])
	}
	if updates[2].Plot != 0 || updates[2].ChangeRate != 15 {
		t.Fatalf("last update = %+v, want plot 0 rate 15", updates[2])
	}

	// Planting again on the same plot fails: the parcel is in escrow.
	if err := f.BuySeeds(alice, seed, 1); err != nil {
		t.Fatal(err)
	}
	_, err := f.Plant(alice, seed, 0)
	wantCode(t, err, ErrNotPlotOwner)
}

func TestHarvestRejections(t *testing.T) {
	o := defaultOptions()
	o.growth = 1000
	f, clock, _ := newTestFarm(t, o)

	_, err := f.Harvest(alice, 0)
	wantCode(t, err, ErrNoPlant)

	buyPlant(t, f, alice, 0)

	_, err = f.Harvest(bob, 0)
	wantCode(t, err, ErrNotOwner)

	_, err = f.Harvest(alice, 0)
	wantCode(t, err, ErrNotFinishedGrowing)
	if ClassOf(err) != ClassTiming {
		t.Fatalf("class = %v, want timing", ClassOf(err))
	}

	clock.Advance(999)
	_, err = f.Harvest(alice, 0)
	wantCode(t, err, ErrNotFinishedGrowing)

	if len(f.PlantIDs(alice)) != 1 {
		t.Fatal("rejected harvest removed the plant")
	}
}

func TestHarvestSuccess(t *testing.T) {
	f, clock, l := newTestFarm(t, defaultOptions())
	buyPlant(t, f, alice, 1001)

	clock.Advance(2)
	before := len(f.Events(0))
	res, err := f.Harvest(alice, 1001)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if res.Outcome != OutcomeHarvested || res.Product != potato || res.Yield != 1 {
		t.Fatalf("result = %+v", res)
	}
	// Home draws 15/tick and each of the four neighbors 4/tick for two ticks.
	if res.WaterAbsorbed != 2*15+4*2*4 {
		t.Fatalf("absorbed = %d, want %d", res.WaterAbsorbed, 2*15+4*2*4)
	}
	if l.Balance(alice, potato) != 1 || !l.IsOwner(1001, alice) {
		t.Fatal("yield not credited or parcel not returned")
	}
	if len(f.PlantIDs(alice)) != 0 {
		t.Fatal("plant still exists")
	}

	events := f.Events(0)[before:]
	want := []EventKind{EventPlotWaterUpdate, EventPlotWaterUpdate, EventPlotWaterUpdate, EventPlotWaterUpdate, EventPlotWaterUpdate, EventHarvest}
	if got := kinds(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	if events[4].Plot != 1001 {
		t.Fatalf("home update not last: %+v", events[4])
	}
	for _, e := range events[:5] {
		if e.ChangeRate != 0 {
			t.Fatalf("plot %d change rate %d after harvest", e.Plot, e.ChangeRate)
		}
	}
	for _, plot := range []world.PlotID{1001, 2001, 1002, 1, 1000} {
		if lg, _ := f.WaterLog(plot); lg.ChangeRate != 0 {
			t.Fatalf("plot %d change rate %d", plot, lg.ChangeRate)
		}
	}
}

func TestHarvestOvergrown(t *testing.T) {
	f, clock, l := newTestFarm(t, defaultOptions())
	p := buyPlant(t, f, alice, 0)

	clock.Set(p.OvergrownTick)
	res, err := f.Harvest(alice, 0)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if res.Outcome != OutcomeOvergrown {
		t.Fatalf("outcome = %v, want overgrown", res.Outcome)
	}
	if l.Balance(alice, weed) != 1 || l.Balance(alice, potato) != 0 {
		t.Fatalf("balances = %v", l.Balances(alice))
	}
	if !l.IsOwner(0, alice) || len(f.PlantIDs(alice)) != 0 {
		t.Fatal("overgrown plant not cleared")
	}
	if last := f.Events(1)[0]; last.Kind != EventHarvestOvergrown {
		t.Fatalf("last event = %s", last.Kind)
	}
}

func TestHarvestOutOfSeason(t *testing.T) {
	o := defaultOptions()
	o.seasonLength = 100
	o.growthSeasons = 1 << engine.SeasonWinter
	o.growth = 15
	f, clock, l := newTestFarm(t, o)

	// 1290 is late winter of year 4; the plant matures in spring.
	clock.Set(1290)
	p := buyPlant(t, f, alice, 0)
	clock.Set(p.MatureTick)
	if clock.Now() >= p.OvergrownTick {
		t.Fatal("test plant overgrown by time alone")
	}

	res, err := f.Harvest(alice, 0)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if res.Outcome != OutcomeOvergrown {
		t.Fatalf("outcome = %v, want overgrown", res.Outcome)
	}
	if l.Balance(alice, weed) != 1 {
		t.Fatal("no weed credited")
	}
}

func TestHarvestNotEnoughWater(t *testing.T) {
	tests := []struct {
		name     string
		regen    uint64
		capacity uint64
		home     uint64
		neighbor uint64
		want     uint64
	}{
		{"dry plots", 0, 1, 15, 4, 0},
		{"short by one tick", 1, 249, 5, 5, 4980},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			o.regen, o.capacity, o.home, o.neighbor = tt.regen, tt.capacity, tt.home, tt.neighbor
			o.growth = 1000
			o.minWater = 5000
			f, clock, l := newTestFarm(t, o)
			buyPlant(t, f, alice, 1)

			clock.Advance(1000)
			res, err := f.Harvest(alice, 1)
			if err != nil {
				t.Fatalf("Harvest: %v", err)
			}
			if res.Outcome != OutcomeNotEnoughWater || res.WaterAbsorbed != tt.want {
				t.Fatalf("result = %+v, want not enough water with %d", res, tt.want)
			}
			if ids := f.PlantIDs(alice); len(ids) != 1 {
				t.Fatal("plant removed after not enough water")
			}
			if !l.IsOwner(1, "farm") {
				t.Fatal("parcel left escrow")
			}
			if last := f.Events(1)[0]; last.Kind != EventHarvestNotEnoughWater || last.WaterAbsorbed != tt.want {
				t.Fatalf("last event = %+v", last)
			}
			if lg, _ := f.WaterLog(1); lg.ChangeRate != tt.home {
				t.Fatalf("claimants not re-registered: change rate %d", lg.ChangeRate)
			}
		})
	}
}

func TestHarvestRetryAfterNotEnoughWater(t *testing.T) {
	o := defaultOptions()
	o.regen, o.capacity, o.home, o.neighbor = 1, 249, 5, 5
	o.growth = 1000
	o.minWater = 5000
	f, clock, l := newTestFarm(t, o)
	buyPlant(t, f, alice, 1)

	clock.Advance(1000)
	if res, _ := f.Harvest(alice, 1); res.Outcome != OutcomeNotEnoughWater {
		t.Fatalf("first harvest = %v", res.Outcome)
	}

	// Each of the four plots regenerates 10 more in 10 ticks.
	clock.Advance(10)
	p, _ := f.PlantAt(1)
	if p.WaterAbsorbed != 5020 {
		t.Fatalf("projected absorbed = %d, want 5020", p.WaterAbsorbed)
	}
	res, err := f.Harvest(alice, 1)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if res.Outcome != OutcomeHarvested || res.WaterAbsorbed != 5020 {
		t.Fatalf("retry = %+v", res)
	}
	if l.Balance(alice, potato) != 1 {
		t.Fatal("no yield after retry")
	}
}

// plantCross plants around plot 1001 and then on it, five ticks apart.
func plantCross(t *testing.T, f *Farm, clock *engine.ManualClock) {
	t.Helper()
	for i, plot := range []world.PlotID{1, 1002, 2001, 1000, 1001} {
		clock.Set(uint64(start + 5*i))
		buyPlant(t, f, alice, plot)
	}
}

func crossOptions(policy water.Policy) testOptions {
	o := defaultOptions()
	o.regen, o.capacity, o.home, o.neighbor = 1, 250, 5, 4
	o.growth = 1000
	o.minWater = 5000
	o.policy = policy
	return o
}

func TestHarvestCrowdedCenter(t *testing.T) {
	for _, tt := range []struct {
		policy water.Policy
		want   uint64
	}{
		{water.PerUnit, 2378},
		{water.Proportional, 2385},
	} {
		t.Run(tt.policy.String(), func(t *testing.T) {
			f, clock, _ := newTestFarm(t, crossOptions(tt.policy))
			plantCross(t, f, clock)

			clock.Set(start + 20 + 1000)
			res, err := f.Harvest(alice, 1001)
			if err != nil {
				t.Fatalf("Harvest: %v", err)
			}
			if res.Outcome != OutcomeNotEnoughWater || res.WaterAbsorbed != tt.want {
				t.Fatalf("result = %+v, want %d absorbed", res, tt.want)
			}
		})
	}
}

func TestHarvestAndReplant(t *testing.T) {
	f, clock, _ := newTestFarm(t, defaultOptions())
	buyPlant(t, f, alice, 0)
	buyPlant(t, f, alice, 5)

	clock.Advance(2)
	if _, err := f.Harvest(alice, 0); err != nil {
		t.Fatal(err)
	}
	if ids := f.PlantIDs(alice); !reflect.DeepEqual(ids, []world.PlotID{5}) {
		t.Fatalf("PlantIDs after harvest = %v", ids)
	}

	if err := f.BuySeeds(alice, seed, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Plant(alice, seed, 0); err != nil {
		t.Fatalf("replant: %v", err)
	}
	if ids := f.PlantIDs(alice); !reflect.DeepEqual(ids, []world.PlotID{0, 5}) {
		t.Fatalf("PlantIDs after replant = %v", ids)
	}
}

func TestPlotView(t *testing.T) {
	f, _, _ := newTestFarm(t, defaultOptions())
	buyPlant(t, f, alice, 0)
	if err := f.BuyPlot(bob, 2); err != nil {
		t.Fatal(err)
	}

	view, err := f.PlotView(0)
	if err != nil {
		t.Fatalf("PlotView: %v", err)
	}
	if len(view) != 49 {
		t.Fatalf("len(view) = %d, want 49", len(view))
	}
	if view[0].Plant == nil || view[0].Owner != alice {
		t.Fatalf("planted plot = %+v", view[0])
	}
	if !view[2].Minted || view[2].Owner != bob || view[2].Plant != nil {
		t.Fatalf("bought plot = %+v", view[2])
	}
	if view[3].Minted || view[3].Water.Amount != 10000 {
		t.Fatalf("untouched plot = %+v", view[3])
	}

	if _, err := f.PlotView(1000 * 1000); !errors.Is(err, ErrPlotInvalidID) {
		t.Fatalf("err = %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	f, clock, _ := newTestFarm(t, crossOptions(water.PerUnit))
	plantCross(t, f, clock)
	snap := f.Snapshot()

	clock2 := engine.NewManualClock(snap.Tick)
	g, err := New(testSettings(crossOptions(water.PerUnit)), clock2, ledger.NewMemory())
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if ids := g.PlantIDs(alice); len(ids) != 5 {
		t.Fatalf("restored PlantIDs = %v", ids)
	}

	clock.Set(start + 1020)
	clock2.Set(start + 1020)
	a, err := f.Harvest(alice, 1001)
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Harvest(alice, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if a.WaterAbsorbed != 2378 || b.WaterAbsorbed != a.WaterAbsorbed {
		t.Fatalf("absorbed before %d after restore %d, want 2378", a.WaterAbsorbed, b.WaterAbsorbed)
	}
	if err := g.Restore(snap); err == nil {
		t.Fatal("restore into a planted farm should fail")
	}
}

func TestSubscribe(t *testing.T) {
	f, _, _ := newTestFarm(t, defaultOptions())
	id, ch := f.Subscribe()

	if err := f.BuyPlot(alice, 7); err != nil {
		t.Fatal(err)
	}
	e := <-ch
	if e.Kind != EventBuyPlot || e.Plot != 7 || e.ID == "" {
		t.Fatalf("event = %+v", e)
	}

	f.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
}

type recordingSink struct{ events []Event }

func (s *recordingSink) WriteEvent(e Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestSinkSeesEveryEvent(t *testing.T) {
	f, _, _ := newTestFarm(t, defaultOptions())
	sink := &recordingSink{}
	f.AddSink(sink)

	buyPlant(t, f, alice, 0)
	f.FlushSinks()
	want := []EventKind{EventBuyPlot, EventBuySeeds, EventPlotWaterUpdate, EventPlotWaterUpdate, EventPlotWaterUpdate, EventPlant}
	if got := kinds(sink.events); !reflect.DeepEqual(got, want) {
		t.Fatalf("sink saw %v, want %v", got, want)
	}
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	events  []Event
}

func (s *blockingSink) WriteEvent(e Event) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	s.events = append(s.events, e)
	return nil
}

func TestSlowSinkDoesNotBlockFarm(t *testing.T) {
	f, _, _ := newTestFarm(t, defaultOptions())
	sink := &blockingSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f.AddSink(sink)

	if err := f.BuyPlot(alice, 5); err != nil {
		t.Fatalf("BuyPlot: %v", err)
	}
	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink never received the event")
	}

	// The sink is stuck mid-write; the farm must keep serving.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.BuyPlot(alice, 6); err != nil {
			t.Errorf("BuyPlot: %v", err)
		}
		f.PlantIDs(alice)
		f.Snapshot()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("farm operations waited on a blocked sink")
	}

	close(sink.release)
	f.FlushSinks()
	if len(sink.events) != 2 || sink.events[0].Plot != 5 || sink.events[1].Plot != 6 {
		t.Fatalf("sink saw %+v", sink.events)
	}
}

// flakyLedger fails every credit of one asset while broken is set.
type flakyLedger struct {
	*ledger.Memory
	asset  ledger.Asset
	broken bool
}

func (l *flakyLedger) Credit(owner ledger.Account, asset ledger.Asset, qty uint64) error {
	if l.broken && asset == l.asset {
		return errors.New("ledger unavailable")
	}
	return l.Memory.Credit(owner, asset, qty)
}

func TestHarvestLedgerFailureKeepsPlant(t *testing.T) {
	clock := engine.NewManualClock(start)
	l := &flakyLedger{Memory: ledger.NewMemory(), asset: potato}
	f, err := New(testSettings(defaultOptions()), clock, l)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Credit(alice, ledger.Stable, 100); err != nil {
		t.Fatal(err)
	}
	buyPlant(t, f, alice, 1001)

	clock.Advance(2)
	l.broken = true
	if _, err := f.Harvest(alice, 1001); err == nil {
		t.Fatal("Harvest succeeded with a failing ledger")
	}
	if _, ok := f.PlantAt(1001); !ok {
		t.Fatal("plant removed after failed harvest")
	}
	if !l.IsOwner(1001, "farm") {
		t.Fatal("parcel left the treasury after failed harvest")
	}
	if l.Balance(alice, potato) != 0 {
		t.Fatal("yield credited after failed harvest")
	}
	if lg, _ := f.WaterLog(1001); lg.ChangeRate != 15 {
		t.Fatalf("home change rate %d after failed harvest, want claimants restored", lg.ChangeRate)
	}

	l.broken = false
	res, err := f.Harvest(alice, 1001)
	if err != nil {
		t.Fatalf("retry Harvest: %v", err)
	}
	if res.Outcome != OutcomeHarvested || res.WaterAbsorbed != 2*15+4*2*4 {
		t.Fatalf("retry result = %+v", res)
	}
	if l.Balance(alice, potato) != 1 || !l.IsOwner(1001, alice) {
		t.Fatal("retry did not credit yield and return parcel")
	}
}

func TestRestoreEvents(t *testing.T) {
	f, _, _ := newTestFarm(t, defaultOptions())
	sink := &recordingSink{}
	f.AddSink(sink)

	if err := f.BuyPlot(alice, 7); err != nil {
		t.Fatal(err)
	}
	f.RestoreEvents([]Event{
		{ID: "old-1", Tick: 10, Kind: EventBuyPlot, Plot: 3, Owner: bob},
		{ID: "old-2", Tick: 11, Kind: EventBuySeeds, Owner: bob, Asset: seed, Qty: 1},
	})

	got := f.Events(0)
	if len(got) != 3 || got[0].ID != "old-1" || got[1].ID != "old-2" || got[2].Plot != 7 {
		t.Fatalf("events = %+v", got)
	}
	f.FlushSinks()
	if len(sink.events) != 1 || sink.events[0].Plot != 7 {
		t.Fatalf("sink saw %+v", sink.events)
	}
}
