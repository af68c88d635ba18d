package water

import (
	"reflect"
	"sync"
	"testing"

	"github.com/talgya/mini-farm/internal/world"
)

const t0 = 1000

func newTestAccountant(regen, capacity uint64, policy Policy) *Accountant {
	return NewAccountant(world.NewGrid(1000, 1000), Params{RegenRate: regen, Capacity: capacity}, policy)
}

func TestAccountantNoWaterAbsorbsNothing(t *testing.T) {
	a := newTestAccountant(0, 1, PerUnit)
	a.Register(1, 1, Rates{Home: 5, Neighbor: 5}, t0)
	a.Deregister(1, 1, t0+1000)
	if got := a.Release(1); got != 0 {
		t.Fatalf("absorbed %d on dry plots, want 0", got)
	}
}

func TestAccountantSinglePlantDrawsWholeNeighborhood(t *testing.T) {
	a := newTestAccountant(1, 249, PerUnit)
	a.Register(1, 1, Rates{Home: 5, Neighbor: 5}, t0)
	a.Deregister(1, 1, t0+1000)

	// Four plots each hold 249 + 1000 regenerated; 1249 floors to 1245 per plot.
	if got := a.Absorbed(1); got != 4980 {
		t.Fatalf("absorbed = %d, want 4980", got)
	}
}

// plantCross plants the four neighbors of 1001 and then 1001 itself, five
// ticks apart, the way a crowded field fills up.
func plantCross(a *Accountant) {
	rates := Rates{Home: 5, Neighbor: 4}
	for i, plot := range []world.PlotID{1, 1002, 2001, 1000, 1001} {
		a.Register(PlantID(plot), plot, rates, uint64(t0+5*i))
	}
}

func TestAccountantCrowdedCenter(t *testing.T) {
	tests := []struct {
		policy Policy
		want   uint64
	}{
		{PerUnit, 2378},
		{Proportional, 2385},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			a := newTestAccountant(1, 250, tt.policy)
			plantCross(a)

			if got := a.ProjectAbsorbed(1001, 1001, t0+1020); got != tt.want {
				t.Fatalf("projected absorbed = %d, want %d", got, tt.want)
			}
			if got := a.Absorbed(1001); got != 0 {
				t.Fatalf("projection mutated accumulator: %d", got)
			}

			a.Deregister(1001, 1001, t0+1020)
			if got := a.Release(1001); got != tt.want {
				t.Fatalf("absorbed = %d, want %d", got, tt.want)
			}
			if got := a.Absorbed(1001); got != 0 {
				t.Fatalf("accumulator not released: %d", got)
			}
		})
	}
}

func TestAccountantRegisterRateChanges(t *testing.T) {
	a := newTestAccountant(10, 100000, PerUnit)
	changes := a.Register(0, 0, Rates{Home: 15, Neighbor: 4}, 500)

	want := []RateChange{
		{Plot: 1000, ChangeRate: 4, Amount: 5000, Tick: 500},
		{Plot: 1, ChangeRate: 4, Amount: 5000, Tick: 500},
		{Plot: 0, ChangeRate: 15, Amount: 5000, Tick: 500},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("changes = %+v, want %+v", changes, want)
	}
	if got := a.Project(0, 500).ChangeRate; got != 15 {
		t.Fatalf("plot 0 change rate = %d, want 15", got)
	}
}

func TestAccountantDeregisterClearsRates(t *testing.T) {
	a := newTestAccountant(10, 100000, PerUnit)
	a.Register(1001, 1001, Rates{Home: 15, Neighbor: 4}, t0)
	changes := a.Deregister(1001, 1001, t0+100)

	if len(changes) != 5 {
		t.Fatalf("got %d changes, want 5", len(changes))
	}
	if changes[4].Plot != 1001 {
		t.Fatalf("home plot not last: %+v", changes)
	}
	for _, c := range changes {
		if c.ChangeRate != 0 {
			t.Fatalf("plot %d still has change rate %d", c.Plot, c.ChangeRate)
		}
		if len(a.Claimants(c.Plot)) != 0 {
			t.Fatalf("plot %d still has claimants", c.Plot)
		}
	}
}

func TestAccountantProjectUntouchedPlot(t *testing.T) {
	a := newTestAccountant(10, 100000, PerUnit)
	l := a.Project(42, 50)
	if l.Amount != 500 || l.ChangeRate != 0 || l.Tick != 50 {
		t.Fatalf("Project(42, 50) = %+v", l)
	}
}

func TestAccountantExportRestore(t *testing.T) {
	a := newTestAccountant(1, 250, PerUnit)
	plantCross(a)
	st := a.Export()

	b := newTestAccountant(1, 250, PerUnit)
	b.Restore(st)
	rates := Rates{Home: 5, Neighbor: 4}
	for _, plot := range []world.PlotID{1, 1002, 2001, 1000, 1001} {
		b.Attach(PlantID(plot), plot, rates)
	}

	a.Deregister(1001, 1001, t0+1020)
	b.Deregister(1001, 1001, t0+1020)
	if got, want := b.Absorbed(1001), a.Absorbed(1001); got != want || got != 2378 {
		t.Fatalf("restored absorbed = %d, live = %d, want 2378", got, want)
	}
	if got, want := b.Absorbed(1), a.Absorbed(1); got != want {
		t.Fatalf("neighbor accumulator diverged: restored %d, live %d", got, want)
	}
}

func TestAccountantConcurrentPlants(t *testing.T) {
	a := newTestAccountant(10, 100000, PerUnit)
	rates := Rates{Home: 15, Neighbor: 4}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(plot world.PlotID) {
			defer wg.Done()
			for tick := uint64(t0); tick < t0+50; tick += 10 {
				a.Register(PlantID(plot), plot, rates, tick)
				a.Deregister(PlantID(plot), plot, tick+5)
			}
		}(world.PlotID(i*2 + 1001))
	}
	wg.Wait()

	for i := 0; i < 80; i++ {
		plot := world.PlotID(i + 1000)
		if cs := a.Claimants(plot); len(cs) != 0 {
			t.Fatalf("plot %d left with claimants %+v", plot, cs)
		}
		if l := a.Project(plot, t0+100); l.ChangeRate != 0 {
			t.Fatalf("plot %d left with change rate %d", plot, l.ChangeRate)
		}
	}
}
