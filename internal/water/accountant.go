package water

import (
	"sort"
	"sync"

	"github.com/talgya/mini-farm/internal/world"
)

// PlantID identifies a claimant's plant. Plants are keyed by their home plot,
// but the accountant treats the id as opaque.
type PlantID uint64

// Rates describes one plant's draw: Home on its own plot, Neighbor on each
// adjacent plot.
type Rates struct {
	Home     uint64 `json:"home"`
	Neighbor uint64 `json:"neighbor"`
}

// Claimant is one plant's active draw on one plot.
type Claimant struct {
	Plot  world.PlotID `json:"plot_id"`
	Plant PlantID      `json:"plant_id"`
	Rate  uint64       `json:"rate"`
}

// RateChange is emitted for every plot whose claimant set changed.
type RateChange struct {
	Plot       world.PlotID `json:"plot_id"`
	ChangeRate uint64       `json:"change_rate"`
	Amount     uint64       `json:"amount"`
	Tick       uint64       `json:"tick"`
}

// State is the accountant's persistent state: every touched plot's log and
// every plant's settled accumulator. Claimants are rebuilt from plants.
type State struct {
	Logs     map[world.PlotID]Log `json:"logs"`
	Absorbed map[PlantID]uint64   `json:"absorbed"`
}

const shardCount = 64

type plotState struct {
	log       Log
	claimants []Claimant
}

type shard struct {
	mu    sync.Mutex
	plots map[world.PlotID]*plotState
}

// Accountant keeps the claimant registry of every plot and settles plots when
// the registry changes. It is safe for concurrent use: a registration or
// deregistration holds the locks of its whole neighborhood, taken in ascending
// shard order.
type Accountant struct {
	grid   world.Grid
	params Params
	policy Policy

	shards [shardCount]shard

	absMu    sync.Mutex
	absorbed map[PlantID]uint64
}

// NewAccountant creates an accountant for the grid. Untouched plots start
// empty at tick 0 and fill at the regeneration rate.
func NewAccountant(grid world.Grid, params Params, policy Policy) *Accountant {
	a := &Accountant{
		grid:     grid,
		params:   params,
		policy:   policy,
		absorbed: make(map[PlantID]uint64),
	}
	for i := range a.shards {
		a.shards[i].plots = make(map[world.PlotID]*plotState)
	}
	return a
}

// Register adds a plant's claimants on its neighbors and home plot. Each plot
// is settled first, so the pre-registration draw goes to existing claimants
// only. Rate changes are returned in settlement order (home last).
func (a *Accountant) Register(plant PlantID, home world.PlotID, rates Rates, tick uint64) []RateChange {
	plots := a.grid.Neighborhood(home)
	unlock := a.lock(plots)
	defer unlock()

	changes := make([]RateChange, 0, len(plots))
	for _, id := range plots {
		ps := a.plotLocked(id)
		a.settleLocked(ps, tick)

		rate := rates.Neighbor
		if id == home {
			rate = rates.Home
		}
		ps.claimants = append(ps.claimants, Claimant{Plot: id, Plant: plant, Rate: rate})
		ps.log.ChangeRate = totalRate(ps.claimants)

		changes = append(changes, RateChange{Plot: id, ChangeRate: ps.log.ChangeRate, Amount: ps.log.Amount, Tick: ps.log.Tick})
	}
	return changes
}

// Deregister settles the plant's neighborhood, finalizing its share, and then
// removes its claimants. The plant's accumulator is kept until Release so a
// plant that stays in the ground keeps its running total.
func (a *Accountant) Deregister(plant PlantID, home world.PlotID, tick uint64) []RateChange {
	plots := a.grid.Neighborhood(home)
	unlock := a.lock(plots)
	defer unlock()

	changes := make([]RateChange, 0, len(plots))
	for _, id := range plots {
		ps := a.plotLocked(id)
		a.settleLocked(ps, tick)

		kept := ps.claimants[:0]
		for _, c := range ps.claimants {
			if c.Plant != plant {
				kept = append(kept, c)
			}
		}
		ps.claimants = kept
		ps.log.ChangeRate = totalRate(ps.claimants)

		changes = append(changes, RateChange{Plot: id, ChangeRate: ps.log.ChangeRate, Amount: ps.log.Amount, Tick: ps.log.Tick})
	}
	return changes
}

// Absorbed returns the plant's settled accumulator.
func (a *Accountant) Absorbed(plant PlantID) uint64 {
	a.absMu.Lock()
	defer a.absMu.Unlock()
	return a.absorbed[plant]
}

// Release forgets a plant's accumulator and returns its final value.
func (a *Accountant) Release(plant PlantID) uint64 {
	a.absMu.Lock()
	defer a.absMu.Unlock()
	v := a.absorbed[plant]
	delete(a.absorbed, plant)
	return v
}

// Project returns the log a settlement at tick would produce, without
// settling. Reads never move water between plots and plants.
func (a *Accountant) Project(plot world.PlotID, tick uint64) Log {
	sh := a.shardFor(plot)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ps, ok := sh.plots[plot]
	if !ok {
		l, _ := Log{}.Settle(tick, a.params)
		return l
	}
	l, _ := ps.log.Settle(tick, a.params)
	return l
}

// ProjectAbsorbed returns the plant's accumulator as if its neighborhood were
// settled at tick.
func (a *Accountant) ProjectAbsorbed(plant PlantID, home world.PlotID, tick uint64) uint64 {
	plots := a.grid.Neighborhood(home)
	unlock := a.lock(plots)
	defer unlock()

	total := a.Absorbed(plant)
	for _, id := range plots {
		ps, ok := a.shardFor(id).plots[id]
		if !ok {
			continue
		}
		_, drawn := ps.log.Settle(tick, a.params)
		for _, c := range ps.claimants {
			if c.Plant == plant {
				total += a.policy.Share(drawn, c.Rate, ps.log.ChangeRate)
			}
		}
	}
	return total
}

// Claimants returns the active claimants on a plot.
func (a *Accountant) Claimants(plot world.PlotID) []Claimant {
	sh := a.shardFor(plot)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ps, ok := sh.plots[plot]
	if !ok {
		return nil
	}
	out := make([]Claimant, len(ps.claimants))
	copy(out, ps.claimants)
	return out
}

// Export returns a copy of the accountant's persistent state.
func (a *Accountant) Export() State {
	st := State{
		Logs:     make(map[world.PlotID]Log),
		Absorbed: make(map[PlantID]uint64),
	}
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		for id, ps := range sh.plots {
			st.Logs[id] = ps.log
		}
		sh.mu.Unlock()
	}

	a.absMu.Lock()
	for id, v := range a.absorbed {
		st.Absorbed[id] = v
	}
	a.absMu.Unlock()
	return st
}

// Restore loads logs and accumulators verbatim. Claimants are re-attached
// afterwards with Attach.
func (a *Accountant) Restore(st State) {
	for id, l := range st.Logs {
		sh := a.shardFor(id)
		sh.mu.Lock()
		sh.plots[id] = &plotState{log: l}
		sh.mu.Unlock()
	}

	a.absMu.Lock()
	for id, v := range st.Absorbed {
		a.absorbed[id] = v
	}
	a.absMu.Unlock()
}

// Attach re-adds a plant's claimants without settling. It is only used while
// restoring saved state, where the logs already account for the plant.
func (a *Accountant) Attach(plant PlantID, home world.PlotID, rates Rates) {
	plots := a.grid.Neighborhood(home)
	unlock := a.lock(plots)
	defer unlock()

	for _, id := range plots {
		ps := a.plotLocked(id)
		rate := rates.Neighbor
		if id == home {
			rate = rates.Home
		}
		ps.claimants = append(ps.claimants, Claimant{Plot: id, Plant: plant, Rate: rate})
	}
}

func (a *Accountant) settleLocked(ps *plotState, tick uint64) {
	settled, drawn := ps.log.Settle(tick, a.params)
	if drawn > 0 && len(ps.claimants) > 0 {
		a.absMu.Lock()
		for _, c := range ps.claimants {
			a.absorbed[c.Plant] += a.policy.Share(drawn, c.Rate, ps.log.ChangeRate)
		}
		a.absMu.Unlock()
	}
	ps.log = settled
}

func (a *Accountant) plotLocked(id world.PlotID) *plotState {
	sh := a.shardFor(id)
	ps, ok := sh.plots[id]
	if !ok {
		ps = &plotState{}
		sh.plots[id] = ps
	}
	return ps
}

func (a *Accountant) shardFor(id world.PlotID) *shard {
	return &a.shards[uint64(id)%shardCount]
}

// lock takes the distinct shard locks covering plots in ascending shard order
// and returns the matching unlock.
func (a *Accountant) lock(plots []world.PlotID) func() {
	idx := make([]int, 0, len(plots))
	seen := make(map[int]bool, len(plots))
	for _, id := range plots {
		i := int(uint64(id) % shardCount)
		if !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		a.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			a.shards[idx[j]].mu.Unlock()
		}
	}
}

func totalRate(cs []Claimant) uint64 {
	var total uint64
	for _, c := range cs {
		total += c.Rate
	}
	return total
}
