package farmhand

import (
	"fmt"

	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

// Action is one request body for POST /api/v1/action.
type Action struct {
	Op          string          `json:"op"`
	Caller      ledger.Account  `json:"caller"`
	Plot        *world.PlotID   `json:"plot,omitempty"`
	Seed        ledger.Asset    `json:"seed,omitempty"`
	Product     ledger.Asset    `json:"product,omitempty"`
	Qty         uint64          `json:"qty,omitempty"`
	Ingredients []ledger.Amount `json:"ingredients,omitempty"`
}

func (a Action) String() string {
	switch {
	case a.Plot != nil:
		return fmt.Sprintf("%s(plot=%d)", a.Op, *a.Plot)
	case a.Seed != "":
		return fmt.Sprintf("%s(%s x%d)", a.Op, a.Seed, a.Qty)
	case a.Product != "":
		return fmt.Sprintf("%s(%s x%d)", a.Op, a.Product, a.Qty)
	default:
		return a.Op
	}
}

func plotAction(op string, owner ledger.Account, plot world.PlotID) Action {
	return Action{Op: op, Caller: owner, Plot: &plot}
}

// Decide turns a snapshot into an ordered list of actions. It buys unminted
// plots, harvests anything past growing, plants an in-season seed on every
// empty plot it holds, cooks full recipes and turns leftover products back
// into seeds. Plots that came up dry are retried only every retryEvery ticks.
func Decide(snap *FarmSnapshot, mem *CycleMemory, retryEvery uint64) []Action {
	owner := snap.Owner
	tick := snap.Status.Tick
	bal := make(map[ledger.Asset]uint64, len(snap.Balances))
	for a, q := range snap.Balances {
		bal[a] = q
	}

	var actions []Action
	for _, ps := range snap.Plots {
		switch {
		case !ps.Minted:
			if bal[ledger.Stable] < snap.Status.PlotPrice {
				continue
			}
			bal[ledger.Stable] -= snap.Status.PlotPrice
			actions = append(actions, plotAction("buy_plot", owner, ps.Plot))
		case ps.Owner != owner:
			continue
		case ps.Plant != nil:
			if ps.State == "growing" || mem.RecentlyDry(ps.Plot, tick, retryEvery) {
				continue
			}
			actions = append(actions, plotAction("harvest", owner, ps.Plot))
			// The plot is replanted next cycle once the outcome is known.
			continue
		}

		seed, buy, ok := chooseSeed(snap, bal)
		if !ok {
			continue
		}
		if buy {
			bal[ledger.Stable] -= snap.Status.SeedPrice
			actions = append(actions, Action{Op: "buy_seeds", Caller: owner, Seed: seed, Qty: 1})
		} else {
			bal[seed]--
		}
		a := plotAction("plant", owner, ps.Plot)
		a.Seed = seed
		actions = append(actions, a)
	}

	for _, r := range snap.Recipes {
		for hasAll(bal, r.Ingredients) {
			for _, in := range r.Ingredients {
				bal[in.Asset] -= in.Qty
			}
			actions = append(actions, Action{Op: "convert_to_dish", Caller: owner, Ingredients: r.Ingredients})
		}
	}

	converted := make(map[ledger.Asset]bool)
	for _, sd := range snap.Seeds {
		if converted[sd.Product] {
			continue
		}
		converted[sd.Product] = true
		if q := bal[sd.Product]; q > 0 {
			bal[sd.Product] = 0
			actions = append(actions, Action{Op: "convert_to_seeds", Caller: owner, Product: sd.Product, Qty: q})
		}
	}
	return actions
}

// chooseSeed picks an in-season seed already held, or else the first
// in-season seed the stable balance can buy.
func chooseSeed(snap *FarmSnapshot, bal map[ledger.Asset]uint64) (seed ledger.Asset, buy, ok bool) {
	var buyable ledger.Asset
	for _, sd := range snap.Seeds {
		if !sd.InSeason {
			continue
		}
		if bal[sd.Symbol] > 0 {
			return sd.Symbol, false, true
		}
		if buyable == "" {
			buyable = sd.Symbol
		}
	}
	if buyable != "" && bal[ledger.Stable] >= snap.Status.SeedPrice {
		return buyable, true, true
	}
	return "", false, false
}

// hasAll reports whether bal covers a non-empty basket.
func hasAll(bal map[ledger.Asset]uint64, want []ledger.Amount) bool {
	need := make(map[ledger.Asset]uint64, len(want))
	var total uint64
	for _, a := range want {
		need[a.Asset] += a.Qty
		total += a.Qty
	}
	if total == 0 {
		return false
	}
	for asset, qty := range need {
		if bal[asset] < qty {
			return false
		}
	}
	return true
}
