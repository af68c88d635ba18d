package farm

import (
	"fmt"

	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
)

// LedgerSnapshotter is implemented by ledgers whose state the farm can save
// together with its own.
type LedgerSnapshotter interface {
	Snapshot() ledger.State
	Restore(ledger.State)
}

// Snapshot is the farm's complete persistent state at one tick.
type Snapshot struct {
	Tick    uint64          `json:"tick"`
	Water   water.State     `json:"water"`
	Plants  []Plant         `json:"plants"`
	Ledger  *ledger.State   `json:"ledger,omitempty"`
	Records []HarvestResult `json:"records,omitempty"`
}

// Snapshot captures the farm. Plot logs are taken as last settled, not
// projected, so restoring and continuing matches never having stopped.
func (f *Farm) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		Tick:   f.clock.Now(),
		Water:  f.water.Export(),
		Plants: f.plantsLocked(),
	}
	for i := range snap.Plants {
		snap.Plants[i].WaterAbsorbed = snap.Water.Absorbed[snap.Plants[i].ID()]
	}
	if ls, ok := f.ledger.(LedgerSnapshotter); ok {
		st := ls.Snapshot()
		snap.Ledger = &st
	}
	snap.Records = append([]HarvestResult(nil), f.records...)
	return snap
}

// Restore loads a snapshot into a farm that has no plants yet. Plants
// re-attach their claimants without settling: the restored plot logs already
// account for them.
func (f *Farm) Restore(snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.plants) > 0 {
		return fmt.Errorf("restore: farm already has %d plants", len(f.plants))
	}
	for _, p := range snap.Plants {
		if !f.settings.Grid.Valid(p.PlotID) {
			return fmt.Errorf("restore plant %d: %w", p.PlotID, ErrPlotInvalidID)
		}
	}

	f.water.Restore(snap.Water)
	for i := range snap.Plants {
		p := snap.Plants[i]
		f.plants[p.PlotID] = &p
		f.own(p.Owner, p.PlotID)
		f.water.Attach(p.ID(), p.PlotID, p.Rates())
	}
	if snap.Ledger != nil {
		if ls, ok := f.ledger.(LedgerSnapshotter); ok {
			ls.Restore(*snap.Ledger)
		}
	}
	f.records = append(f.records[:0], snap.Records...)
	return nil
}
