package farm

import (
	"fmt"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/water"
	"github.com/talgya/mini-farm/internal/world"
)

// Plant is a crop in the ground. Its id is its plot id: a plot holds at most
// one plant. Everything the harvest decision needs is captured at plant time.
type Plant struct {
	PlotID        world.PlotID   `json:"plot_id" db:"plot_id"`
	Owner         ledger.Account `json:"owner" db:"owner"`
	Seed          ledger.Asset   `json:"seed" db:"seed"`
	PlantedTick   uint64         `json:"planted_tick" db:"planted_tick"`
	MatureTick    uint64         `json:"mature_tick" db:"mature_tick"`
	OvergrownTick uint64         `json:"overgrown_tick" db:"overgrown_tick"`
	GrowthSeasons uint8          `json:"growth_seasons" db:"growth_seasons"`
	MinWater      uint64         `json:"min_water" db:"min_water"`
	HomeRate      uint64         `json:"home_rate" db:"home_rate"`
	NeighborRate  uint64         `json:"neighbor_rate" db:"neighbor_rate"`
	WaterAbsorbed uint64         `json:"water_absorbed" db:"water_absorbed"`
}

func newPlant(plot world.PlotID, owner ledger.Account, sp SeedSpec, tick uint64) *Plant {
	return &Plant{
		PlotID:        plot,
		Owner:         owner,
		Seed:          sp.Symbol,
		PlantedTick:   tick,
		MatureTick:    tick + sp.GrowthDuration,
		OvergrownTick: tick + sp.GrowthDuration + sp.GracePeriod,
		GrowthSeasons: sp.GrowthSeasons,
		MinWater:      sp.MinWater,
		HomeRate:      sp.Rates.Home,
		NeighborRate:  sp.Rates.Neighbor,
	}
}

// ID returns the plant's id in the water accountant.
func (p *Plant) ID() water.PlantID { return water.PlantID(p.PlotID) }

// Rates returns the absorb rates captured at plant time.
func (p *Plant) Rates() water.Rates {
	return water.Rates{Home: p.HomeRate, Neighbor: p.NeighborRate}
}

// State is a plant's growth state as seen at some tick.
type State uint8

const (
	StateGrowing   State = iota // not yet mature
	StateEvaluable              // mature, in season, not overgrown
	StateOvergrown              // past its window or out of season
)

func (s State) String() string {
	switch s {
	case StateGrowing:
		return "growing"
	case StateEvaluable:
		return "evaluable"
	case StateOvergrown:
		return "overgrown"
	default:
		return "unknown"
	}
}

// State returns the plant's state at tick.
func (p *Plant) State(tick, seasonLength uint64) State {
	switch {
	case tick < p.MatureTick:
		return StateGrowing
	case tick >= p.OvergrownTick || !engine.IsGrowthSeason(p.GrowthSeasons, tick, seasonLength):
		return StateOvergrown
	default:
		return StateEvaluable
	}
}

// Outcome is the result of a harvest attempt that passed ownership and timing.
type Outcome uint8

const (
	OutcomeHarvested Outcome = iota + 1
	OutcomeOvergrown
	OutcomeNotEnoughWater
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHarvested:
		return "harvested"
	case OutcomeOvergrown:
		return "overgrown"
	case OutcomeNotEnoughWater:
		return "not_enough_water"
	default:
		return "unknown"
	}
}

// MarshalText lets outcomes travel as strings in JSON and CSV.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range []Outcome{OutcomeHarvested, OutcomeOvergrown, OutcomeNotEnoughWater} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown harvest outcome %q", s)
}

// HarvestResult describes a completed harvest attempt.
type HarvestResult struct {
	Plot          world.PlotID   `json:"plot_id"`
	Owner         ledger.Account `json:"owner"`
	Seed          ledger.Asset   `json:"seed"`
	Outcome       Outcome        `json:"outcome"`
	WaterAbsorbed uint64         `json:"water_absorbed"`
	Product       ledger.Asset   `json:"product,omitempty"`
	Yield         uint64         `json:"yield,omitempty"`
	Tick          uint64         `json:"tick"`
}
