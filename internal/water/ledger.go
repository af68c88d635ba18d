// Package water implements the per-plot water ledger and the accountant that
// apportions realized draws among the plants claiming a plot.
//
// A plot's water is never simulated tick by tick. Each plot keeps a snapshot
// (amount, total absorb rate, tick) and the amount at any later tick is a
// closed-form projection. Rates only change when a claimant joins or leaves,
// and every such change settles the plot first.
package water

import (
	"fmt"
	"math"
	"math/bits"
)

// Log is a plot's water snapshot. It is only valid as of Tick.
type Log struct {
	Amount     uint64 `json:"amount" db:"amount"`
	ChangeRate uint64 `json:"change_rate" db:"change_rate"` // sum of active absorb rates
	Tick       uint64 `json:"tick" db:"tick"`
}

// Params are the plot parameters shared by every plot on the grid.
type Params struct {
	RegenRate uint64 // water regenerated per tick
	Capacity  uint64 // maximum water a plot holds
}

// Settle realizes the log up to tick. It returns the settled log and the water
// actually drawn by claimants since the snapshot.
//
// The draw is capped by what the plot held plus what it regenerated, so the
// amount never goes negative; the remainder is clamped to capacity. Ticks
// before the snapshot settle as zero elapsed.
func (l Log) Settle(tick uint64, p Params) (Log, uint64) {
	var elapsed uint64
	if tick > l.Tick {
		elapsed = tick - l.Tick
	}

	available := addSat(l.Amount, mulSat(p.RegenRate, elapsed))
	drawn := min(mulSat(l.ChangeRate, elapsed), available)
	amount := min(available-drawn, p.Capacity)

	return Log{Amount: amount, ChangeRate: l.ChangeRate, Tick: max(tick, l.Tick)}, drawn
}

// Policy decides how a realized draw is split between a plot's claimants.
type Policy uint8

const (
	// PerUnit splits the draw per unit of rate: floor(drawn/R) * r_i.
	PerUnit Policy = iota
	// Proportional gives each claimant floor(drawn * r_i / R).
	Proportional
)

// ParsePolicy parses a policy name from configuration.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "unit":
		return PerUnit, nil
	case "proportional":
		return Proportional, nil
	default:
		return PerUnit, fmt.Errorf("unknown apportion policy %q", name)
	}
}

func (p Policy) String() string {
	switch p {
	case PerUnit:
		return "unit"
	case Proportional:
		return "proportional"
	default:
		return "unknown"
	}
}

// Share returns one claimant's part of drawn given its rate and the plot's
// total rate. Shares never sum to more than drawn; rounding remainders are lost.
func (p Policy) Share(drawn, rate, total uint64) uint64 {
	if total == 0 || rate == 0 || drawn == 0 {
		return 0
	}
	if p == Proportional {
		if rate >= total {
			return drawn
		}
		hi, lo := bits.Mul64(drawn, rate)
		q, _ := bits.Div64(hi, lo, total)
		return q
	}
	return (drawn / total) * rate
}

func mulSat(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func addSat(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}
