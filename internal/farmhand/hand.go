package farmhand

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

// Hand works one farmer's plots.
type Hand struct {
	Observer   *Observer
	Actor      *Actor
	Memory     *CycleMemory
	Owner      ledger.Account
	Plots      []world.PlotID
	RetryEvery uint64 // ticks between harvest retries of a dry plot
}

// RunCycle executes one observe, decide, act cycle. Rejected actions are
// logged and counted; transport failures end the cycle with an error.
func (h *Hand) RunCycle() (CycleRecord, error) {
	snap, err := h.Observer.Observe(h.Owner, h.Plots)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("observe: %w", err)
	}
	rec := CycleRecord{Tick: snap.Status.Tick}
	slog.Info("observation complete",
		"owner", h.Owner,
		"tick", snap.Status.Tick,
		"farm_time", snap.Status.FarmTime,
		"season", snap.Status.Season,
		"stable", humanize.Comma(int64(snap.Balances[ledger.Stable])),
	)

	actions := Decide(snap, h.Memory, h.RetryEvery)
	rec.Actions = len(actions)
	for _, a := range actions {
		res, err := h.Actor.Act(a)
		if err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				return rec, fmt.Errorf("act %s: %w", a, err)
			}
			slog.Warn("action rejected", "action", a.String(), "code", apiErr.Code, "error", apiErr.Message)
			rec.Failed++
			continue
		}
		if err := h.note(a, res, &rec); err != nil {
			return rec, err
		}
	}

	h.Memory.Record(rec)
	h.Memory.Save()
	slog.Info("farmhand cycle complete",
		"tick", rec.Tick,
		"actions", rec.Actions,
		"failed", rec.Failed,
		"planted", rec.Planted,
		"harvested", rec.Harvested,
		"dry", rec.Dry,
	)
	return rec, nil
}

func (h *Hand) note(a Action, res *ActionResult, rec *CycleRecord) error {
	switch a.Op {
	case "buy_plot":
		rec.Bought++
	case "plant":
		rec.Planted++
	case "convert_to_dish":
		rec.Cooked++
	case "convert_to_seeds":
		rec.Converted += a.Qty
	case "harvest":
		hr, err := res.Harvest()
		if err != nil {
			return err
		}
		switch hr.Outcome {
		case farm.OutcomeHarvested:
			rec.Harvested++
			h.Memory.ClearDry(hr.Plot)
		case farm.OutcomeOvergrown:
			rec.Overgrown++
			h.Memory.ClearDry(hr.Plot)
		case farm.OutcomeNotEnoughWater:
			rec.Dry++
			h.Memory.MarkDry(hr.Plot, res.Tick)
		}
	}
	return nil
}
