// Package farmhand is an external bot that works a farmer's plots through the
// public HTTP API. It observes the farm, decides on actions deterministically,
// and submits them through the admin action endpoint.
package farmhand

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

// FarmSnapshot holds everything collected during one observation cycle.
type FarmSnapshot struct {
	Owner    ledger.Account
	Status   FarmStatus
	Seeds    []SeedInfo
	Recipes  []farm.Recipe
	Balances map[ledger.Asset]uint64
	Plots    []PlotState
}

// FarmStatus mirrors the parts of GET /api/v1/status the farmhand uses.
type FarmStatus struct {
	Tick       uint64  `json:"tick"`
	FarmTime   string  `json:"farm_time"`
	Season     string  `json:"season"`
	NextSeason uint64  `json:"next_season"`
	Plants     int     `json:"plants"`
	Harvests   int     `json:"harvests"`
	PlotPrice  uint64  `json:"plot_price"`
	SeedPrice  uint64  `json:"seed_price"`
	Running    bool    `json:"running"`
	Speed      float64 `json:"speed"`
}

// SeedInfo mirrors one entry of GET /api/v1/seeds.
type SeedInfo struct {
	farm.SeedSpec
	Seasons  []string `json:"seasons"`
	InSeason bool     `json:"in_season"`
}

// PlotState is one worked plot: who holds it and what grows there.
type PlotState struct {
	Plot   world.PlotID   `json:"plot_id"`
	Minted bool           `json:"minted"`
	Owner  ledger.Account `json:"owner,omitempty"`
	Plant  *farm.Plant    `json:"plant,omitempty"`
	State  string         `json:"-"` // growing, evaluable or overgrown when Plant is set
}

type plantView struct {
	Plant farm.Plant `json:"plant"`
	State string     `json:"state"`
}

type balancesView struct {
	Balances map[ledger.Asset]uint64 `json:"balances"`
}

// Observer collects farm state via the HTTP API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the status, the seed catalog, owner's balances and the
// state of every plot in plots.
func (o *Observer) Observe(owner ledger.Account, plots []world.PlotID) (*FarmSnapshot, error) {
	snap := &FarmSnapshot{Owner: owner}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if err := o.fetchJSON("/api/v1/seeds", &snap.Seeds); err != nil {
		return nil, fmt.Errorf("seeds: %w", err)
	}
	if err := o.fetchJSON("/api/v1/recipes", &snap.Recipes); err != nil {
		return nil, fmt.Errorf("recipes: %w", err)
	}

	var bal balancesView
	if err := o.fetchJSON("/api/v1/farmer/"+string(owner)+"/balances", &bal); err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	snap.Balances = bal.Balances
	if snap.Balances == nil {
		snap.Balances = make(map[ledger.Asset]uint64)
	}

	for _, id := range plots {
		var ps PlotState
		if err := o.fetchJSON(fmt.Sprintf("/api/v1/plot/%d", id), &ps); err != nil {
			return nil, fmt.Errorf("plot %d: %w", id, err)
		}
		if ps.Plant != nil {
			var pv plantView
			err := o.fetchJSON(fmt.Sprintf("/api/v1/plant/%d", id), &pv)
			switch {
			case err == nil:
				ps.Plant = &pv.Plant
				ps.State = pv.State
			case errors.Is(err, errNotFound):
				// Harvested between the two requests.
				ps.Plant = nil
			default:
				return nil, fmt.Errorf("plant %d: %w", id, err)
			}
		}
		snap.Plots = append(snap.Plots, ps)
	}

	return snap, nil
}

var errNotFound = errors.New("not found")

// fetchJSON performs a GET request and decodes the JSON response.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", path, errNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
