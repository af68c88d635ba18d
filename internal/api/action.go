package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/talgya/mini-farm/internal/ledger"
	"github.com/talgya/mini-farm/internal/world"
)

const maxActionBody = 64 * 1024

//go:embed schemas/action.schema.json
var actionSchemaJSON []byte

var actionSchema = mustCompileSchema("https://mini-farm.local/schemas/action.schema.json", actionSchemaJSON)

func mustCompileSchema(url string, src []byte) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(src)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", url, err))
	}
	return c.MustCompile(url)
}

// actionRequest is the body of POST /api/v1/action.
type actionRequest struct {
	Op          string          `json:"op"`
	Caller      ledger.Account  `json:"caller"`
	Plot        world.PlotID    `json:"plot"`
	Asset       ledger.Asset    `json:"asset"`
	Seed        ledger.Asset    `json:"seed"`
	Product     ledger.Asset    `json:"product"`
	Qty         uint64          `json:"qty"`
	Ingredients []ledger.Amount `json:"ingredients"`
}

// decodeAction validates body against the action schema, then decodes it.
func decodeAction(body []byte) (actionRequest, error) {
	var req actionRequest
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, fmt.Errorf("invalid json: %w", err)
	}
	if err := actionSchema.Validate(raw); err != nil {
		return req, fmt.Errorf("invalid action: %w", err)
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("invalid action: %w", err)
	}
	return req, nil
}

// handleAction runs one farm operation on behalf of req.Caller.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActionBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	req, err := decodeAction(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.runAction(req)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Debug("action applied", "op", req.Op, "caller", req.Caller, "tick", s.Farm.Tick())
	writeJSON(w, map[string]any{
		"op":     req.Op,
		"tick":   s.Farm.Tick(),
		"result": result,
	})
}

func (s *Server) runAction(req actionRequest) (any, error) {
	f := s.Farm
	switch req.Op {
	case "credit":
		if err := f.Ledger().Credit(req.Caller, req.Asset, req.Qty); err != nil {
			return nil, fmt.Errorf("credit: %w", err)
		}
		slog.Info("credited", "owner", req.Caller, "asset", req.Asset, "qty", req.Qty)
		return map[string]any{"balance": f.Ledger().Balance(req.Caller, req.Asset)}, nil
	case "buy_plot":
		if err := f.BuyPlot(req.Caller, req.Plot); err != nil {
			return nil, err
		}
		return map[string]any{"plot_id": req.Plot}, nil
	case "buy_seeds":
		if err := f.BuySeeds(req.Caller, req.Seed, req.Qty); err != nil {
			return nil, err
		}
		return map[string]any{"seed": req.Seed, "balance": f.Ledger().Balance(req.Caller, req.Seed)}, nil
	case "plant":
		return f.Plant(req.Caller, req.Seed, req.Plot)
	case "harvest":
		return f.Harvest(req.Caller, req.Plot)
	case "convert_to_seeds":
		if err := f.ConvertProductsToSeeds(req.Caller, req.Product, req.Qty); err != nil {
			return nil, err
		}
		seed, _ := f.Catalog().SeedFor(req.Product)
		return map[string]any{"seed": seed, "balance": f.Ledger().Balance(req.Caller, seed)}, nil
	case "convert_to_dish":
		dish, err := f.ConvertProductsToDish(req.Caller, req.Ingredients)
		if err != nil {
			return nil, err
		}
		return map[string]any{"dish": dish, "balance": f.Ledger().Balance(req.Caller, dish)}, nil
	default:
		// The schema enumerates every op.
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}
