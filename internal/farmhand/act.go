package farmhand

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/mini-farm/internal/farm"
)

// ActionResult is the response from POST /api/v1/action.
type ActionResult struct {
	Op     string          `json:"op"`
	Tick   uint64          `json:"tick"`
	Result json.RawMessage `json:"result"`
}

// Harvest decodes the result of a harvest action.
func (r *ActionResult) Harvest() (farm.HarvestResult, error) {
	var res farm.HarvestResult
	if r.Op != "harvest" {
		return res, fmt.Errorf("result of %s is not a harvest", r.Op)
	}
	if err := json.Unmarshal(r.Result, &res); err != nil {
		return res, fmt.Errorf("decode harvest result: %w", err)
	}
	return res, nil
}

// APIError is a rejected action. Code and Class are set when the farm
// rejected the operation itself.
type APIError struct {
	Status  int
	Message string
	Code    string
	Class   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("action failed (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("action failed (%d): %s", e.Status, e.Message)
}

// Actor submits actions via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act sends one action to POST /api/v1/action.
func (a *Actor) Act(action Action) (*ActionResult, error) {
	body, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.BaseURL+"/api/v1/action", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST action: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	var result ActionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var farmErr struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Class string `json:"class"`
	}
	if json.Unmarshal(body, &farmErr) == nil && farmErr.Error != "" {
		e.Message = farmErr.Error
		e.Code = farmErr.Code
		e.Class = farmErr.Class
	}
	return e
}
