package farmhand

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/talgya/mini-farm/internal/world"
)

const maxRecords = 10

// CycleRecord captures what happened in a single farmhand cycle.
type CycleRecord struct {
	Tick      uint64 `json:"tick"`
	Actions   int    `json:"actions"`
	Failed    int    `json:"failed"`
	Bought    int    `json:"bought"`
	Planted   int    `json:"planted"`
	Harvested int    `json:"harvested"`
	Overgrown int    `json:"overgrown"`
	Dry       int    `json:"dry"`
	Cooked    int    `json:"cooked"`
	Converted uint64 `json:"converted"`
}

// CycleMemory keeps the recent cycle records and the tick each plot last
// came up short of water. It persists as JSON between runs.
type CycleMemory struct {
	Records []CycleRecord           `json:"records"`
	Dry     map[world.PlotID]uint64 `json:"dry"`

	path string
}

// LoadMemory reads the memory file at path. Returns empty memory if the file
// is missing or corrupt; an empty path keeps memory in-process only.
func LoadMemory(path string) *CycleMemory {
	mem := &CycleMemory{Dry: make(map[world.PlotID]uint64), path: path}
	if path == "" {
		return mem
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mem
	}
	if err := json.Unmarshal(data, mem); err != nil {
		slog.Warn("farmhand memory corrupted, starting fresh", "error", err)
		return &CycleMemory{Dry: make(map[world.PlotID]uint64), path: path}
	}
	if mem.Dry == nil {
		mem.Dry = make(map[world.PlotID]uint64)
	}
	return mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal farmhand memory", "error", err)
		return
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		slog.Error("failed to write farmhand memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// MarkDry notes that plot lacked water at tick.
func (m *CycleMemory) MarkDry(plot world.PlotID, tick uint64) {
	m.Dry[plot] = tick
}

// ClearDry forgets plot's last dry harvest.
func (m *CycleMemory) ClearDry(plot world.PlotID) {
	delete(m.Dry, plot)
}

// RecentlyDry reports whether plot came up dry less than every ticks ago.
func (m *CycleMemory) RecentlyDry(plot world.PlotID, tick, every uint64) bool {
	last, ok := m.Dry[plot]
	return ok && tick >= last && tick-last < every
}
