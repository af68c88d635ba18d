package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/talgya/mini-farm/internal/farm"
)

var records = []farm.HarvestResult{
	{Tick: 10, Plot: 1, Owner: "alice", Seed: "PTT_SEED", Outcome: farm.OutcomeHarvested, WaterAbsorbed: 40, Product: "PTT", Yield: 6},
	{Tick: 12, Plot: 2, Owner: "bob", Seed: "PTT_SEED", Outcome: farm.OutcomeNotEnoughWater, WaterAbsorbed: 12},
	{Tick: 14, Plot: 1, Owner: "alice", Seed: "PTT_SEED", Outcome: farm.OutcomeHarvested, WaterAbsorbed: 60, Product: "PTT", Yield: 6},
	{Tick: 20, Plot: 3, Owner: "bob", Seed: "CRN_SEED", Outcome: farm.OutcomeOvergrown, WaterAbsorbed: 90, Product: "WED", Yield: 1},
}

func TestWriteHarvestCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHarvestCSV(&buf, records); err != nil {
		t.Fatalf("WriteHarvestCSV: %v", err)
	}
	header, _, _ := strings.Cut(buf.String(), "\n")
	if header != "tick,plot_id,owner,seed,outcome,water_absorbed,product,yield" {
		t.Fatalf("header = %q", header)
	}

	var rows []HarvestRow
	if err := gocsv.Unmarshal(&buf, &rows); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rows) != len(records) {
		t.Fatalf("got %d rows, want %d", len(rows), len(records))
	}
	if rows[1].Outcome != "not_enough_water" || rows[1].Product != "" || rows[3].Plot != 3 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(records)
	if len(got) != 3 {
		t.Fatalf("got %d groups, want 3: %+v", len(got), got)
	}

	h := got[0]
	if h.Outcome != "harvested" || h.Count != 2 || h.MeanAbsorbed != 50 || h.Yield != 12 {
		t.Fatalf("harvested = %+v", h)
	}
	// Sample standard deviation of {40, 60}.
	if math.Abs(h.StdDevAbsorbed-math.Sqrt(200)) > 1e-9 {
		t.Fatalf("stddev = %v, want %v", h.StdDevAbsorbed, math.Sqrt(200))
	}
	if got[1].Outcome != "overgrown" || got[2].Outcome != "not_enough_water" || got[2].MeanAbsorbed != 12 {
		t.Fatalf("groups = %+v", got)
	}

	if len(Summarize(nil)) != 0 {
		t.Fatal("empty input produced groups")
	}
}

func TestSeason(t *testing.T) {
	row := Season(300, "Spring", 5, records)
	if row.Harvests != 4 || row.Harvested != 2 || row.Overgrown != 1 || row.NotEnoughWater != 1 {
		t.Fatalf("counts = %+v", row)
	}
	if row.Yield != 13 || row.MeanAbsorbed != 50.5 {
		t.Fatalf("yield %d mean %v", row.Yield, row.MeanAbsorbed)
	}
	if s := row.String(); !strings.HasPrefix(s, "Spring: 4 harvests") {
		t.Fatalf("String() = %q", s)
	}

	empty := Season(600, "Summer", 0, nil)
	if empty.Harvests != 0 || empty.MeanAbsorbed != 0 {
		t.Fatalf("empty season = %+v", empty)
	}
}

func TestOutputAppends(t *testing.T) {
	dir := t.TempDir()
	for i, season := range []string{"Winter", "Spring"} {
		out, err := NewOutput(dir)
		if err != nil {
			t.Fatalf("NewOutput: %v", err)
		}
		if err := out.WriteSeason(Season(uint64(i)*300, season, 0, nil)); err != nil {
			t.Fatal(err)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "seasons.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "tick,season") || !strings.Contains(lines[2], "Spring") {
		t.Fatalf("seasons.csv = %q", b)
	}

	var disabled *Output
	if err := disabled.WriteSeason(SeasonRow{}); err != nil {
		t.Fatalf("disabled output: %v", err)
	}
}

func TestSeasonEndedFullHistory(t *testing.T) {
	// A capped history: the list length stays put while old records drop off.
	const capped = 10000
	history := make([]farm.HarvestResult, 0, capped)
	for len(history) < capped-50 {
		history = append(history, farm.HarvestResult{Tick: 150, Outcome: farm.OutcomeNotEnoughWater})
	}
	for i := 0; i < 50; i++ {
		history = append(history, farm.HarvestResult{Tick: 200 + uint64(i), Outcome: farm.OutcomeHarvested, Yield: 2})
	}

	row := SeasonEnded(300, 100, 7, history)
	if row.Season != "Summer" || row.Harvests != 50 || row.Harvested != 50 || row.Yield != 100 || row.Plants != 7 {
		t.Fatalf("summer = %+v", row)
	}

	for i := 0; i < 50; i++ {
		history = append(history[1:], farm.HarvestResult{Tick: 300 + uint64(i), Outcome: farm.OutcomeOvergrown, Yield: 1})
	}
	// Harvested on the boundary tick, so it belongs to the next season.
	history = append(history[1:], farm.HarvestResult{Tick: 400, Outcome: farm.OutcomeHarvested, Yield: 2})
	if len(history) != capped {
		t.Fatalf("history len = %d", len(history))
	}
	row = SeasonEnded(400, 100, 0, history)
	if row.Season != "Autumn" || row.Harvests != 50 || row.Overgrown != 50 || row.Yield != 50 {
		t.Fatalf("autumn = %+v", row)
	}
}

func TestSeasonRecords(t *testing.T) {
	got := SeasonRecords(records, 12, 20)
	if len(got) != 2 || got[0].Tick != 12 || got[1].Tick != 14 {
		t.Fatalf("SeasonRecords(12, 20) = %+v", got)
	}
	if got := SeasonRecords(records, 21, 100); len(got) != 0 {
		t.Fatalf("SeasonRecords(21, 100) = %+v", got)
	}
}
