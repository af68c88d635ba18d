// Package report turns harvest records into CSV exports and summary
// statistics.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/mini-farm/internal/engine"
	"github.com/talgya/mini-farm/internal/farm"
	"github.com/talgya/mini-farm/internal/world"
)

// HarvestRow is one harvest record as a CSV line.
type HarvestRow struct {
	Tick          uint64       `csv:"tick"`
	Plot          world.PlotID `csv:"plot_id"`
	Owner         string       `csv:"owner"`
	Seed          string       `csv:"seed"`
	Outcome       string       `csv:"outcome"`
	WaterAbsorbed uint64       `csv:"water_absorbed"`
	Product       string       `csv:"product"`
	Yield         uint64       `csv:"yield"`
}

func rowOf(r farm.HarvestResult) HarvestRow {
	return HarvestRow{
		Tick:          r.Tick,
		Plot:          r.Plot,
		Owner:         string(r.Owner),
		Seed:          string(r.Seed),
		Outcome:       r.Outcome.String(),
		WaterAbsorbed: r.WaterAbsorbed,
		Product:       string(r.Product),
		Yield:         r.Yield,
	}
}

// WriteHarvestCSV writes records with a header line.
func WriteHarvestCSV(w io.Writer, records []farm.HarvestResult) error {
	rows := make([]HarvestRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, rowOf(r))
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing harvests: %w", err)
	}
	return nil
}

// OutcomeStats summarizes the harvests that ended one way.
type OutcomeStats struct {
	Outcome        string  `json:"outcome" csv:"outcome"`
	Count          int     `json:"count" csv:"count"`
	MeanAbsorbed   float64 `json:"mean_absorbed" csv:"mean_absorbed"`
	StdDevAbsorbed float64 `json:"stddev_absorbed" csv:"stddev_absorbed"`
	Yield          uint64  `json:"yield" csv:"yield"`
}

// Summarize groups records by outcome, in outcome order. Outcomes with no
// records are left out.
func Summarize(records []farm.HarvestResult) []OutcomeStats {
	absorbed := make(map[farm.Outcome][]float64)
	yield := make(map[farm.Outcome]uint64)
	for _, r := range records {
		absorbed[r.Outcome] = append(absorbed[r.Outcome], float64(r.WaterAbsorbed))
		yield[r.Outcome] += r.Yield
	}

	outcomes := make([]farm.Outcome, 0, len(absorbed))
	for o := range absorbed {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })

	out := make([]OutcomeStats, 0, len(outcomes))
	for _, o := range outcomes {
		xs := absorbed[o]
		s := OutcomeStats{Outcome: o.String(), Count: len(xs), Yield: yield[o]}
		if len(xs) > 1 {
			s.MeanAbsorbed, s.StdDevAbsorbed = stat.MeanStdDev(xs, nil)
		} else {
			s.MeanAbsorbed = xs[0]
		}
		out = append(out, s)
	}
	return out
}

// SeasonRow is one line of the per-season summary file.
type SeasonRow struct {
	Tick           uint64  `csv:"tick"`
	Season         string  `csv:"season"`
	Plants         int     `csv:"plants"`
	Harvests       int     `csv:"harvests"`
	Harvested      int     `csv:"harvested"`
	Overgrown      int     `csv:"overgrown"`
	NotEnoughWater int     `csv:"not_enough_water"`
	MeanAbsorbed   float64 `csv:"mean_absorbed"`
	StdDevAbsorbed float64 `csv:"stddev_absorbed"`
	Yield          uint64  `csv:"yield"`
}

// Season builds the summary of the harvests made during a season.
func Season(tick uint64, season string, plants int, records []farm.HarvestResult) SeasonRow {
	row := SeasonRow{Tick: tick, Season: season, Plants: plants, Harvests: len(records)}
	xs := make([]float64, 0, len(records))
	for _, r := range records {
		switch r.Outcome {
		case farm.OutcomeHarvested:
			row.Harvested++
		case farm.OutcomeOvergrown:
			row.Overgrown++
		case farm.OutcomeNotEnoughWater:
			row.NotEnoughWater++
		}
		row.Yield += r.Yield
		xs = append(xs, float64(r.WaterAbsorbed))
	}
	switch len(xs) {
	case 0:
	case 1:
		row.MeanAbsorbed = xs[0]
	default:
		row.MeanAbsorbed, row.StdDevAbsorbed = stat.MeanStdDev(xs, nil)
	}
	return row
}

// SeasonRecords returns the records harvested in [start, end).
func SeasonRecords(records []farm.HarvestResult, start, end uint64) []farm.HarvestResult {
	var out []farm.HarvestResult
	for _, r := range records {
		if r.Tick >= start && r.Tick < end {
			out = append(out, r)
		}
	}
	return out
}

// SeasonEnded summarizes the season that ended at tick, the first tick of
// the next one. Harvests made at tick itself count toward the new season.
func SeasonEnded(tick, seasonLength uint64, plants int, records []farm.HarvestResult) SeasonRow {
	var start uint64
	if tick > seasonLength {
		start = tick - seasonLength
	}
	var ended string
	if tick > 0 {
		ended = engine.SeasonName(engine.SeasonIndex(tick-1, seasonLength))
	}
	return Season(tick, ended, plants, SeasonRecords(records, start, tick))
}

// String formats the row for logs.
func (r SeasonRow) String() string {
	return fmt.Sprintf("%s: %d harvests (%d ok, %d overgrown, %d dry), %s yield, mean water %.1f",
		r.Season, r.Harvests, r.Harvested, r.Overgrown, r.NotEnoughWater,
		humanize.Comma(int64(r.Yield)), r.MeanAbsorbed)
}

// Output appends season summaries to seasons.csv in a directory.
type Output struct {
	dir           string
	seasonFile    *os.File
	headerWritten bool
}

// NewOutput creates dir and opens seasons.csv for appending.
// Returns nil if dir is empty (output disabled).
func NewOutput(dir string) (*Output, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, "seasons.csv")
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening seasons.csv: %w", err)
	}
	return &Output{
		dir:           dir,
		seasonFile:    f,
		headerWritten: statErr == nil && info.Size() > 0,
	}, nil
}

// WriteSeason appends one season summary.
func (o *Output) WriteSeason(row SeasonRow) error {
	if o == nil {
		return nil
	}
	rows := []SeasonRow{row}
	if !o.headerWritten {
		if err := gocsv.Marshal(rows, o.seasonFile); err != nil {
			return fmt.Errorf("writing season: %w", err)
		}
		o.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, o.seasonFile); err != nil {
		return fmt.Errorf("writing season: %w", err)
	}
	return nil
}

// Close closes the output file.
func (o *Output) Close() error {
	if o == nil {
		return nil
	}
	return o.seasonFile.Close()
}
