// Package scenario seeds a demo farm: noise-scored plot selection, a farmer
// spawner, and a tender that plants and harvests on the farmers' behalf.
package scenario

import (
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/mini-farm/internal/world"
)

// Fertility scores plots with layered simplex noise. Scores are in [0, 1).
type Fertility struct {
	noise       opensimplex.Noise
	Frequency   float64
	Octaves     int
	Persistence float64
}

// NewFertility creates a fertility map for seed.
func NewFertility(seed int64) *Fertility {
	return &Fertility{
		noise:       opensimplex.NewNormalized(seed),
		Frequency:   0.02,
		Octaves:     4,
		Persistence: 0.5,
	}
}

// Score returns the fertility of plot.
func (fm *Fertility) Score(g world.Grid, plot world.PlotID) float64 {
	c := g.Coord(plot)
	return octaveNoise(fm.noise, float64(c.X), float64(c.Y), fm.Octaves, fm.Frequency, fm.Persistence)
}

// octaveNoise samples multi-octave noise, normalized back to the base range.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// PickPlots samples candidate plots and returns the n most fertile ones for
// which free reports true, best first.
func (fm *Fertility) PickPlots(g world.Grid, rng *rand.Rand, n int, free func(world.PlotID) bool) []world.PlotID {
	size := g.Size()
	if n <= 0 || size == 0 {
		return nil
	}

	type candidate struct {
		plot  world.PlotID
		score float64
	}
	samples := n * 16
	seen := make(map[world.PlotID]bool, samples)
	var cands []candidate
	for i := 0; i < samples; i++ {
		id := world.PlotID(rng.Int63n(int64(size)))
		if seen[id] || !free(id) {
			continue
		}
		seen[id] = true
		cands = append(cands, candidate{plot: id, score: fm.Score(g, id)})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].plot < cands[j].plot
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]world.PlotID, len(cands))
	for i, c := range cands {
		out[i] = c.plot
	}
	return out
}
