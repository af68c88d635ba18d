// Package world provides the plot grid: linear plot ids over a fixed
// width × height rectangle and their four-way neighborhoods.
package world

import "fmt"

// PlotID is the linear index of a plot on the grid: y*width + x.
type PlotID uint64

// Coord is a plot position on the grid. Y grows "up", so the plot above
// (x, y) is (x, y+1) and has id + width.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NeighborDirections defines the four neighbor offsets in emission order:
// up, right, down, left.
var NeighborDirections = [4]Coord{
	{X: 0, Y: 1},
	{X: 1, Y: 0},
	{X: 0, Y: -1},
	{X: -1, Y: 0},
}

// Grid is a fixed rectangle of plots.
type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewGrid creates a grid of width × height plots.
func NewGrid(width, height int) Grid {
	return Grid{Width: width, Height: height}
}

// Size returns the number of plots on the grid.
func (g Grid) Size() uint64 {
	if g.Width <= 0 || g.Height <= 0 {
		return 0
	}
	return uint64(g.Width) * uint64(g.Height)
}

// Valid reports whether id addresses a plot on the grid.
func (g Grid) Valid(id PlotID) bool {
	return uint64(id) < g.Size()
}

// InBounds returns true if the coordinate lies within [0, width) × [0, height).
func (g Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < g.Width && c.Y >= 0 && c.Y < g.Height
}

// Coord returns the position of a plot. The id must be valid.
func (g Grid) Coord(id PlotID) Coord {
	return Coord{
		X: int(uint64(id) % uint64(g.Width)),
		Y: int(uint64(id) / uint64(g.Width)),
	}
}

// ID returns the plot id at the given coordinate. The coordinate must be in bounds.
func (g Grid) ID(c Coord) PlotID {
	return PlotID(uint64(c.Y)*uint64(g.Width) + uint64(c.X))
}

// Neighbors returns the in-bounds plots adjacent to id, ordered up, right,
// down, left. Corner plots have 2 neighbors, edge plots 3, interior plots 4.
func (g Grid) Neighbors(id PlotID) []PlotID {
	c := g.Coord(id)
	result := make([]PlotID, 0, len(NeighborDirections))
	for _, dir := range NeighborDirections {
		n := Coord{X: c.X + dir.X, Y: c.Y + dir.Y}
		if g.InBounds(n) {
			result = append(result, g.ID(n))
		}
	}
	return result
}

// Neighborhood returns the neighbors of id followed by id itself. This is the
// set of plots a plant on id draws from, in settlement order.
func (g Grid) Neighborhood(id PlotID) []PlotID {
	return append(g.Neighbors(id), id)
}

// View returns the (2r+1)² window of plot ids around center, row by row from
// the lowest y. The window is shifted to stay inside the grid, so a corner plot
// still gets a full window on grids at least 2r+1 wide and high.
func (g Grid) View(center PlotID, radius int) []PlotID {
	c := g.Coord(center)
	w := clampSpan(2*radius+1, g.Width)
	h := clampSpan(2*radius+1, g.Height)
	x0 := clampStart(c.X-radius, w, g.Width)
	y0 := clampStart(c.Y-radius, h, g.Height)

	ids := make([]PlotID, 0, w*h)
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			ids = append(ids, g.ID(Coord{X: x, Y: y}))
		}
	}
	return ids
}

func clampSpan(span, limit int) int {
	if span > limit {
		return limit
	}
	return span
}

func clampStart(start, span, limit int) int {
	if start < 0 {
		return 0
	}
	if start+span > limit {
		return limit - span
	}
	return start
}

// String returns a summary of the grid.
func (g Grid) String() string {
	return fmt.Sprintf("Grid(%dx%d, plots=%d)", g.Width, g.Height, g.Size())
}
