package world

import (
	"reflect"
	"testing"
)

func TestGridNeighbors(t *testing.T) {
	g := NewGrid(1000, 1000)

	tests := []struct {
		name string
		id   PlotID
		want []PlotID
	}{
		{"bottom-left corner", 0, []PlotID{1000, 1}},
		{"bottom edge", 1, []PlotID{1001, 2, 0}},
		{"interior", 1001, []PlotID{2001, 1002, 1, 1000}},
		{"left edge", 1000, []PlotID{2000, 1001, 0}},
		{"top-right corner", 999999, []PlotID{998999, 999998}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Neighbors(tt.id)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Neighbors(%d) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestGridNeighborCounts(t *testing.T) {
	g := NewGrid(3, 3)
	counts := map[PlotID]int{0: 2, 1: 3, 2: 2, 3: 3, 4: 4, 5: 3, 6: 2, 7: 3, 8: 2}
	for id, want := range counts {
		if got := len(g.Neighbors(id)); got != want {
			t.Errorf("len(Neighbors(%d)) = %d, want %d", id, got, want)
		}
	}
}

func TestGridSinglePlot(t *testing.T) {
	g := NewGrid(1, 1)
	if n := g.Neighbors(0); len(n) != 0 {
		t.Fatalf("single plot grid has neighbors %v", n)
	}
	if got := g.Neighborhood(0); !reflect.DeepEqual(got, []PlotID{0}) {
		t.Fatalf("Neighborhood(0) = %v, want [0]", got)
	}
}

func TestGridNeighborhoodHomeLast(t *testing.T) {
	g := NewGrid(1000, 1000)
	got := g.Neighborhood(0)
	want := []PlotID{1000, 1, 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Neighborhood(0) = %v, want %v", got, want)
	}
}

func TestGridValidAndCoord(t *testing.T) {
	g := NewGrid(1000, 1000)
	if !g.Valid(999999) {
		t.Fatal("last plot should be valid")
	}
	if g.Valid(1000000) {
		t.Fatal("plot past the grid should be invalid")
	}
	c := g.Coord(2001)
	if c != (Coord{X: 1, Y: 2}) {
		t.Fatalf("Coord(2001) = %+v", c)
	}
	if id := g.ID(c); id != 2001 {
		t.Fatalf("ID(%+v) = %d, want 2001", c, id)
	}
}

func TestGridView(t *testing.T) {
	g := NewGrid(1000, 1000)

	view := g.View(0, 3)
	if len(view) != 49 {
		t.Fatalf("len(View(0, 3)) = %d, want 49", len(view))
	}
	if view[0] != 0 || view[6] != 6 || view[48] != 6006 {
		t.Fatalf("corner view shifted wrong: first=%d row-end=%d last=%d", view[0], view[6], view[48])
	}

	centered := g.View(g.ID(Coord{X: 10, Y: 10}), 1)
	want := []PlotID{9009, 9010, 9011, 10009, 10010, 10011, 11009, 11010, 11011}
	if !reflect.DeepEqual(centered, want) {
		t.Fatalf("View = %v, want %v", centered, want)
	}

	small := NewGrid(2, 2).View(3, 3)
	if len(small) != 4 {
		t.Fatalf("view on 2x2 grid = %v, want all 4 plots", small)
	}
}
