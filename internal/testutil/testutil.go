// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"testing"

	"github.com/banshee-data/atomfit/internal/density"
	"github.com/banshee-data/atomfit/internal/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// BlobGrid renders one atom of the given radius at each center into an n³
// grid with resolution res centered on the origin, using the default
// radius multiple.
func BlobGrid(t *testing.T, n int, res, radius float64, centers ...r3.Vec) *grid.Grid {
	t.Helper()
	g := grid.New([3]int{n, n, n}, r3.Vec{}, res)
	cloud := g.Cloud()
	cutoff := density.Cutoff(radius, density.DefaultRadiusMultiple)
	for _, c := range centers {
		cloud.Within(c, cutoff, func(i int) {
			g.Values[i] += density.Density(c, radius, cloud.Points[i], density.DefaultRadiusMultiple)
		})
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("invalid blob grid: %v", err)
	}
	return g
}
