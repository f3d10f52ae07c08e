package atoms

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Bonds is the symmetric bond adjacency matrix over an atom set. A non-zero
// entry is the ideal bond length recorded when the bond was created; zero
// means no bond. The diagonal is always zero.
type Bonds struct {
	m      *mat.SymDense
	degree []int
}

// Pair is one bond between atoms I < J.
type Pair struct {
	I, J  int
	Ideal float64
}

// NewBonds returns an n×n matrix with no bonds.
func NewBonds(n int) *Bonds {
	b := &Bonds{}
	for i := 0; i < n; i++ {
		b.Grow()
	}
	return b
}

// Len returns the matrix dimension.
func (b *Bonds) Len() int {
	return len(b.degree)
}

// Grow adds one row and column with no bonds.
func (b *Bonds) Grow() {
	if b.m == nil {
		b.m = mat.NewSymDense(1, nil)
	} else {
		b.m = b.m.GrowSym(1).(*mat.SymDense)
	}
	b.degree = append(b.degree, 0)
}

// Set records a bond between i and j with the given ideal length.
func (b *Bonds) Set(i, j int, ideal float64) error {
	n := b.Len()
	if i < 0 || j < 0 || i >= n || j >= n {
		return fmt.Errorf("bond (%d,%d) out of range for %d atoms", i, j, n)
	}
	if i == j {
		return fmt.Errorf("atom %d cannot bond to itself", i)
	}
	if ideal <= 0 {
		return fmt.Errorf("bond (%d,%d): ideal length must be positive, got %g", i, j, ideal)
	}
	if b.m.At(i, j) == 0 {
		b.degree[i]++
		b.degree[j]++
	}
	b.m.SetSym(i, j, ideal)
	return nil
}

// Bonded reports whether i and j share a bond.
func (b *Bonds) Bonded(i, j int) bool {
	if b.m == nil || i == j {
		return false
	}
	return b.m.At(i, j) != 0
}

// Degree returns the number of bonds on atom i.
func (b *Bonds) Degree(i int) int {
	return b.degree[i]
}

// Pairs lists every bond once with I < J.
func (b *Bonds) Pairs() []Pair {
	var out []Pair
	n := b.Len()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if v := b.m.At(i, j); v != 0 {
				out = append(out, Pair{I: i, J: j, Ideal: v})
			}
		}
	}
	return out
}

// Clone returns an independent copy.
func (b *Bonds) Clone() *Bonds {
	out := &Bonds{degree: append([]int(nil), b.degree...)}
	if b.m != nil {
		out.m = mat.NewSymDense(b.Len(), nil)
		out.m.CopySym(b.m)
	}
	return out
}
