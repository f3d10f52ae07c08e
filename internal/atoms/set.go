package atoms

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Set is the working atom set of one fit: positions, channel labels and the
// bond matrix, always the same length.
type Set struct {
	Pos     []r3.Vec
	Channel []int
	Bonds   *Bonds
}

// Bond is a bond to an existing atom recorded when a new atom is added.
type Bond struct {
	To    int
	Ideal float64
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{Bonds: NewBonds(0)}
}

// Len returns the number of atoms.
func (s *Set) Len() int {
	return len(s.Pos)
}

// Add appends an atom bonded to the given existing atoms and returns its index.
func (s *Set) Add(pos r3.Vec, channel int, bonds []Bond) (int, error) {
	idx := s.Len()
	s.Pos = append(s.Pos, pos)
	s.Channel = append(s.Channel, channel)
	s.Bonds.Grow()
	for _, b := range bonds {
		if err := s.Bonds.Set(idx, b.To, b.Ideal); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	return &Set{
		Pos:     append([]r3.Vec(nil), s.Pos...),
		Channel: append([]int(nil), s.Channel...),
		Bonds:   s.Bonds.Clone(),
	}
}

// WithPositions returns a copy of s whose positions are replaced by pos.
func (s *Set) WithPositions(pos []r3.Vec) *Set {
	out := s.Clone()
	copy(out.Pos, pos)
	return out
}

// Check verifies the length invariant between positions, labels and bonds.
func (s *Set) Check() error {
	if len(s.Channel) != len(s.Pos) || s.Bonds.Len() != len(s.Pos) {
		return fmt.Errorf("atom set out of sync: %d positions, %d labels, %d×%d bonds",
			len(s.Pos), len(s.Channel), s.Bonds.Len(), s.Bonds.Len())
	}
	return nil
}

// Count returns the number of atoms per channel for n channels.
func (s *Set) Count(n int) []int {
	out := make([]int, n)
	for _, c := range s.Channel {
		if c >= 0 && c < n {
			out[c]++
		}
	}
	return out
}

// Concat joins sets into one, offsetting bond indices. Bonds never cross
// the original set boundaries.
func Concat(sets ...*Set) *Set {
	out := NewSet()
	for _, s := range sets {
		if s == nil {
			continue
		}
		base := out.Len()
		for i := range s.Pos {
			out.Pos = append(out.Pos, s.Pos[i])
			out.Channel = append(out.Channel, s.Channel[i])
			out.Bonds.Grow()
		}
		for _, p := range s.Bonds.Pairs() {
			// indices are fresh, so Set cannot fail
			_ = out.Bonds.Set(base+p.I, base+p.J, p.Ideal)
		}
	}
	return out
}
