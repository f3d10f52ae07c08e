package search

import (
	"math"
	"sort"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/density"
	"gonum.org/v1/gonum/spatial/r3"
)

// Candidate is a proposed new atom.
type Candidate struct {
	Pos     r3.Vec
	Channel int
	Density float64

	// Bonds lists the existing atoms the candidate bonds to. Empty outside
	// bonded mode.
	Bonds []atoms.Bond
}

// rankDesc returns point indices ordered by decreasing value. Ties keep
// point order.
func rankDesc(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})
	return order
}

// Stream yields the highest-density points of one channel that lie
// strictly between minSep and maxSep of every point already yielded or
// seeded. It is single-pass: points passed over are never revisited.
type Stream struct {
	channel int
	points  []r3.Vec
	values  []float64
	order   []int
	cursor  int

	accepted []r3.Vec
	minSep2  float64
	maxSep2  float64
}

// NewStream ranks points by values. A maxSep of +Inf leaves the upper bound
// open.
func NewStream(channel int, points []r3.Vec, values []float64, minSep, maxSep float64) *Stream {
	s := &Stream{
		channel: channel,
		points:  points,
		values:  values,
		order:   rankDesc(values),
		minSep2: minSep * minSep,
		maxSep2: math.Inf(1),
	}
	if !math.IsInf(maxSep, 1) {
		s.maxSep2 = maxSep * maxSep
	}
	return s
}

// NewChannelStream returns a stream using the minimum separation of an
// atom with the given radius and no upper bound.
func NewChannelStream(channel int, points []r3.Vec, values []float64, radius float64) *Stream {
	return NewStream(channel, points, values, density.MinSeparation(radius), math.Inf(1))
}

// Seed marks positions as already taken, typically atoms placed earlier.
func (s *Stream) Seed(pos ...r3.Vec) {
	s.accepted = append(s.accepted, pos...)
}

// Next returns the next acceptable point, or false once the points are
// exhausted.
func (s *Stream) Next() (Candidate, bool) {
	for s.cursor < len(s.order) {
		idx := s.order[s.cursor]
		s.cursor++
		p := s.points[idx]
		if !s.separated(p) {
			continue
		}
		s.accepted = append(s.accepted, p)
		return Candidate{Pos: p, Channel: s.channel, Density: s.values[idx]}, true
	}
	return Candidate{}, false
}

func (s *Stream) separated(p r3.Vec) bool {
	for _, q := range s.accepted {
		d2 := r3.Norm2(r3.Sub(p, q))
		if d2 <= s.minSep2 || d2 >= s.maxSep2 {
			return false
		}
	}
	return true
}

// BondedProposer proposes atoms that bond to the current set. Channel
// radii here are the raw atomic radii used for bond bookkeeping.
type BondedProposer struct {
	channels []atoms.Channel
	points   []r3.Vec
	values   [][]float64
	order    [][]int
	maxE     float64
}

// NewBondedProposer ranks the proposal density of every channel. values is
// indexed by channel and aligned with points.
func NewBondedProposer(channels []atoms.Channel, points []r3.Vec, values [][]float64, maxInitBondE float64) *BondedProposer {
	b := &BondedProposer{
		channels: channels,
		points:   points,
		values:   values,
		order:    make([][]int, len(values)),
		maxE:     maxInitBondE,
	}
	for c, v := range values {
		b.order[c] = rankDesc(v)
	}
	return b
}

// Window returns the acceptable bond distance range between atoms of
// channels a and b.
func (b *BondedProposer) Window(a, c int) (lo, hi float64) {
	ideal := density.IdealBondLength(b.channels[a].Radius, b.channels[c].Radius)
	return density.BondWindow(ideal, b.maxE)
}

// Propose returns the highest-density (point, channel) pair that bonds to
// set. A qualifying point is farther than both the bond window minimum and
// the channel's minimum separation from every atom, and inside the window
// of at least one atom with free valence. Every such neighbour becomes a
// bond, nearest first, up to the new channel's MaxBonds. An empty set gets
// the global density maximum with no bonds.
func (b *BondedProposer) Propose(set *atoms.Set) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for c := range b.values {
		if set.Len() > 0 && b.channels[c].MaxBonds <= 0 {
			continue
		}
		for _, idx := range b.order[c] {
			v := b.values[c][idx]
			if found && v <= best.Density {
				break
			}
			if set.Len() == 0 {
				best, found = Candidate{Pos: b.points[idx], Channel: c, Density: v}, true
				break
			}
			bonds, ok := b.bondsFor(set, b.points[idx], c)
			if !ok {
				continue
			}
			best, found = Candidate{Pos: b.points[idx], Channel: c, Density: v, Bonds: bonds}, true
			break
		}
	}
	return best, found
}

type neighbour struct {
	bond atoms.Bond
	dist float64
}

func (b *BondedProposer) bondsFor(set *atoms.Set, p r3.Vec, c int) ([]atoms.Bond, bool) {
	minSep := density.MinSeparation(b.channels[c].Radius)
	var eligible []neighbour
	for j, q := range set.Pos {
		cj := set.Channel[j]
		d := r3.Norm(r3.Sub(p, q))
		lo, hi := b.Window(c, cj)
		if d <= lo || d <= minSep {
			return nil, false
		}
		if d >= hi || set.Bonds.Degree(j) >= b.channels[cj].MaxBonds {
			continue
		}
		ideal := density.IdealBondLength(b.channels[c].Radius, b.channels[cj].Radius)
		eligible = append(eligible, neighbour{bond: atoms.Bond{To: j, Ideal: ideal}, dist: d})
	}
	if len(eligible) == 0 {
		return nil, false
	}
	sort.SliceStable(eligible, func(x, y int) bool { return eligible[x].dist < eligible[y].dist })
	if limit := b.channels[c].MaxBonds; len(eligible) > limit {
		eligible = eligible[:limit]
	}
	bonds := make([]atoms.Bond, len(eligible))
	for i, n := range eligible {
		bonds[i] = n.bond
	}
	return bonds, true
}
