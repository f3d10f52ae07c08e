package density

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// BondLengthK scales the mean atomic radius of two atoms into their ideal
// bond length. The same constant sets the minimum separation between
// candidate atoms of one channel.
const BondLengthK = 0.8

// IdealBondLength returns the ideal bond length between atoms of radius r1
// and r2.
func IdealBondLength(r1, r2 float64) float64 {
	return BondLengthK * (r1 + r2) / 2
}

// MinSeparation is the minimum distance between two candidate atoms of a
// channel with the given radius.
func MinSeparation(radius float64) float64 {
	return BondLengthK * radius
}

// BondEnergy is weight·(1 − e^(ideal−d))², minimal at d = ideal and
// approaching weight as d grows.
func BondEnergy(d, ideal, weight float64) float64 {
	q := 1 - math.Exp(ideal-d)
	return weight * q * q
}

// BondEnergyDeriv is the derivative of BondEnergy with respect to d.
func BondEnergyDeriv(d, ideal, weight float64) float64 {
	e := math.Exp(ideal - d)
	return 2 * weight * (1 - e) * e
}

// BondGradient returns the gradient of BondEnergy(|a−b|) with respect to a.
// The gradient with respect to b is its negation.
func BondGradient(a, b r3.Vec, ideal, weight float64) r3.Vec {
	diff := r3.Sub(a, b)
	d := r3.Norm(diff)
	if d < centerEps {
		return r3.Vec{}
	}
	return r3.Scale(BondEnergyDeriv(d, ideal, weight)/d, diff)
}

// BondWindow returns the distance range over which the unit-weight bond
// energy stays at or below maxEnergy. max is +Inf when maxEnergy ≥ 1,
// because the energy never exceeds 1 as the atoms separate.
func BondWindow(ideal, maxEnergy float64) (lo, hi float64) {
	if maxEnergy <= 0 {
		return ideal, ideal
	}
	s := math.Sqrt(maxEnergy)
	lo = math.Max(0, ideal-math.Log1p(s))
	if s >= 1 {
		return lo, math.Inf(1)
	}
	return lo, ideal - math.Log1p(-s)
}
