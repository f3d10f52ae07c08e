package density

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// DefaultRadiusMultiple is the kernel support in units of atomic radius.
	DefaultRadiusMultiple = 1.5

	// shoulderRoot is where the quadratic shoulder reaches zero, in units
	// of atomic radius. Past it the kernel stays at zero.
	shoulderRoot = 1.5

	// centerEps is the distance below which the gradient is taken as zero.
	centerEps = 1e-9
)

var ie2 = math.Exp(-2)

// Cutoff returns the distance at and beyond which an atom contributes no
// density.
func Cutoff(radius, radiusMultiple float64) float64 {
	return math.Min(radiusMultiple, shoulderRoot) * radius
}

// Radial evaluates the kernel at distance d from the atom center.
//
// Inside radius the kernel is a Gaussian of width h = radius/2. Between
// radius and the cutoff it is the quadratic e⁻²·(d/h − 3)², which matches
// the Gaussian in value and slope at d = radius and reaches zero at 3h.
func Radial(d, radius, radiusMultiple float64) float64 {
	if d >= Cutoff(radius, radiusMultiple) {
		return 0
	}
	h := 0.5 * radius
	if d <= radius {
		return math.Exp(-d * d / (2 * h * h))
	}
	q := d/h - 3
	return ie2 * q * q
}

// RadialDeriv is the derivative of Radial with respect to d.
func RadialDeriv(d, radius, radiusMultiple float64) float64 {
	if d >= Cutoff(radius, radiusMultiple) {
		return 0
	}
	h := 0.5 * radius
	if d <= radius {
		return -d / (h * h) * math.Exp(-d*d/(2*h*h))
	}
	return 2 * ie2 * (d/h - 3) / h
}

// Density returns the density at point p of an atom centered at atom.
func Density(atom r3.Vec, radius float64, p r3.Vec, radiusMultiple float64) float64 {
	return Radial(r3.Norm(r3.Sub(p, atom)), radius, radiusMultiple)
}

// Gradient returns the derivative of Density at p with respect to the atom
// position. It is zero when p coincides with the atom center.
func Gradient(atom r3.Vec, radius float64, p r3.Vec, radiusMultiple float64) r3.Vec {
	diff := r3.Sub(p, atom)
	d := r3.Norm(diff)
	if d < centerEps {
		return r3.Vec{}
	}
	dv := RadialDeriv(d, radius, radiusMultiple)
	if dv == 0 {
		return r3.Vec{}
	}
	// d(dist)/d(atom) = -(p - atom)/dist
	return r3.Scale(-dv/d, diff)
}
