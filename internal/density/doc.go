// Package density implements the closed-form atom density kernel used to
// render atoms onto grids, its analytic gradient, and the Morse-like bond
// energy model used as a bonding penalty and acceptance test.
//
// All functions are pure and safe for concurrent use.
package density
