// Package fit refines the positions of a fixed atom set against target
// density. Two strategies share the Fitter interface: GradientDescent
// minimises the L2 reconstruction loss plus a bond energy penalty, and GMM
// treats density-weighted points as draws from a Gaussian mixture and runs
// Expectation-Maximization.
//
// Neither fitter fails on non-convergence; MaxIter bounds the work and the
// returned loss reflects the quality of the fit.
package fit
