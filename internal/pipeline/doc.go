// Package pipeline fits atoms to the density grids of whole molecules.
//
// A Runner takes a Molecule (channel catalog plus one grid per channel),
// applies the configured grid preprocessing, runs either one greedy search
// per channel or a single bonded search across channels, optionally
// fine-tunes all atoms against the channel-summed density and reports the
// final L2 loss. RunBatch drives a Runner over every molecule a Generator
// yields.
package pipeline
