// Package molio reads density grid bundles and writes fitted structures:
// SDF molfiles, OpenDX volumetric grids, pymol load scripts and the
// per-molecule summary lines of a batch run.
package molio
