// Package grid owns the voxel grid representation of one density channel,
// the read-only point-cloud view the fitters work on, and the Wiener
// deconvolution filter that sharpens rendered density back toward atom
// centers.
//
// Voxel order is row-major over the three axes everywhere: index
// i·ny·nz + j·nz + k in a flat slice is voxel (i, j, k), and point i of a
// Cloud is the world position of flat index i.
package grid
