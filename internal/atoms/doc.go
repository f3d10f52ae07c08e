// Package atoms holds the discrete side of a fit: channel (atom type)
// records, the growing atom set that a search owns, and the bond adjacency
// matrix over that set.
//
// Atoms are addressed by stable integer index. Bonds are symmetric index
// pairs stored in a dense matrix, never pointers between atoms.
package atoms
