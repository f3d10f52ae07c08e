// Package search grows an atom set one candidate at a time. A Searcher
// alternates between a fit.Fitter and a candidate generator until adding an
// atom no longer lowers the loss or no candidate point remains.
//
// Candidates come from one of two generators. A Stream walks the points of
// one channel in decreasing density order and skips points too close to
// those already taken. A BondedProposer only places atoms within bonding
// distance of an existing atom that still has free valence, and records the
// bonds it forms.
package search
