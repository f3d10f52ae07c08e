package atoms

import "fmt"

// Channel is one atom type of a density grid tensor. Channels come from an
// external catalog and are looked up by index, aligned with the first axis
// of the grid tensor.
type Channel struct {
	Name         string  `json:"name"`
	AtomicNumber int     `json:"atomic_number"`
	Symbol       string  `json:"symbol"`
	Radius       float64 `json:"radius"`
	MaxBonds     int     `json:"max_bonds"`
}

// Validate reports whether the channel can be used for fitting.
func (c Channel) Validate() error {
	if c.Radius <= 0 {
		return fmt.Errorf("channel %q: radius must be positive, got %g", c.Name, c.Radius)
	}
	if c.MaxBonds < 0 {
		return fmt.Errorf("channel %q: max_bonds must be non-negative, got %d", c.Name, c.MaxBonds)
	}
	return nil
}

// Radii returns the atomic radius of every channel, scaled by factor.
func Radii(channels []Channel, factor float64) []float64 {
	out := make([]float64, len(channels))
	for i, c := range channels {
		out[i] = c.Radius * factor
	}
	return out
}
