package molio

import (
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/atomfit/internal/pipeline"
)

// SummaryWriter appends one "name loss seconds" line per fitted molecule.
// It is safe for concurrent use.
type SummaryWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSummaryWriter writes summary lines to w.
func NewSummaryWriter(w io.Writer) *SummaryWriter {
	return &SummaryWriter{w: w}
}

// Write records res.
func (s *SummaryWriter) Write(res *pipeline.MoleculeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %g %g\n", res.Name, res.Loss, res.Elapsed.Seconds())
	return err
}
