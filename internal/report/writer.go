package report

import (
	"fmt"
	"io"

	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/security"
)

// Writer writes <prefix>_<name>_loss.png per molecule and
// <prefix>_report.html for the batch.
type Writer struct {
	FS     fsutil.FileSystem
	Prefix string
}

// Write renders every report for results and returns the written paths.
func (w *Writer) Write(results []*pipeline.MoleculeResult) ([]string, error) {
	var paths []string
	for _, res := range results {
		path := fmt.Sprintf("%s_%s_loss.png", w.Prefix, security.SanitizeFilename(res.Name))
		if err := w.create(path, func(f io.Writer) error { return WritePNG(f, res) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	path := w.Prefix + "_report.html"
	if err := w.create(path, func(f io.Writer) error { return WriteHTML(f, results) }); err != nil {
		return paths, err
	}
	return append(paths, path), nil
}

func (w *Writer) create(path string, render func(io.Writer) error) error {
	f, err := w.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
