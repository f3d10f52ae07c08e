package molio

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/security"
)

// Writer writes the per-molecule output files under a common prefix:
// <prefix>_<name>_<channel>.dx, <prefix>_<name>_fit.sdf and
// <prefix>_<name>.pymol. Molecule and channel names are sanitized into
// single path components.
type Writer struct {
	FS     fsutil.FileSystem
	Prefix string
	SDF    bool
	DX     bool
}

// Files lists what Write produced for one molecule.
type Files struct {
	DX    []string
	SDF   string
	Pymol string
}

// Write writes the enabled outputs of res and always a pymol script that
// loads them.
func (w *Writer) Write(res *pipeline.MoleculeResult) (Files, error) {
	var out Files
	if dir := filepath.Dir(w.Prefix); dir != "." {
		if err := w.FS.MkdirAll(dir, 0o755); err != nil {
			return out, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	prefix := fmt.Sprintf("%s_%s", w.Prefix, security.SanitizeFilename(res.Name))

	if w.DX {
		for c, g := range res.Grids {
			path := fmt.Sprintf("%s_%s.dx", prefix, security.SanitizeFilename(res.Channels[c].Name))
			if err := w.create(path, func(f io.Writer) error { return WriteDX(f, g) }); err != nil {
				return out, err
			}
			out.DX = append(out.DX, path)
		}
	}
	if w.SDF {
		path := prefix + "_fit.sdf"
		err := w.create(path, func(f io.Writer) error { return WriteSDF(f, res.Name, res.Set, res.Channels) })
		if err != nil {
			return out, err
		}
		out.SDF = path
	}

	out.Pymol = prefix + ".pymol"
	err := w.create(out.Pymol, func(f io.Writer) error { return WritePymol(f, out.Pymol, out.DX, out.SDF) })
	return out, err
}

func (w *Writer) create(path string, write func(io.Writer) error) error {
	if err := security.ValidateWithinDirectory(path, filepath.Dir(w.Prefix)); err != nil {
		return err
	}
	f, err := w.FS.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
