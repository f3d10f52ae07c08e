package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/molio"
	"github.com/banshee-data/atomfit/internal/store"
	"github.com/banshee-data/atomfit/internal/testutil"
	"gonum.org/v1/gonum/spatial/r3"
)

func writeBundle(t *testing.T, dir string) string {
	t.Helper()
	g := testutil.BlobGrid(t, 12, 0.5, 1.0, r3.Vec{X: 0.1, Y: -0.2, Z: 0.15})
	file := molio.BundleFile{
		Resolution: 0.5,
		Channels:   []atoms.Channel{{Name: "C", AtomicNumber: 6, Symbol: "C", Radius: 1.0, MaxBonds: 4}},
		Molecules: []molio.BundleMolecule{
			{Name: "blob", Shape: g.Shape, Grids: [][]float64{g.Values}},
			{Name: "empty", Shape: g.Shape, Grids: [][]float64{make([]float64, g.Len())}},
		},
	}
	data, err := json.Marshal(file)
	testutil.AssertNoError(t, err)
	path := filepath.Join(dir, "grids.json")
	testutil.AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFlagDefaults(t *testing.T) {
	if *outPrefix != "atomfit" {
		t.Errorf("expected -out default atomfit, got %q", *outPrefix)
	}
	if *workers != 1 {
		t.Errorf("expected -workers default 1, got %d", *workers)
	}
	if *bundlePath != "" || *configPath != "" || *dbPath != "" {
		t.Error("expected empty path defaults")
	}
}

func TestRun_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "run")
	cfgPath := filepath.Join(dir, "fitting.json")
	testutil.AssertNoError(t, os.WriteFile(cfgPath, []byte(`{"greedy": true, "max_iter": 100}`), 0o644))
	cli := cliOptions{
		Bundle:  writeBundle(t, dir),
		Config:  cfgPath,
		Out:     out,
		SDF:     true,
		DX:      true,
		DB:      filepath.Join(dir, "fits.db"),
		Plots:   true,
		Workers: 2,
	}
	testutil.AssertNoError(t, run(context.Background(), fsutil.OSFileSystem{}, cli))

	summary, err := os.ReadFile(out + ".fit_output")
	testutil.AssertNoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(summary)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 summary lines, got %q", summary)
	}
	if !strings.HasPrefix(lines[0], "blob ") || !strings.HasPrefix(lines[1], "empty 0 ") {
		t.Errorf("unexpected summary lines %q", lines)
	}

	for _, name := range []string{
		"run_blob_fit.sdf", "run_blob_C.dx", "run_blob.pymol",
		"run_empty_fit.sdf", "run_blob_loss.png", "run_report.html",
	} {
		if _, err := os.Stat(filepath.Join(dir, "out", name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	s, err := store.Open(cli.DB)
	testutil.AssertNoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns()
	testutil.AssertNoError(t, err)
	if len(runs) != 1 || runs[0].NMolecules != 2 {
		t.Fatalf("expected one run with 2 molecules, got %+v", runs)
	}
	set, err := s.Atoms(runs[0].RunID, "blob")
	testutil.AssertNoError(t, err)
	if set.Len() != 1 {
		t.Errorf("expected 1 stored atom, got %d", set.Len())
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	bundle := writeBundle(t, dir)
	badConfig := filepath.Join(dir, "bad.json")
	testutil.AssertNoError(t, os.WriteFile(badConfig, []byte(`{"fit_mode":"sgd"}`), 0o644))

	cases := map[string]cliOptions{
		"missing bundle": {Bundle: filepath.Join(dir, "nope.json"), Out: filepath.Join(dir, "x")},
		"bad config":     {Bundle: bundle, Config: badConfig, Out: filepath.Join(dir, "x")},
		"missing config": {Bundle: bundle, Config: filepath.Join(dir, "nope.json"), Out: filepath.Join(dir, "x")},
	}
	for name, cli := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertError(t, run(context.Background(), fsutil.OSFileSystem{}, cli))
		})
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	cfg, err := loadConfig(cliOptions{Parallel: true, Verbose: 2})
	testutil.AssertNoError(t, err)
	if !cfg.GetParallel() {
		t.Error("expected -parallel to enable parallel fitting")
	}
	if cfg.GetVerbose() != 2 {
		t.Errorf("expected verbose 2, got %d", cfg.GetVerbose())
	}

	cfg, err = loadConfig(cliOptions{})
	testutil.AssertNoError(t, err)
	if cfg.GetParallel() || cfg.GetVerbose() != 0 {
		t.Error("expected config defaults without overrides")
	}
}
