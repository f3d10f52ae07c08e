// Command atomfit fits atom structures to the density grids of a bundle
// and writes one summary line per molecule plus optional SDF, DX, plot and
// database outputs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/molio"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/report"
	"github.com/banshee-data/atomfit/internal/store"
	"github.com/banshee-data/atomfit/internal/version"
)

var (
	bundlePath  = flag.String("bundle", "", "JSON grid bundle to fit (required)")
	configPath  = flag.String("config", "", "Fitting config JSON (defaults built in when empty)")
	outPrefix   = flag.String("out", "atomfit", "Output file prefix")
	outputSDF   = flag.Bool("sdf", false, "Write fitted atoms as <out>_<name>_fit.sdf")
	outputDX    = flag.Bool("dx", false, "Write preprocessed grids as <out>_<name>_<channel>.dx")
	dbPath      = flag.String("db", "", "SQLite database to record the run in")
	outputPlots = flag.Bool("plots", false, "Write loss trajectory PNGs and an HTML report")
	parallel    = flag.Bool("parallel", false, "Fit the channels of a molecule concurrently")
	workers     = flag.Int("workers", 1, "Molecules fitted concurrently")
	verbose     = flag.Int("verbose", 0, "Verbosity level (overrides config when > 0)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// cliOptions is the parsed command line.
type cliOptions struct {
	Bundle   string
	Config   string
	Out      string
	SDF      bool
	DX       bool
	DB       string
	Plots    bool
	Parallel bool
	Workers  int
	Verbose  int
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *bundlePath == "" {
		log.Fatal("-bundle is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, fsutil.OSFileSystem{}, cliOptions{
		Bundle:   *bundlePath,
		Config:   *configPath,
		Out:      *outPrefix,
		SDF:      *outputSDF,
		DX:       *outputDX,
		DB:       *dbPath,
		Plots:    *outputPlots,
		Parallel: *parallel,
		Workers:  *workers,
		Verbose:  *verbose,
	})
	if err != nil {
		log.Fatalf("atomfit: %v", err)
	}
}

// loadConfig reads the config file, or the built-in defaults, and applies
// the command-line overrides.
func loadConfig(cli cliOptions) (*config.FittingConfig, error) {
	cfg := config.DefaultFittingConfig()
	if cli.Config != "" {
		loaded, err := config.LoadFittingConfig(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cli.Parallel {
		p := true
		cfg.Parallel = &p
	}
	if cli.Verbose > 0 {
		v := cli.Verbose
		cfg.Verbose = &v
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, fs fsutil.FileSystem, cli cliOptions) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	bundle, err := molio.OpenBundle(fs, cli.Bundle)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cli.Out); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	monitoring.Logf("[atomfit] %s: fitting %d molecules over %d channels", cli.Bundle, bundle.Len(), len(bundle.Channels()))
	results, err := pipeline.NewRunner(opts).RunBatch(ctx, bundle, cli.Workers)
	if err != nil {
		return err
	}

	summaryPath := cli.Out + ".fit_output"
	f, err := fs.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", summaryPath, err)
	}
	summary := molio.NewSummaryWriter(f)
	files := &molio.Writer{FS: fs, Prefix: cli.Out, SDF: cli.SDF, DX: cli.DX}
	for _, res := range results {
		if err := summary.Write(res); err != nil {
			f.Close()
			return err
		}
		if _, err := files.Write(res); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", summaryPath, err)
	}

	if cli.Plots {
		if _, err := (&report.Writer{FS: fs, Prefix: cli.Out}).Write(results); err != nil {
			return err
		}
	}
	if cli.DB != "" {
		if err := record(cli.DB, cli.Bundle, cfg, results); err != nil {
			return err
		}
	}
	return nil
}

// record stores the whole batch as one run.
func record(path, source string, cfg *config.FittingConfig, results []*pipeline.MoleculeResult) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.StartRun(source, cfgJSON)
	if err != nil {
		return err
	}
	for _, res := range results {
		if err := s.SaveMolecule(r.RunID, res); err != nil {
			return err
		}
	}
	if err := s.FinishRun(r.RunID); err != nil {
		return err
	}
	monitoring.Logf("[store] recorded run %s with %d molecules in %s", r.RunID, len(results), path)
	return nil
}
