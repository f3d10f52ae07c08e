// Package store persists fit runs in SQLite: one row per run, per fitted
// molecule, per atom, per bond and per accepted search step.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"github.com/banshee-data/atomfit/internal/timeutil"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Store is a SQLite-backed record of fit runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the database at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used for run timestamps.
func (s *Store) SetClock(c timeutil.Clock) {
	s.clock = c
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one invocation of the fitting pipeline.
type Run struct {
	RunID        string
	Source       string
	ConfigJSON   string
	CreatedAtNs  int64
	FinishedAtNs *int64
	NMolecules   int
}

// MoleculeRow is the stored summary of one fitted molecule.
type MoleculeRow struct {
	Name      string
	NAtoms    int
	Loss      float64
	FitLoss   float64
	ElapsedNs int64
}

// StepRow is one accepted search step. Channel is -1 for a joint search.
type StepRow struct {
	Channel    int
	Step       int
	NAtoms     int
	Loss       float64
	Iterations int
}

// StartRun records a new run over source with the given configuration and
// returns it with a fresh ID.
func (s *Store) StartRun(source string, configJSON []byte) (*Run, error) {
	run := &Run{
		RunID:       uuid.New().String(),
		Source:      source,
		ConfigJSON:  string(configJSON),
		CreatedAtNs: s.clock.Now().UnixNano(),
	}
	_, err := s.db.Exec(`
		INSERT INTO fit_runs (run_id, source, config_json, created_at_ns)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.Source, run.ConfigJSON, run.CreatedAtNs)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run as finished with its molecule count.
func (s *Store) FinishRun(runID string) error {
	res, err := s.db.Exec(`
		UPDATE fit_runs
		SET finished_at_ns = ?,
		    n_molecules = (SELECT COUNT(*) FROM fit_molecules WHERE run_id = ?)
		WHERE run_id = ?`,
		s.clock.Now().UnixNano(), runID, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns one run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, source, config_json, created_at_ns, finished_at_ns, n_molecules
		FROM fit_runs WHERE run_id = ?`, runID)
	var (
		run      Run
		finished sql.NullInt64
	)
	if err := row.Scan(&run.RunID, &run.Source, &run.ConfigJSON, &run.CreatedAtNs, &finished, &run.NMolecules); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	if finished.Valid {
		run.FinishedAtNs = &finished.Int64
	}
	return &run, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, source, config_json, created_at_ns, finished_at_ns, n_molecules
		FROM fit_runs ORDER BY created_at_ns DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var (
			run      Run
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.RunID, &run.Source, &run.ConfigJSON, &run.CreatedAtNs, &finished, &run.NMolecules); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			run.FinishedAtNs = &finished.Int64
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

// SaveMolecule stores the fitted structure and search steps of res under
// runID in one transaction.
func (s *Store) SaveMolecule(runID string, res *pipeline.MoleculeResult) (err error) {
	if err := res.Set.Check(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		INSERT INTO fit_molecules (run_id, name, n_atoms, loss, fit_loss, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, res.Name, res.Set.Len(), res.Loss, res.FitLoss, res.Elapsed.Nanoseconds())
	if err != nil {
		return fmt.Errorf("insert molecule %s: %w", res.Name, err)
	}

	atomStmt, err := tx.Prepare(`
		INSERT INTO fit_atoms (run_id, molecule, atom_index, channel, channel_name, element, x, y, z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare atom insert: %w", err)
	}
	defer atomStmt.Close()
	for i, p := range res.Set.Pos {
		c := res.Set.Channel[i]
		if c < 0 || c >= len(res.Channels) {
			return fmt.Errorf("atom %d has channel %d outside %d channels", i, c, len(res.Channels))
		}
		ch := res.Channels[c]
		if _, err = atomStmt.Exec(runID, res.Name, i, c, ch.Name, ch.Symbol, p.X, p.Y, p.Z); err != nil {
			return fmt.Errorf("insert atom %d: %w", i, err)
		}
	}

	for _, pr := range res.Set.Bonds.Pairs() {
		_, err = tx.Exec(`
			INSERT INTO fit_bonds (run_id, molecule, atom_i, atom_j, ideal_length)
			VALUES (?, ?, ?, ?, ?)`,
			runID, res.Name, pr.I, pr.J, pr.Ideal)
		if err != nil {
			return fmt.Errorf("insert bond %d-%d: %w", pr.I, pr.J, err)
		}
	}

	for _, sr := range res.Searches {
		for k, st := range sr.Steps {
			_, err = tx.Exec(`
				INSERT INTO fit_steps (run_id, molecule, channel, step, n_atoms, loss, iterations)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID, res.Name, sr.Channel, k, st.Atoms, st.Loss, st.Iterations)
			if err != nil {
				return fmt.Errorf("insert step %d: %w", k, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit molecule %s: %w", res.Name, err)
	}
	return nil
}

// Molecules returns the molecule summaries of a run in name order.
func (s *Store) Molecules(runID string) ([]MoleculeRow, error) {
	rows, err := s.db.Query(`
		SELECT name, n_atoms, loss, fit_loss, elapsed_ns
		FROM fit_molecules WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list molecules: %w", err)
	}
	defer rows.Close()

	var out []MoleculeRow
	for rows.Next() {
		var m MoleculeRow
		if err := rows.Scan(&m.Name, &m.NAtoms, &m.Loss, &m.FitLoss, &m.ElapsedNs); err != nil {
			return nil, fmt.Errorf("scan molecule: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Atoms rebuilds the stored atom set of one molecule, bonds included.
func (s *Store) Atoms(runID, molecule string) (*atoms.Set, error) {
	rows, err := s.db.Query(`
		SELECT channel, x, y, z FROM fit_atoms
		WHERE run_id = ? AND molecule = ? ORDER BY atom_index`, runID, molecule)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	set := atoms.NewSet()
	for rows.Next() {
		var (
			c int
			p r3.Vec
		)
		if err := rows.Scan(&c, &p.X, &p.Y, &p.Z); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		if _, err := set.Add(p, c, nil); err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	bonds, err := s.db.Query(`
		SELECT atom_i, atom_j, ideal_length FROM fit_bonds
		WHERE run_id = ? AND molecule = ?`, runID, molecule)
	if err != nil {
		return nil, fmt.Errorf("list bonds: %w", err)
	}
	defer bonds.Close()
	for bonds.Next() {
		var (
			i, j  int
			ideal float64
		)
		if err := bonds.Scan(&i, &j, &ideal); err != nil {
			return nil, fmt.Errorf("scan bond: %w", err)
		}
		if err := set.Bonds.Set(i, j, ideal); err != nil {
			return nil, err
		}
	}
	return set, bonds.Err()
}

// Steps returns the accepted search steps of one molecule ordered by
// channel then step.
func (s *Store) Steps(runID, molecule string) ([]StepRow, error) {
	rows, err := s.db.Query(`
		SELECT channel, step, n_atoms, loss, iterations FROM fit_steps
		WHERE run_id = ? AND molecule = ? ORDER BY channel, step`, runID, molecule)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []StepRow
	for rows.Next() {
		var st StepRow
		if err := rows.Scan(&st.Channel, &st.Step, &st.NAtoms, &st.Loss, &st.Iterations); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
