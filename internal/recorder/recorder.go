// Package recorder persists runs and their per-step pose samples.
//
// Two backends share one schema: SQLite (the default, a local file) and
// PostgreSQL for a shared results database.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/vrepper/internal/driver"
	"github.com/psantana5/vrepper/internal/remoteapi"
)

var (
	ErrRunNotFound = errors.New("recorder: run not found")
	ErrRunFinished = errors.New("recorder: run already finished")
	ErrUnknownType = errors.New("recorder: unknown store type")
)

// Config selects the backend.
type Config struct {
	// Type is "sqlite" (default) or "postgres".
	Type string `mapstructure:"type" yaml:"type"`
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// Run is one recorded driver run.
type Run struct {
	ID        string
	Port      int
	Scene     string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
	ExitCode  int
	Steps     int
}

// Finished reports whether FinishRun was called.
func (r *Run) Finished() bool { return !r.EndedAt.IsZero() }

// Store writes runs and samples.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	port INTEGER NOT NULL,
	scene TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	exit_code INTEGER NOT NULL DEFAULT -1,
	steps INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS samples (
	run_id TEXT NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	object TEXT NOT NULL,
	handle INTEGER NOT NULL,
	px REAL NOT NULL,
	py REAL NOT NULL,
	pz REAL NOT NULL,
	alpha REAL NOT NULL,
	beta REAL NOT NULL,
	gamma REAL NOT NULL,
	elapsed_ns BIGINT NOT NULL,
	PRIMARY KEY (run_id, step, object)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Open connects to the store and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		name string
		dsn  = cfg.DSN
	)
	switch cfg.Type {
	case "", "sqlite", "sqlite3":
		name = "sqlite3"
		if dsn == "" {
			return nil, fmt.Errorf("recorder: sqlite path is required")
		}
		// WAL plus a busy timeout so the status server can read while a run writes
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL"
		}
	case "postgres", "postgresql":
		name = "postgres"
		if dsn == "" {
			return nil, fmt.Errorf("recorder: PostgreSQL DSN is required")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if name == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: name}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BeginRun inserts a new run and returns its id.
func (s *Store) BeginRun(ctx context.Context, port int, scene string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Port:      port,
		Scene:     scene,
		StartedAt: time.Now().UTC(),
		ExitCode:  -1,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (id, port, scene, started_at, exit_code, steps)
		VALUES (?, ?, ?, ?, ?, 0)
	`), run.ID, run.Port, run.Scene, run.StartedAt, run.ExitCode)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// RecordSample stores one sample of runID.
func (s *Store) RecordSample(ctx context.Context, runID string, smp driver.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO samples (run_id, step, object, handle, px, py, pz, alpha, beta, gamma, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), runID, smp.Step, smp.Object, int32(smp.Handle),
		float64(smp.Position[0]), float64(smp.Position[1]), float64(smp.Position[2]),
		float64(smp.Orientation[0]), float64(smp.Orientation[1]), float64(smp.Orientation[2]),
		smp.Elapsed.Nanoseconds())
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// Sink adapts RecordSample for driver.WithSampleFunc.
func (s *Store) Sink(runID string) driver.SampleFunc {
	return func(ctx context.Context, smp driver.Sample) error {
		return s.RecordSample(ctx, runID, smp)
	}
}

// FinishRun sets the end time, exit code and step count of a run.
// A run can be finished once.
func (s *Store) FinishRun(ctx context.Context, runID string, exitCode, steps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE runs SET ended_at = ?, exit_code = ?, steps = ?
		WHERE id = ? AND ended_at IS NULL
	`), time.Now().UTC(), exitCode, steps, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.getRun(ctx, runID); err != nil {
			return err
		}
		return ErrRunFinished
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRun(ctx, runID)
}

func (s *Store) getRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, port, scene, started_at, ended_at, exit_code, steps
		FROM runs WHERE id = ?
	`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run   Run
		ended sql.NullTime
	)
	if err := sc.Scan(&run.ID, &run.Port, &run.Scene, &run.StartedAt, &ended, &run.ExitCode, &run.Steps); err != nil {
		return nil, err
	}
	if ended.Valid {
		run.EndedAt = ended.Time
	}
	return &run, nil
}

// Runs lists runs, newest first. limit <= 0 returns all of them.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, port, scene, started_at, ended_at, exit_code, steps FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Samples returns the samples of runID ordered by step then object.
func (s *Store) Samples(ctx context.Context, runID string) ([]driver.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT step, object, handle, px, py, pz, alpha, beta, gamma, elapsed_ns
		FROM samples WHERE run_id = ?
		ORDER BY step, object
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []driver.Sample
	for rows.Next() {
		var (
			smp       driver.Sample
			handle    int32
			p, o      [3]float64
			elapsedNS int64
		)
		if err := rows.Scan(&smp.Step, &smp.Object, &handle, &p[0], &p[1], &p[2], &o[0], &o[1], &o[2], &elapsedNS); err != nil {
			return nil, err
		}
		smp.Handle = remoteapi.Handle(handle)
		smp.Position = remoteapi.Vec3{float32(p[0]), float32(p[1]), float32(p[2])}
		smp.Orientation = remoteapi.Vec3{float32(o[0]), float32(o[1]), float32(o[2])}
		smp.Elapsed = time.Duration(elapsedNS)
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
