// Package tracedb persists scenario reports, including the full switch
// trace, to a SQLite database.
package tracedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-rtsched"
	"github.com/joeycumines/go-rtsched/internal/scenario"
	"github.com/joeycumines/logiface"

	_ "modernc.org/sqlite"
)

// DefaultBatchSize is the number of switch rows written per statement batch,
// between progress logs.
const DefaultBatchSize = 512

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("tracedb: run not found")

// Store is a SQLite backed report store.
type Store struct {
	db        *sql.DB
	logger    *logiface.Logger[logiface.Event]
	batchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger, nil disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBatchSize sets the number of switch rows per batch, values < 1 select
// DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) { s.batchSize = n }
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID       string
	Scenario string
	Started  time.Time
	Elapsed  time.Duration
	Stats    rtsched.Stats
}

// Open opens (or creates) the database at path, and applies the schema. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection, so :memory: databases are shared by every query
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.batchSize < 1 {
		s.batchSize = DefaultBatchSize
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the report in a single transaction. Saving a run id twice
// fails.
func (s *Store) Save(ctx context.Context, r *scenario.Report) (err error) {
	if r == nil || r.RunID == "" {
		return errors.New("tracedb: report without run id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	st := r.Stats
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, started_at, elapsed_ns, dispatches, switches, deferred, replayed, timeouts, interrupts, timer_fails)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Scenario, r.Started.UTC().Format(time.RFC3339Nano), int64(r.Elapsed),
		int64(st.Dispatches), int64(st.Switches), int64(st.Deferred), int64(st.Replayed),
		int64(st.Timeouts), int64(st.Interrupts), int64(st.TimerFailures),
	); err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	if err = s.saveThreads(ctx, tx, r); err != nil {
		return err
	}
	if err = s.saveSwitches(ctx, tx, r); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info().
		Str("run_id", r.RunID).
		Int("threads", len(r.Threads)).
		Int("switches", len(r.Trace)).
		Log("report saved")
	return nil
}

func (s *Store) saveThreads(ctx context.Context, tx *sql.Tx, r *scenario.Report) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO threads (run_id, name, priority, initial_priority, state, running_ns, sleeps, tryruns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare threads: %w", err)
	}
	defer stmt.Close()

	for _, th := range r.Threads {
		sleeps, err := marshalList(th.Sleeps)
		if err != nil {
			return fmt.Errorf("marshal sleeps: %w", err)
		}
		tryruns, err := marshalList(th.TryRuns)
		if err != nil {
			return fmt.Errorf("marshal tryruns: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.RunID, th.Name, th.Priority, th.InitialPriority, th.State, int64(th.RunningTime), sleeps, tryruns,
		); err != nil {
			return fmt.Errorf("insert thread %s: %w", th.Name, err)
		}
	}
	return nil
}

func (s *Store) saveSwitches(ctx context.Context, tx *sql.Tx, r *scenario.Report) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO switches (run_id, seq, at_ns, prev, next) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare switches: %w", err)
	}
	defer stmt.Close()

	for i, sw := range r.Trace {
		if _, err := stmt.ExecContext(ctx, r.RunID, sw.Seq, int64(sw.At), sw.Prev, sw.Next); err != nil {
			return fmt.Errorf("insert switch %d: %w", sw.Seq, err)
		}
		if n := i + 1; n%s.batchSize == 0 {
			s.logger.Debug().
				Str("run_id", r.RunID).
				Int("written", n).
				Int("total", len(r.Trace)).
				Log("switch batch written")
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Runs lists every stored run, most recent first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario, started_at, elapsed_ns, dispatches, switches, deferred, replayed, timeouts, interrupts, timer_fails
		 FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			x       RunSummary
			started string
			elapsed int64
			c       [7]int64
		)
		if err := rows.Scan(&x.ID, &x.Scenario, &started, &elapsed, &c[0], &c[1], &c[2], &c[3], &c[4], &c[5], &c[6]); err != nil {
			return nil, err
		}
		x.Started, _ = time.Parse(time.RFC3339Nano, started)
		x.Elapsed = time.Duration(elapsed)
		x.Stats = rtsched.Stats{
			Dispatches:    uint64(c[0]),
			Switches:      uint64(c[1]),
			Deferred:      uint64(c[2]),
			Replayed:      uint64(c[3]),
			Timeouts:      uint64(c[4]),
			Interrupts:    uint64(c[5]),
			TimerFailures: uint64(c[6]),
		}
		runs = append(runs, x)
	}
	return runs, rows.Err()
}

// Threads loads the thread reports of a run, in name order.
func (s *Store) Threads(ctx context.Context, runID string) ([]scenario.ThreadReport, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, priority, initial_priority, state, running_ns, sleeps, tryruns
		 FROM threads WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []scenario.ThreadReport
	for rows.Next() {
		var (
			th              scenario.ThreadReport
			running         int64
			sleeps, tryruns string
		)
		if err := rows.Scan(&th.Name, &th.Priority, &th.InitialPriority, &th.State, &running, &sleeps, &tryruns); err != nil {
			return nil, err
		}
		th.RunningTime = time.Duration(running)
		if err := json.Unmarshal([]byte(sleeps), &th.Sleeps); err != nil {
			return nil, fmt.Errorf("unmarshal sleeps: %w", err)
		}
		if err := json.Unmarshal([]byte(tryruns), &th.TryRuns); err != nil {
			return nil, fmt.Errorf("unmarshal tryruns: %w", err)
		}
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// Trace loads the switch trace of a run, in sequence order.
func (s *Store) Trace(ctx context.Context, runID string) ([]scenario.Switch, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, at_ns, prev, next FROM switches WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trace []scenario.Switch
	for rows.Next() {
		var (
			sw scenario.Switch
			at int64
		)
		if err := rows.Scan(&sw.Seq, &at, &sw.Prev, &sw.Next); err != nil {
			return nil, err
		}
		sw.At = time.Duration(at)
		trace = append(trace, sw)
	}
	return trace, rows.Err()
}

// Delete removes a run, cascading to its threads and switches.
func (s *Store) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	s.logger.Debug().Str("run_id", runID).Log("run deleted")
	return nil
}

func (s *Store) exists(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return err
}

// marshalList encodes a list as JSON, nil as [].
func marshalList(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}
