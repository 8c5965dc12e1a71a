package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "taskq/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keep       int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: cfg.KeepRuns, pruneEvery: 50}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 2 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(id, queue, started, finished, halted, err) VALUES(?,?,?,?,?,?)`,
		r.ID, nullStr(r.Queue), r.Started.UnixMicro(), r.Finished.UnixMicro(), boolInt(r.Halted), nullStr(r.Error),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, res := range r.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results(run_id, task_id, job, status, queue_delay_us, duration_us, exit_code, err)
			 VALUES(?,?,?,?,?,?,?,?)`,
			r.ID, int64(res.TaskID), res.Job, res.Status,
			res.QueueDelay.Microseconds(), res.Duration.Microseconds(), res.ExitCode, nullStr(res.Error),
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.Job, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Warn("prune runs failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue, started, finished, halted, err FROM runs ORDER BY started DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			queue, errText    sql.NullString
			started, finished int64
			halted            int
		)
		if err := rows.Scan(&r.ID, &queue, &started, &finished, &halted, &errText); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.Queue = queue.String
		r.Error = errText.String
		r.Started = time.UnixMicro(started)
		r.Finished = time.UnixMicro(finished)
		r.Halted = halted != 0
		runs = append(runs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		res, err := s.results(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = res
	}
	return runs, nil
}

func (s *sqliteStore) results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, job, status, queue_delay_us, duration_us, exit_code, err
		 FROM results WHERE run_id = ? ORDER BY task_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Result{}
	for rows.Next() {
		var (
			res         Result
			taskID      int64
			delay, took int64
			errText     sql.NullString
		)
		if err := rows.Scan(&taskID, &res.Job, &res.Status, &delay, &took, &res.ExitCode, &errText); err != nil {
			return nil, err
		}
		res.TaskID = uint64(taskID)
		res.QueueDelay = time.Duration(delay) * time.Microsecond
		res.Duration = time.Duration(took) * time.Microsecond
		res.Error = errText.String
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	const keepSet = `SELECT id FROM runs ORDER BY started DESC LIMIT ?`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE run_id NOT IN (`+keepSet+`)`, s.keep); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN (`+keepSet+`)`, s.keep); err != nil {
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
