package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/storage/models"
	"github.com/cie-bench/harness/pkg/logger"
)

var ErrRunNotFound = errors.New("run not found")

// Client is the run ledger. The skip-if-exists check stays filesystem based;
// the ledger is for inspection.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Workers record outcomes concurrently; serialise writers on one connection.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		model TEXT,
		category TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		attempted INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS item_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		item_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		duration_ms INTEGER,
		recorded_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON item_outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_item ON item_outcomes(item_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) StartRun(run *models.Run) error {
	query := `INSERT INTO runs (id, kind, model, category, started_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, run.ID, run.Kind, run.Model, run.Category, run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Debug("Run started", zap.String("run_id", run.ID), zap.String("kind", run.Kind))
	return nil
}

func (c *Client) FinishRun(runID string, totals models.RunTotals, finishedAt time.Time) error {
	query := `
		UPDATE runs SET finished_at = ?, attempted = ?, succeeded = ?, skipped = ?, failed = ?
		WHERE id = ?
	`

	res, err := c.db.Exec(query, finishedAt.Unix(), totals.Attempted, totals.Succeeded, totals.Skipped, totals.Failed, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}

	logger.Info("Run recorded",
		zap.String("run_id", runID),
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed", totals.Failed),
	)
	return nil
}

func (c *Client) RecordOutcome(outcome *models.ItemOutcome) error {
	query := `
		INSERT INTO item_outcomes (run_id, item_id, status, reason, duration_ms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		outcome.RunID,
		outcome.ItemID,
		outcome.Status,
		outcome.Reason,
		outcome.DurationMS,
		outcome.RecordedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	query := `
		SELECT id, kind, model, category, started_at, finished_at, attempted, succeeded, skipped, failed
		FROM runs WHERE id = ?
	`

	run, err := scanRun(c.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (c *Client) ListRuns(limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, kind, model, category, started_at, finished_at, attempted, succeeded, skipped, failed
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (c *Client) RunOutcomes(runID string) ([]*models.ItemOutcome, error) {
	query := `
		SELECT id, run_id, item_id, status, reason, duration_ms, recorded_at
		FROM item_outcomes WHERE run_id = ? ORDER BY id
	`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.ItemOutcome
	for rows.Next() {
		var o models.ItemOutcome
		var reason sql.NullString
		var recordedAt int64
		if err := rows.Scan(&o.ID, &o.RunID, &o.ItemID, &o.Status, &reason, &o.DurationMS, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Reason = reason.String
		o.RecordedAt = time.Unix(recordedAt, 0)
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	var run models.Run
	var model, category sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(
		&run.ID,
		&run.Kind,
		&model,
		&category,
		&startedAt,
		&finishedAt,
		&run.Attempted,
		&run.Succeeded,
		&run.Skipped,
		&run.Failed,
	)
	if err != nil {
		return nil, err
	}

	run.Model = model.String
	run.Category = category.String
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}
	return &run, nil
}
