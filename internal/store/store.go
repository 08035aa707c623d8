package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"adwatch/pkg/models"
	"adwatch/pkg/reconcile"
)

// Store exposes the persistence operations the orchestrator and CLI need.
type Store struct {
	db *DB
}

// New creates a Store over an open database.
func New(db *DB) *Store {
	return &Store{db: db}
}

// InTx runs fn against a transaction-scoped reconcile store and commits when
// fn succeeds. A failure anywhere rolls back every write of the competitor.
func (s *Store) InTx(ctx context.Context, fn func(tx reconcile.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddCompetitor registers a new tracked page. Re-adding an existing page id
// updates its name and reactivates it.
func (s *Store) AddCompetitor(ctx context.Context, competitor *models.Competitor) error {
	now := time.Now().UTC()
	query := `INSERT INTO competitors (page_id, name, is_active, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET name = excluded.name, is_active = 1, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, competitor.PageID, competitor.Name, now, now); err != nil {
		return fmt.Errorf("failed to add competitor: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at FROM competitors WHERE page_id = ?`, competitor.PageID)
	if err := row.Scan(&competitor.ID, &competitor.CreatedAt); err != nil {
		return fmt.Errorf("failed to read competitor back: %w", err)
	}
	competitor.IsActive = true
	competitor.UpdatedAt = now
	return nil
}

// SetCompetitorActive toggles whether a page is scraped.
func (s *Store) SetCompetitorActive(ctx context.Context, pageID string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE competitors SET is_active = ?, updated_at = ? WHERE page_id = ?`,
		active, time.Now().UTC(), pageID)
	if err != nil {
		return fmt.Errorf("failed to update competitor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no competitor with page id %s", pageID)
	}
	return nil
}

// ActiveCompetitors returns the pages currently enabled for scraping.
func (s *Store) ActiveCompetitors(ctx context.Context) ([]*models.Competitor, error) {
	return s.queryCompetitors(ctx, `SELECT id, page_id, name, is_active, created_at, updated_at
		FROM competitors WHERE is_active = 1 ORDER BY id`)
}

// ListCompetitors returns every registered page, active or not.
func (s *Store) ListCompetitors(ctx context.Context) ([]*models.Competitor, error) {
	return s.queryCompetitors(ctx, `SELECT id, page_id, name, is_active, created_at, updated_at
		FROM competitors ORDER BY id`)
}

func (s *Store) queryCompetitors(ctx context.Context, query string) ([]*models.Competitor, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query competitors: %w", err)
	}
	defer rows.Close()

	var competitors []*models.Competitor
	for rows.Next() {
		c := &models.Competitor{}
		if err := rows.Scan(&c.ID, &c.PageID, &c.Name, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan competitor: %w", err)
		}
		competitors = append(competitors, c)
	}
	return competitors, rows.Err()
}

// CreateRun inserts a run row and backfills its id.
func (s *Store) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (run_type, status, started_at) VALUES (?, ?, ?)`,
		run.RunType, string(run.Status), run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	run.ID, _ = res.LastInsertId()
	return nil
}

// FinishRun writes the run's terminal status and counters.
func (s *Store) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	var ended interface{}
	if run.EndedAt != nil {
		ended = run.EndedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs SET status = ?, ended_at = ?, competitors_attempted = ?,
			competitors_failed = ?, ads_found = ?, new_count = ?, updated_count = ?,
			removed_count = ?, media_downloaded = ?, errors_count = ?, metadata = ?
		 WHERE id = ?`,
		string(run.Status), ended, run.CompetitorsAttempted, run.CompetitorsFailed,
		run.AdsFound, run.NewCount, run.UpdatedCount, run.RemovedCount,
		run.MediaDownloaded, run.ErrorsCount, run.Metadata, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordError persists a non-fatal failure against its run.
func (s *Store) RecordError(ctx context.Context, e *models.ScrapeError) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_errors (run_id, page_id, category, message, diagnostic_capture, retry_count, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.PageID, e.Category, e.Message, e.DiagnosticCapture, e.RetryCount, e.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_type, status, started_at, ended_at, competitors_attempted,
			competitors_failed, ads_found, new_count, updated_count, removed_count,
			media_downloaded, errors_count, COALESCE(metadata, '')
		 FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ScrapeRun
	for rows.Next() {
		r := &models.ScrapeRun{}
		var ended sql.NullTime
		var status string
		if err := rows.Scan(&r.ID, &r.RunType, &status, &r.StartedAt, &ended,
			&r.CompetitorsAttempted, &r.CompetitorsFailed, &r.AdsFound, &r.NewCount,
			&r.UpdatedCount, &r.RemovedCount, &r.MediaDownloaded, &r.ErrorsCount, &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = models.RunStatus(status)
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentErrors returns the latest recorded errors, newest first.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]*models.ScrapeError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, COALESCE(page_id, ''), category, message,
			COALESCE(diagnostic_capture, ''), retry_count, occurred_at
		 FROM scrape_errors ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors: %w", err)
	}
	defer rows.Close()

	var errs []*models.ScrapeError
	for rows.Next() {
		e := &models.ScrapeError{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.PageID, &e.Category, &e.Message,
			&e.DiagnosticCapture, &e.RetryCount, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan error: %w", err)
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}
