package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"adwatch/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the ad queries can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// txStore is the transaction-scoped reconcile store handed out by InTx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) AdsByCompetitor(ctx context.Context, competitorID int64) (map[string]*models.Ad, error) {
	return adsByCompetitor(ctx, t.tx, competitorID)
}

func (t *txStore) UpsertAd(ctx context.Context, ad *models.Ad) error {
	return upsertAd(ctx, t.tx, ad)
}

func (t *txStore) AppendSnapshot(ctx context.Context, snap *models.AdSnapshot) error {
	return appendSnapshot(ctx, t.tx, snap)
}

const adColumns = `id, competitor_id, source_ad_id, COALESCE(ad_text, ''), media_type,
	COALESCE(media_url, ''), COALESCE(thumbnail_url, ''), COALESCE(local_media_path, ''),
	media_downloaded, COALESCE(cta_type, ''), COALESCE(landing_page_url, ''),
	COALESCE(platforms, ''), COALESCE(regions, ''), started_running_on,
	first_seen_at, last_seen_at, days_running, is_active, has_low_impressions,
	winner_score, COALESCE(scaling_cluster_id, ''), snapshot_count`

func adsByCompetitor(ctx context.Context, q querier, competitorID int64) (map[string]*models.Ad, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+adColumns+` FROM ads WHERE competitor_id = ?`, competitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ads: %w", err)
	}
	defer rows.Close()

	ads := make(map[string]*models.Ad)
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads[ad.SourceAdID] = ad
	}
	return ads, rows.Err()
}

func upsertAd(ctx context.Context, q querier, ad *models.Ad) error {
	platforms, err := marshalStrings(ad.Platforms)
	if err != nil {
		return fmt.Errorf("failed to encode platforms: %w", err)
	}
	regions, err := marshalStrings(ad.Regions)
	if err != nil {
		return fmt.Errorf("failed to encode regions: %w", err)
	}

	var started interface{}
	if !ad.StartedRunningOn.IsZero() {
		started = ad.StartedRunningOn.UTC()
	}

	if ad.ID == 0 {
		res, err := q.ExecContext(ctx,
			`INSERT INTO ads (competitor_id, source_ad_id, ad_text, media_type, media_url,
				thumbnail_url, local_media_path, media_downloaded, cta_type, landing_page_url,
				platforms, regions, started_running_on, first_seen_at, last_seen_at,
				days_running, is_active, has_low_impressions, winner_score, scaling_cluster_id, snapshot_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ad.CompetitorID, ad.SourceAdID, ad.Text, string(ad.MediaType), ad.MediaURL,
			ad.ThumbnailURL, ad.LocalMediaPath, ad.MediaDownloaded, ad.CTAType, ad.LandingPageURL,
			platforms, regions, started, ad.FirstSeenAt.UTC(), ad.LastSeenAt.UTC(),
			ad.DaysRunning, ad.IsActive, ad.HasLowImpressions, ad.WinnerScore, ad.ScalingClusterID, ad.SnapshotCount)
		if err != nil {
			return fmt.Errorf("failed to insert ad: %w", err)
		}
		ad.ID, _ = res.LastInsertId()
		return nil
	}

	_, err = q.ExecContext(ctx,
		`UPDATE ads SET ad_text = ?, media_type = ?, media_url = ?, thumbnail_url = ?,
			local_media_path = ?, media_downloaded = ?, cta_type = ?, landing_page_url = ?,
			platforms = ?, regions = ?, started_running_on = ?, last_seen_at = ?,
			days_running = ?, is_active = ?, has_low_impressions = ?
		 WHERE id = ?`,
		ad.Text, string(ad.MediaType), ad.MediaURL, ad.ThumbnailURL,
		ad.LocalMediaPath, ad.MediaDownloaded, ad.CTAType, ad.LandingPageURL,
		platforms, regions, started, ad.LastSeenAt.UTC(),
		ad.DaysRunning, ad.IsActive, ad.HasLowImpressions, ad.ID)
	if err != nil {
		return fmt.Errorf("failed to update ad: %w", err)
	}
	return nil
}

func appendSnapshot(ctx context.Context, q querier, snap *models.AdSnapshot) error {
	res, err := q.ExecContext(ctx,
		`INSERT INTO ad_snapshots (ad_id, run_id, classification, captured_fields, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.AdID, snap.RunID, string(snap.Classification), snap.CapturedFields, snap.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	snap.ID, _ = res.LastInsertId()

	// Keep the denormalized count on the ad current so the scoring pass
	// never has to join.
	_, err = q.ExecContext(ctx,
		`UPDATE ads SET snapshot_count = (SELECT COUNT(*) FROM ad_snapshots WHERE ad_id = ?) WHERE id = ?`,
		snap.AdID, snap.AdID)
	if err != nil {
		return fmt.Errorf("failed to update snapshot count: %w", err)
	}
	return nil
}

// AllAds returns every ad in the database.
func (s *Store) AllAds(ctx context.Context) ([]*models.Ad, error) {
	return s.queryAds(ctx, `SELECT `+adColumns+` FROM ads ORDER BY competitor_id, id`)
}

// AdsForCompetitorPage returns one competitor's ads by page id, newest
// first.
func (s *Store) AdsForCompetitorPage(ctx context.Context, pageID string) ([]*models.Ad, error) {
	return s.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads
		 WHERE competitor_id = (SELECT id FROM competitors WHERE page_id = ?)
		 ORDER BY first_seen_at DESC`, pageID)
}

// TopWinners returns the highest scored ads across all competitors.
func (s *Store) TopWinners(ctx context.Context, limit int) ([]*models.Ad, error) {
	return s.queryAds(ctx,
		`SELECT `+adColumns+` FROM ads WHERE winner_score > 0
		 ORDER BY winner_score DESC, days_running DESC LIMIT ?`, limit)
}

// SaveScores writes winner scores and cluster assignments back after a
// scoring pass.
func (s *Store) SaveScores(ctx context.Context, ads []*models.Ad) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, ad := range ads {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ads SET winner_score = ?, scaling_cluster_id = ? WHERE id = ?`,
			ad.WinnerScore, ad.ScalingClusterID, ad.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save score: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) queryAds(ctx context.Context, query string, args ...interface{}) ([]*models.Ad, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ads: %w", err)
	}
	defer rows.Close()

	var ads []*models.Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func scanAd(rows *sql.Rows) (*models.Ad, error) {
	ad := &models.Ad{}
	var mediaType string
	var platforms, regions string
	var started sql.NullTime
	if err := rows.Scan(&ad.ID, &ad.CompetitorID, &ad.SourceAdID, &ad.Text, &mediaType,
		&ad.MediaURL, &ad.ThumbnailURL, &ad.LocalMediaPath, &ad.MediaDownloaded,
		&ad.CTAType, &ad.LandingPageURL, &platforms, &regions, &started,
		&ad.FirstSeenAt, &ad.LastSeenAt, &ad.DaysRunning, &ad.IsActive,
		&ad.HasLowImpressions, &ad.WinnerScore, &ad.ScalingClusterID, &ad.SnapshotCount); err != nil {
		return nil, fmt.Errorf("failed to scan ad: %w", err)
	}
	ad.MediaType = models.MediaType(mediaType)
	if started.Valid {
		ad.StartedRunningOn = started.Time
	}
	var err error
	if ad.Platforms, err = unmarshalStrings(platforms); err != nil {
		return nil, fmt.Errorf("failed to decode platforms: %w", err)
	}
	if ad.Regions, err = unmarshalStrings(regions); err != nil {
		return nil, fmt.Errorf("failed to decode regions: %w", err)
	}
	return ad, nil
}

func marshalStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, err
	}
	return values, nil
}
