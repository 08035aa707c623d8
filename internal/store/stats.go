package store

import (
	"context"
	"fmt"
)

// AdStats is the read-side summary of the tracked inventory.
type AdStats struct {
	TotalAds     int                 `json:"total_ads"`
	ActiveAds    int                 `json:"active_ads"`
	InactiveAds  int                 `json:"inactive_ads"`
	ByMediaType  map[string]int      `json:"by_media_type"`
	ByCompetitor []CompetitorAdCount `json:"by_competitor"`
}

// CompetitorAdCount pairs a competitor with its ad count.
type CompetitorAdCount struct {
	PageID string `json:"page_id"`
	Name   string `json:"name"`
	Ads    int    `json:"ads"`
	Active int    `json:"active"`
}

// AdStats aggregates inventory counts, optionally scoped to one page id.
func (s *Store) AdStats(ctx context.Context, pageID string) (*AdStats, error) {
	stats := &AdStats{ByMediaType: make(map[string]int)}

	where := ""
	var args []interface{}
	if pageID != "" {
		where = ` WHERE competitor_id = (SELECT id FROM competitors WHERE page_id = ?)`
		args = append(args, pageID)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM ads`+where, args...)
	if err := row.Scan(&stats.TotalAds, &stats.ActiveAds); err != nil {
		return nil, fmt.Errorf("failed to count ads: %w", err)
	}
	stats.InactiveAds = stats.TotalAds - stats.ActiveAds

	rows, err := s.db.QueryContext(ctx,
		`SELECT media_type, COUNT(*) FROM ads`+where+` GROUP BY media_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count media types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mediaType string
		var count int
		if err := rows.Scan(&mediaType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan media type count: %w", err)
		}
		stats.ByMediaType[mediaType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if pageID == "" {
		byCompetitor, err := s.adCountsByCompetitor(ctx)
		if err != nil {
			return nil, err
		}
		stats.ByCompetitor = byCompetitor
	}
	return stats, nil
}

func (s *Store) adCountsByCompetitor(ctx context.Context) ([]CompetitorAdCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.page_id, c.name, COUNT(a.id), COALESCE(SUM(a.is_active), 0)
		 FROM competitors c LEFT JOIN ads a ON a.competitor_id = c.id
		 GROUP BY c.id ORDER BY COUNT(a.id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ads by competitor: %w", err)
	}
	defer rows.Close()

	var counts []CompetitorAdCount
	for rows.Next() {
		var c CompetitorAdCount
		if err := rows.Scan(&c.PageID, &c.Name, &c.Ads, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan competitor count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
