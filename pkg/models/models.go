package models

import (
	"strings"
	"time"
)

// MediaType is the creative format reported by the ad library.
type MediaType string

const (
	MediaImage    MediaType = "IMAGE"
	MediaVideo    MediaType = "VIDEO"
	MediaCarousel MediaType = "CAROUSEL"
)

// FetchMode selects how deep a fetch goes.
type FetchMode string

const (
	// FetchActiveOnly returns only currently running ads.
	FetchActiveOnly FetchMode = "ACTIVE_ONLY"
	// FetchBackfill returns the full historical inventory the source exposes.
	FetchBackfill FetchMode = "BACKFILL"
)

// Classification is the four-way outcome of reconciling one ad against its
// last known state.
type Classification string

const (
	ClassNew       Classification = "NEW"
	ClassUpdated   Classification = "UPDATED"
	ClassRemoved   Classification = "REMOVED"
	ClassUnchanged Classification = "UNCHANGED"
)

// RunStatus is the terminal status of a scrape run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFailed  RunStatus = "FAILED"
)

// Competitor is a tracked advertiser page.
type Competitor struct {
	ID        int64     `json:"id"`
	PageID    string    `json:"page_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ad is a single creative tracked per competitor. (CompetitorID, SourceAdID)
// is unique; the row is never deleted, only deactivated.
type Ad struct {
	ID                int64     `json:"id"`
	CompetitorID      int64     `json:"competitor_id"`
	SourceAdID        string    `json:"source_ad_id"`
	Text              string    `json:"ad_text"`
	MediaType         MediaType `json:"media_type"`
	MediaURL          string    `json:"media_url"`
	ThumbnailURL      string    `json:"thumbnail_url,omitempty"`
	LocalMediaPath    string    `json:"local_media_path,omitempty"`
	MediaDownloaded   bool      `json:"media_downloaded"`
	CTAType           string    `json:"cta_type,omitempty"`
	LandingPageURL    string    `json:"landing_page_url"`
	Platforms         []string  `json:"platforms,omitempty"`
	Regions           []string  `json:"regions,omitempty"`
	StartedRunningOn  time.Time `json:"started_running_on"`
	FirstSeenAt       time.Time `json:"first_seen_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	DaysRunning       int       `json:"days_running"`
	IsActive          bool      `json:"is_active"`
	HasLowImpressions bool      `json:"has_low_impressions"`
	WinnerScore       int       `json:"winner_score"`
	ScalingClusterID  string    `json:"scaling_cluster_id,omitempty"`
	SnapshotCount     int       `json:"snapshot_count"`
}

// RawAd is one ad observation as delivered by a fetcher. It is validated at
// the boundary before it reaches the reconciler.
type RawAd struct {
	SourceAdID        string    `json:"ad_id"`
	PageID            string    `json:"page_id"`
	PageName          string    `json:"page_name,omitempty"`
	Text              string    `json:"ad_text"`
	MediaType         MediaType `json:"media_type"`
	MediaURL          string    `json:"media_url"`
	ThumbnailURL      string    `json:"thumbnail_url,omitempty"`
	CTAType           string    `json:"cta_type,omitempty"`
	LandingPageURL    string    `json:"landing_page_url"`
	Platforms         []string  `json:"platforms,omitempty"`
	Regions           []string  `json:"regions,omitempty"`
	StartedRunningOn  time.Time `json:"started_running_on"`
	IsActive          bool      `json:"is_active"`
	HasLowImpressions bool      `json:"has_low_impressions"`
}

// Validate rejects observations that cannot be keyed or classified. An empty
// media type defaults to IMAGE, matching what the source omits most often.
func (r *RawAd) Validate() error {
	if strings.TrimSpace(r.SourceAdID) == "" {
		return ErrMissingSourceAdID
	}
	if strings.TrimSpace(r.PageID) == "" {
		return ErrMissingPageID
	}
	switch r.MediaType {
	case MediaImage, MediaVideo, MediaCarousel:
	case "":
		r.MediaType = MediaImage
	default:
		return ErrUnknownMediaType
	}
	return nil
}

// AdSnapshot is an immutable point-in-time capture of an ad's observed state.
// Snapshots are append-only per ad, ordered by CapturedAt.
type AdSnapshot struct {
	ID             int64          `json:"id"`
	AdID           int64          `json:"ad_id"`
	RunID          int64          `json:"run_id"`
	Classification Classification `json:"classification"`
	CapturedFields string         `json:"captured_fields"`
	CapturedAt     time.Time      `json:"captured_at"`
}

// ScrapeRun is one orchestration pass over some or all competitors.
type ScrapeRun struct {
	ID                   int64      `json:"id"`
	RunType              string     `json:"run_type"`
	Status               RunStatus  `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	CompetitorsAttempted int        `json:"competitors_attempted"`
	CompetitorsFailed    int        `json:"competitors_failed"`
	AdsFound             int        `json:"ads_found"`
	NewCount             int        `json:"new_count"`
	UpdatedCount         int        `json:"updated_count"`
	RemovedCount         int        `json:"removed_count"`
	MediaDownloaded      int        `json:"media_downloaded"`
	ErrorsCount          int        `json:"errors_count"`
	Metadata             string     `json:"metadata,omitempty"`
}

// ScrapeError is a non-fatal failure observed during a run.
type ScrapeError struct {
	ID                int64     `json:"id"`
	RunID             int64     `json:"run_id"`
	PageID            string    `json:"page_id,omitempty"`
	Category          string    `json:"category"`
	Message           string    `json:"message"`
	DiagnosticCapture string    `json:"diagnostic_capture,omitempty"`
	RetryCount        int       `json:"retry_count"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// DaysRunning counts calendar days from first to last, inclusive.
func DaysRunning(first, last time.Time) int {
	if first.IsZero() {
		return 0
	}
	f := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	l := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	if l.Before(f) {
		return 0
	}
	return int(l.Sub(f).Hours()/24) + 1
}
