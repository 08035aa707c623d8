package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	errs "adwatch/pkg/errors"
	"adwatch/pkg/logger"
	"adwatch/pkg/media"
	"adwatch/pkg/models"
)

// Store is the slice of persistence the reconciler needs. The orchestrator
// hands in a transaction-scoped implementation so one competitor's writes
// commit as a single unit.
type Store interface {
	// AdsByCompetitor returns every persisted ad for the competitor, keyed
	// by source ad id, active or not.
	AdsByCompetitor(ctx context.Context, competitorID int64) (map[string]*models.Ad, error)
	UpsertAd(ctx context.Context, ad *models.Ad) error
	AppendSnapshot(ctx context.Context, snap *models.AdSnapshot) error
}

// Resolver resolves remote media to local artifacts.
type Resolver interface {
	EnsureLocal(ctx context.Context, ref media.Ref) (string, error)
}

// MalformedRecord is a raw observation the boundary validation rejected.
type MalformedRecord struct {
	SourceAdID string
	Err        error
}

// MediaFailure is a media download that failed for an otherwise valid ad.
type MediaFailure struct {
	SourceAdID string
	Err        error
}

// Diff is the classified outcome of reconciling one competitor's raw ad set
// against its persisted state.
type Diff struct {
	New       int
	Updated   int
	Removed   int
	Unchanged int

	Classifications map[string]models.Classification
	Malformed       []MalformedRecord
	MediaFailures   []MediaFailure
	MediaResolved   int
}

// Reconciler compares fresh observations against persisted state and writes
// the resulting ads and snapshots.
type Reconciler struct {
	resolver     Resolver
	mediaWorkers int
	logger       logger.Logger
	now          func() time.Time
}

// New creates a Reconciler. mediaWorkers bounds concurrent media downloads
// within a single competitor.
func New(resolver Resolver, mediaWorkers int, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Reconciler{
		resolver:     resolver,
		mediaWorkers: mediaWorkers,
		logger:       log,
		now:          time.Now,
	}
}

// Reconcile classifies rawAds against the competitor's persisted ads and
// persists the outcome through st. Malformed records are skipped and
// reported, never fatal; media failures leave the ad without a local
// artifact and are reported the same way.
func (r *Reconciler) Reconcile(ctx context.Context, competitor *models.Competitor, rawAds []models.RawAd, runID int64, st Store) (*Diff, error) {
	existing, err := st.AdsByCompetitor(ctx, competitor.ID)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryFatal, "failed to load persisted ads", err)
	}

	diff := &Diff{Classifications: make(map[string]models.Classification)}
	now := r.now()

	// Validate at the boundary and key by source ad id. A duplicate id in
	// one raw set is a source artifact; the first observation wins.
	observed := make(map[string]*models.RawAd, len(rawAds))
	order := make([]string, 0, len(rawAds))
	for i := range rawAds {
		raw := &rawAds[i]
		if err := raw.Validate(); err != nil {
			diff.Malformed = append(diff.Malformed, MalformedRecord{SourceAdID: raw.SourceAdID, Err: err})
			r.logger.WarnWithFields("skipping malformed raw ad", map[string]interface{}{
				"page_id": competitor.PageID,
				"ad_id":   raw.SourceAdID,
				"error":   err.Error(),
			})
			continue
		}
		if _, dup := observed[raw.SourceAdID]; dup {
			continue
		}
		observed[raw.SourceAdID] = raw
		order = append(order, raw.SourceAdID)
	}

	// Classify each observation against the persisted state.
	for _, id := range order {
		raw := observed[id]
		old, known := existing[id]
		switch {
		case !known:
			diff.Classifications[id] = models.ClassNew
			diff.New++
		case adChanged(old, raw):
			// A previously removed id reappearing lands here too: its
			// active flag flips back, which is a field difference.
			diff.Classifications[id] = models.ClassUpdated
			diff.Updated++
		default:
			diff.Classifications[id] = models.ClassUnchanged
			diff.Unchanged++
		}
	}

	// Ads the source stopped reporting. Only an active ad can transition to
	// removed; an ad that is already inactive and still absent is settled
	// history and gets no new snapshot.
	for id, old := range existing {
		if _, stillThere := observed[id]; stillThere {
			continue
		}
		if old.IsActive {
			diff.Classifications[id] = models.ClassRemoved
			diff.Removed++
		}
	}

	// Resolve media for new and updated ads before persisting.
	localPaths := r.resolveMedia(ctx, competitor.PageID, order, observed, diff)

	// Persist ads and append one snapshot per classified ad.
	for _, id := range order {
		raw := observed[id]
		class := diff.Classifications[id]

		var ad *models.Ad
		if old, known := existing[id]; known {
			ad = old
			// Unchanged ads keep their stored field values; cosmetic
			// whitespace differences in the raw text must not stick.
			if class == models.ClassUpdated {
				applyRaw(ad, raw)
			}
		} else {
			ad = adFromRaw(competitor.ID, raw)
			ad.FirstSeenAt = now
		}
		ad.LastSeenAt = now
		ad.DaysRunning = models.DaysRunning(ad.FirstSeenAt, now)
		if path, ok := localPaths[id]; ok {
			ad.LocalMediaPath = path
			ad.MediaDownloaded = true
		}

		if err := st.UpsertAd(ctx, ad); err != nil {
			return nil, errs.Wrap(errs.CategoryFatal, "failed to persist ad", err)
		}
		if err := r.appendSnapshot(ctx, st, ad, runID, class, now); err != nil {
			return nil, err
		}
	}

	for id, old := range existing {
		if diff.Classifications[id] != models.ClassRemoved {
			continue
		}
		// Deactivate but never delete; the history must survive. LastSeenAt
		// stays where it was: this scrape did not observe the ad.
		old.IsActive = false
		old.DaysRunning = models.DaysRunning(old.FirstSeenAt, old.LastSeenAt)
		if err := st.UpsertAd(ctx, old); err != nil {
			return nil, errs.Wrap(errs.CategoryFatal, "failed to deactivate ad", err)
		}
		if err := r.appendSnapshot(ctx, st, old, runID, models.ClassRemoved, now); err != nil {
			return nil, err
		}
		r.logger.InfoWithFields("ad marked inactive", map[string]interface{}{
			"page_id": competitor.PageID,
			"ad_id":   id,
		})
	}

	return diff, nil
}

func (r *Reconciler) resolveMedia(ctx context.Context, pageID string, order []string, observed map[string]*models.RawAd, diff *Diff) map[string]string {
	var refs []media.Ref
	for _, id := range order {
		class := diff.Classifications[id]
		if class != models.ClassNew && class != models.ClassUpdated {
			continue
		}
		raw := observed[id]
		if raw.MediaURL == "" {
			continue
		}
		refs = append(refs, media.Ref{
			PageID: pageID,
			AdID:   id,
			URL:    raw.MediaURL,
			Type:   raw.MediaType,
		})
	}
	if len(refs) == 0 || r.resolver == nil {
		return nil
	}

	paths := make(map[string]string, len(refs))
	for _, res := range media.ResolveBatch(ctx, r.resolver, refs, r.mediaWorkers, r.logger) {
		if res.Err != nil {
			diff.MediaFailures = append(diff.MediaFailures, MediaFailure{SourceAdID: res.Ref.AdID, Err: res.Err})
			continue
		}
		paths[res.Ref.AdID] = res.Path
		diff.MediaResolved++
	}
	return paths
}

func (r *Reconciler) appendSnapshot(ctx context.Context, st Store, ad *models.Ad, runID int64, class models.Classification, now time.Time) error {
	captured, err := json.Marshal(captureFields(ad))
	if err != nil {
		return errs.Wrap(errs.CategoryFatal, "failed to encode snapshot", err)
	}
	snap := &models.AdSnapshot{
		AdID:           ad.ID,
		RunID:          runID,
		Classification: class,
		CapturedFields: string(captured),
		CapturedAt:     now,
	}
	if err := st.AppendSnapshot(ctx, snap); err != nil {
		return errs.Wrap(errs.CategoryFatal, "failed to append snapshot", err)
	}
	return nil
}

// capture is the field set frozen into each snapshot.
type capture struct {
	SourceAdID        string           `json:"source_ad_id"`
	Text              string           `json:"ad_text"`
	MediaType         models.MediaType `json:"media_type"`
	MediaURL          string           `json:"media_url"`
	LocalMediaPath    string           `json:"local_media_path,omitempty"`
	LandingPageURL    string           `json:"landing_page_url"`
	Platforms         []string         `json:"platforms,omitempty"`
	Regions           []string         `json:"regions,omitempty"`
	IsActive          bool             `json:"is_active"`
	HasLowImpressions bool             `json:"has_low_impressions"`
	DaysRunning       int              `json:"days_running"`
}

func captureFields(ad *models.Ad) capture {
	return capture{
		SourceAdID:        ad.SourceAdID,
		Text:              ad.Text,
		MediaType:         ad.MediaType,
		MediaURL:          ad.MediaURL,
		LocalMediaPath:    ad.LocalMediaPath,
		LandingPageURL:    ad.LandingPageURL,
		Platforms:         ad.Platforms,
		Regions:           ad.Regions,
		IsActive:          ad.IsActive,
		HasLowImpressions: ad.HasLowImpressions,
		DaysRunning:       ad.DaysRunning,
	}
}

// adChanged compares the fields that constitute an update. Text goes through
// whitespace normalization first so cosmetic source formatting differences
// never register as a change.
func adChanged(old *models.Ad, raw *models.RawAd) bool {
	if NormalizeText(old.Text) != NormalizeText(raw.Text) {
		return true
	}
	if old.MediaType != raw.MediaType || old.MediaURL != raw.MediaURL {
		return true
	}
	if old.LandingPageURL != raw.LandingPageURL {
		return true
	}
	if old.IsActive != raw.IsActive {
		return true
	}
	if old.HasLowImpressions != raw.HasLowImpressions {
		return true
	}
	return false
}

// NormalizeText collapses all runs of whitespace to single spaces and trims
// the ends.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func adFromRaw(competitorID int64, raw *models.RawAd) *models.Ad {
	return &models.Ad{
		CompetitorID:      competitorID,
		SourceAdID:        raw.SourceAdID,
		Text:              raw.Text,
		MediaType:         raw.MediaType,
		MediaURL:          raw.MediaURL,
		ThumbnailURL:      raw.ThumbnailURL,
		CTAType:           raw.CTAType,
		LandingPageURL:    raw.LandingPageURL,
		Platforms:         raw.Platforms,
		Regions:           raw.Regions,
		StartedRunningOn:  raw.StartedRunningOn,
		IsActive:          raw.IsActive,
		HasLowImpressions: raw.HasLowImpressions,
	}
}

func applyRaw(ad *models.Ad, raw *models.RawAd) {
	ad.Text = raw.Text
	ad.MediaType = raw.MediaType
	ad.MediaURL = raw.MediaURL
	if raw.ThumbnailURL != "" {
		ad.ThumbnailURL = raw.ThumbnailURL
	}
	if raw.CTAType != "" {
		ad.CTAType = raw.CTAType
	}
	ad.LandingPageURL = raw.LandingPageURL
	if len(raw.Platforms) > 0 {
		ad.Platforms = raw.Platforms
	}
	if len(raw.Regions) > 0 {
		ad.Regions = raw.Regions
	}
	if !raw.StartedRunningOn.IsZero() {
		ad.StartedRunningOn = raw.StartedRunningOn
	}
	ad.IsActive = raw.IsActive
	ad.HasLowImpressions = raw.HasLowImpressions
}
