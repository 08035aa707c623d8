package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adwatch/internal/store"
	errs "adwatch/pkg/errors"
	"adwatch/pkg/media"
	"adwatch/pkg/models"
	"adwatch/pkg/reconcile"
)

// stubPolicy removes all real waiting from the tests and counts how often
// the competitor pause was requested.
type stubPolicy struct {
	retries        int
	competitorWait int
}

func (p *stubPolicy) CompetitorDelay() time.Duration {
	p.competitorWait++
	return time.Microsecond
}
func (p *stubPolicy) ScrollDelay() time.Duration          { return 0 }
func (p *stubPolicy) RetryDelay(attempt int) time.Duration { return 0 }
func (p *stubPolicy) MaxRetries() int                      { return p.retries }

// scriptedFetcher returns canned results per page id and counts attempts.
type scriptedFetcher struct {
	ads      map[string][]models.RawAd
	failures map[string]error
	attempts map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		ads:      make(map[string][]models.RawAd),
		failures: make(map[string]error),
		attempts: make(map[string]int),
	}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, competitor *models.Competitor, mode models.FetchMode) ([]models.RawAd, error) {
	f.attempts[competitor.PageID]++
	if err, ok := f.failures[competitor.PageID]; ok {
		return nil, err
	}
	return f.ads[competitor.PageID], nil
}

// memStore is an in-memory Store plus reconcile.Store. InTx is a plain
// passthrough; transaction semantics belong to the sqlite store's own tests.
type memStore struct {
	competitors []*models.Competitor
	ads         map[string]*models.Ad
	snapshots   []*models.AdSnapshot
	runs        []*models.ScrapeRun
	errors      []*models.ScrapeError
	nextID      int64
}

func newMemStore(competitors ...*models.Competitor) *memStore {
	return &memStore{competitors: competitors, ads: make(map[string]*models.Ad), nextID: 1}
}

func (s *memStore) ActiveCompetitors(ctx context.Context) ([]*models.Competitor, error) {
	return s.competitors, nil
}

func (s *memStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	run.ID = s.nextID
	s.nextID++
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error { return nil }

func (s *memStore) RecordError(ctx context.Context, scrapeErr *models.ScrapeError) error {
	s.errors = append(s.errors, scrapeErr)
	return nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx reconcile.Store) error) error {
	return fn(s)
}

func (s *memStore) AdsByCompetitor(ctx context.Context, competitorID int64) (map[string]*models.Ad, error) {
	out := make(map[string]*models.Ad)
	for id, ad := range s.ads {
		if ad.CompetitorID == competitorID {
			copied := *ad
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *memStore) UpsertAd(ctx context.Context, ad *models.Ad) error {
	if ad.ID == 0 {
		ad.ID = s.nextID
		s.nextID++
	}
	copied := *ad
	s.ads[ad.SourceAdID] = &copied
	return nil
}

func (s *memStore) AppendSnapshot(ctx context.Context, snap *models.AdSnapshot) error {
	s.snapshots = append(s.snapshots, snap)
	return nil
}

type noopResolver struct{}

func (noopResolver) EnsureLocal(ctx context.Context, ref media.Ref) (string, error) {
	return "/media/" + ref.AdID, nil
}

func competitor(id int64, pageID string) *models.Competitor {
	return &models.Competitor{ID: id, PageID: pageID, Name: pageID, IsActive: true}
}

func raw(pageID, adID string) models.RawAd {
	return models.RawAd{
		SourceAdID: adID,
		PageID:     pageID,
		Text:       "copy for " + adID,
		MediaType:  models.MediaImage,
		MediaURL:   "https://cdn.example.com/" + adID + ".jpg",
		IsActive:   true,
	}
}

func newTestOrchestrator(store *memStore, fetcher Fetcher, policy *stubPolicy) *Orchestrator {
	rec := reconcile.New(noopResolver{}, 1, nil)
	return New(fetcher, store, rec, policy, nil)
}

func TestRunVisitsCompetitorsSequentially(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"), competitor(2, "page-b"))
	fetcher := newScriptedFetcher()
	fetcher.ads["page-a"] = []models.RawAd{raw("page-a", "a1"), raw("page-a", "a2")}
	fetcher.ads["page-b"] = []models.RawAd{raw("page-b", "b1")}
	policy := &stubPolicy{retries: 3}

	run, err := newTestOrchestrator(store, fetcher, policy).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, 2, run.CompetitorsAttempted)
	assert.Equal(t, 0, run.CompetitorsFailed)
	assert.Equal(t, 3, run.AdsFound)
	assert.Equal(t, 3, run.NewCount)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, 1, policy.competitorWait, "pause before every competitor except the first")
	assert.Contains(t, run.Metadata, "page-a")
}

func TestRunOneFailedCompetitorIsPartial(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"), competitor(2, "page-b"))
	fetcher := newScriptedFetcher()
	fetcher.failures["page-a"] = errs.New(errs.CategoryFetch, "timed out waiting for results")
	fetcher.ads["page-b"] = []models.RawAd{raw("page-b", "b1")}
	policy := &stubPolicy{retries: 2}

	run, err := newTestOrchestrator(store, fetcher, policy).Run(context.Background(), Options{})
	require.NoError(t, err, "a skipped competitor never fails the run")

	assert.Equal(t, models.RunPartial, run.Status)
	assert.Equal(t, 2, run.CompetitorsAttempted)
	assert.Equal(t, 1, run.CompetitorsFailed)
	assert.Equal(t, 1, run.AdsFound, "the healthy competitor still got scraped")
	assert.Equal(t, 2, fetcher.attempts["page-a"], "transient errors are retried up to the limit")

	require.Len(t, store.errors, 1)
	assert.Equal(t, string(errs.CategoryFetchExhausted), store.errors[0].Category)
	assert.Equal(t, "page-a", store.errors[0].PageID)
}

func TestRunAllCompetitorsFailedIsFailed(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"))
	fetcher := newScriptedFetcher()
	fetcher.failures["page-a"] = errs.New(errs.CategoryFetch, "blocked")

	run, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 1}).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
}

func TestRunNonRetryableFetchErrorIsNotRetried(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"))
	fetcher := newScriptedFetcher()
	fetcher.failures["page-a"] = errs.New(errs.CategoryFatal, "browser crashed")

	_, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 5}).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.attempts["page-a"])
}

func TestRunPageIDFilter(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"), competitor(2, "page-b"), competitor(3, "page-c"))
	fetcher := newScriptedFetcher()
	fetcher.ads["page-b"] = []models.RawAd{raw("page-b", "b1")}

	run, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 1}).Run(context.Background(), Options{PageIDs: []string{"page-b"}})
	require.NoError(t, err)

	assert.Equal(t, 1, run.CompetitorsAttempted)
	assert.Equal(t, 0, fetcher.attempts["page-a"])
	assert.Equal(t, 1, fetcher.attempts["page-b"])
	assert.Equal(t, 0, fetcher.attempts["page-c"])
}

func TestRunCancelledContextStopsTheWalk(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"), competitor(2, "page-b"))
	fetcher := newScriptedFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 1}).Run(ctx, Options{})
	require.Error(t, err)
	assert.Equal(t, 0, run.CompetitorsAttempted)
	assert.Equal(t, 0, fetcher.attempts["page-a"])
	require.NotNil(t, run.EndedAt, "the run row is finalized even on cancellation")
}

func TestRunEmptyCompetitorListSucceeds(t *testing.T) {
	store := newMemStore()
	run, err := newTestOrchestrator(store, newScriptedFetcher(), &stubPolicy{retries: 1}).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, 0, run.CompetitorsAttempted)
}

func TestRunAggregatesAcrossRuns(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"))
	fetcher := newScriptedFetcher()
	fetcher.ads["page-a"] = []models.RawAd{raw("page-a", "a1"), raw("page-a", "a2")}
	o := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 1})

	_, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	// Second pass with a1 gone and a3 new.
	fetcher.ads["page-a"] = []models.RawAd{raw("page-a", "a2"), raw("page-a", "a3")}
	run, err := o.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, run.NewCount)
	assert.Equal(t, 1, run.RemovedCount)
	assert.Equal(t, 0, run.UpdatedCount)
	assert.Equal(t, 2, run.AdsFound)
	assert.False(t, store.ads["a1"].IsActive)
}

// cancellingFetcher aborts the run context from inside a fetch, the shape of
// a SIGINT arriving while a competitor is being scraped.
type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancellingFetcher) Fetch(ctx context.Context, competitor *models.Competitor, mode models.FetchMode) ([]models.RawAd, error) {
	f.cancel()
	return nil, ctx.Err()
}

func TestRunAbortedMidRunIsStillPersisted(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "adwatch.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	defer db.Close()
	st := store.New(db)
	require.NoError(t, st.AddCompetitor(context.Background(), &models.Competitor{PageID: "page-a", Name: "page-a"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := reconcile.New(noopResolver{}, 1, nil)
	run, runErr := New(&cancellingFetcher{cancel: cancel}, st, rec, &stubPolicy{retries: 1}, nil).Run(ctx, Options{})
	require.NoError(t, runErr, "a failed competitor never fails the run")
	require.NotNil(t, run.EndedAt)

	runs, err := st.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status, "the persisted row must leave RUNNING")
	assert.NotNil(t, runs[0].EndedAt)

	recorded, err := st.RecentErrors(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, string(errs.CategoryFetchExhausted), recorded[0].Category)
	assert.Equal(t, "page-a", recorded[0].PageID)
}

func TestRunRecordsFetchDiagnostics(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"))
	fetcher := newScriptedFetcher()
	fetcher.failures["page-a"] = errs.New(errs.CategoryFetch, "timed out waiting for results").
		WithCapture("logs/screenshots/page-a_20260830_120000.png")

	_, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 2}).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, store.errors, 1)
	assert.Equal(t, "logs/screenshots/page-a_20260830_120000.png", store.errors[0].DiagnosticCapture)
	assert.Equal(t, 2, store.errors[0].RetryCount)
}

func TestRunRecordsMalformedObservations(t *testing.T) {
	store := newMemStore(competitor(1, "page-a"))
	fetcher := newScriptedFetcher()
	fetcher.ads["page-a"] = []models.RawAd{raw("page-a", "a1"), {PageID: "page-a"}}

	run, err := newTestOrchestrator(store, fetcher, &stubPolicy{retries: 1}).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, models.RunSuccess, run.Status, "malformed records never fail a competitor")
	assert.Equal(t, 1, run.ErrorsCount)
	require.Len(t, store.errors, 1)
	assert.Equal(t, string(errs.CategoryReconcile), store.errors[0].Category)
}
