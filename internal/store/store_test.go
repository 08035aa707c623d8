package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adwatch/pkg/models"
	"adwatch/pkg/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "adwatch.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func addCompetitor(t *testing.T, s *Store, pageID, name string) *models.Competitor {
	t.Helper()
	c := &models.Competitor{PageID: pageID, Name: name}
	require.NoError(t, s.AddCompetitor(context.Background(), c))
	return c
}

func testAd(competitorID int64, sourceID string, seen time.Time) *models.Ad {
	return &models.Ad{
		CompetitorID:   competitorID,
		SourceAdID:     sourceID,
		Text:           "ad copy for " + sourceID,
		MediaType:      models.MediaImage,
		MediaURL:       "https://cdn.example.com/" + sourceID + ".jpg",
		LandingPageURL: "https://example.com/lp",
		Platforms:      []string{"facebook", "instagram"},
		Regions:        []string{"FI", "SE"},
		FirstSeenAt:    seen,
		LastSeenAt:     seen,
		DaysRunning:    1,
		IsActive:       true,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "adwatch.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
}

func TestAddCompetitorReactivates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := addCompetitor(t, s, "page-1", "Rival Co")
	require.NotZero(t, c.ID)
	require.NoError(t, s.SetCompetitorActive(ctx, "page-1", false))

	active, err := s.ActiveCompetitors(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// Re-adding the same page id reactivates and renames instead of failing
	// the unique constraint.
	again := addCompetitor(t, s, "page-1", "Rival Company Oy")
	assert.Equal(t, c.ID, again.ID)

	active, err = s.ActiveCompetitors(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Rival Company Oy", active[0].Name)
}

func TestSetCompetitorActiveUnknownPage(t *testing.T) {
	s := openTestStore(t)
	err := s.SetCompetitorActive(context.Background(), "nobody", false)
	require.Error(t, err)
}

func TestUpsertAdRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := addCompetitor(t, s, "page-1", "Rival Co")
	seen := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(tx reconcile.Store) error {
		ad := testAd(c.ID, "a1", seen)
		if err := tx.UpsertAd(ctx, ad); err != nil {
			return err
		}
		require.NotZero(t, ad.ID)
		return nil
	})
	require.NoError(t, err)

	ads, err := s.AllAds(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	got := ads[0]
	assert.Equal(t, "a1", got.SourceAdID)
	assert.Equal(t, models.MediaImage, got.MediaType)
	assert.Equal(t, []string{"facebook", "instagram"}, got.Platforms)
	assert.Equal(t, []string{"FI", "SE"}, got.Regions)
	assert.True(t, got.FirstSeenAt.Equal(seen))
	assert.True(t, got.IsActive)

	// Update path: text change and deactivation land, first_seen_at does
	// not move.
	got.Text = "revised copy"
	got.IsActive = false
	err = s.InTx(ctx, func(tx reconcile.Store) error { return tx.UpsertAd(ctx, got) })
	require.NoError(t, err)

	ads, err = s.AllAds(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "revised copy", ads[0].Text)
	assert.False(t, ads[0].IsActive)
	assert.True(t, ads[0].FirstSeenAt.Equal(seen))
}

func TestAdsByCompetitorScopesToCompetitor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c1 := addCompetitor(t, s, "page-1", "One")
	c2 := addCompetitor(t, s, "page-2", "Two")
	seen := time.Now().UTC()

	err := s.InTx(ctx, func(tx reconcile.Store) error {
		if err := tx.UpsertAd(ctx, testAd(c1.ID, "a1", seen)); err != nil {
			return err
		}
		return tx.UpsertAd(ctx, testAd(c2.ID, "b1", seen))
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx reconcile.Store) error {
		ads, err := tx.AdsByCompetitor(ctx, c1.ID)
		if err != nil {
			return err
		}
		assert.Len(t, ads, 1)
		assert.Contains(t, ads, "a1")
		return nil
	})
	require.NoError(t, err)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := addCompetitor(t, s, "page-1", "Rival Co")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx reconcile.Store) error {
		if err := tx.UpsertAd(ctx, testAd(c.ID, "a1", time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	ads, err := s.AllAds(ctx)
	require.NoError(t, err)
	assert.Empty(t, ads, "failed transaction leaves nothing behind")
}

func TestAppendSnapshotMaintainsCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := addCompetitor(t, s, "page-1", "Rival Co")

	run := &models.ScrapeRun{RunType: "ACTIVE_ONLY", Status: models.RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRun(ctx, run))

	var adID int64
	err := s.InTx(ctx, func(tx reconcile.Store) error {
		ad := testAd(c.ID, "a1", time.Now().UTC())
		if err := tx.UpsertAd(ctx, ad); err != nil {
			return err
		}
		adID = ad.ID
		for _, class := range []models.Classification{models.ClassNew, models.ClassUnchanged} {
			snap := &models.AdSnapshot{AdID: ad.ID, RunID: run.ID, Classification: class, CapturedFields: "{}", CapturedAt: time.Now().UTC()}
			if err := tx.AppendSnapshot(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	ads, err := s.AllAds(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, adID, ads[0].ID)
	assert.Equal(t, 2, ads[0].SnapshotCount)
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &models.ScrapeRun{RunType: "BACKFILL", Status: models.RunRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRun(ctx, run))
	require.NotZero(t, run.ID)

	require.NoError(t, s.RecordError(ctx, &models.ScrapeError{
		RunID: run.ID, PageID: "page-1", Category: "fetch_exhausted",
		Message: "timed out", RetryCount: 3, OccurredAt: time.Now().UTC(),
	}))

	ended := time.Now().UTC()
	run.Status = models.RunPartial
	run.EndedAt = &ended
	run.CompetitorsAttempted = 2
	run.CompetitorsFailed = 1
	run.AdsFound = 5
	run.NewCount = 2
	run.ErrorsCount = 1
	run.Metadata = `{"competitors":[]}`
	require.NoError(t, s.FinishRun(ctx, run))

	runs, err := s.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, models.RunPartial, got.Status)
	assert.Equal(t, 2, got.CompetitorsAttempted)
	assert.Equal(t, 5, got.AdsFound)
	require.NotNil(t, got.EndedAt)

	errs, err := s.RecentErrors(ctx, 5)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "page-1", errs[0].PageID)
	assert.Equal(t, 3, errs[0].RetryCount)
}

func TestAdStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c1 := addCompetitor(t, s, "page-1", "One")
	c2 := addCompetitor(t, s, "page-2", "Two")
	seen := time.Now().UTC()

	err := s.InTx(ctx, func(tx reconcile.Store) error {
		a1 := testAd(c1.ID, "a1", seen)
		a2 := testAd(c1.ID, "a2", seen)
		a2.MediaType = models.MediaVideo
		a2.IsActive = false
		b1 := testAd(c2.ID, "b1", seen)
		for _, ad := range []*models.Ad{a1, a2, b1} {
			if err := tx.UpsertAd(ctx, ad); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	stats, err := s.AdStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalAds)
	assert.Equal(t, 2, stats.ActiveAds)
	assert.Equal(t, 1, stats.InactiveAds)
	assert.Equal(t, 2, stats.ByMediaType["IMAGE"])
	assert.Equal(t, 1, stats.ByMediaType["VIDEO"])
	require.Len(t, stats.ByCompetitor, 2)
	assert.Equal(t, "page-1", stats.ByCompetitor[0].PageID)
	assert.Equal(t, 2, stats.ByCompetitor[0].Ads)

	scoped, err := s.AdStats(ctx, "page-2")
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.TotalAds)
	assert.Empty(t, scoped.ByCompetitor)
}

func TestSaveScoresAndTopWinners(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := addCompetitor(t, s, "page-1", "Rival Co")
	seen := time.Now().UTC()

	err := s.InTx(ctx, func(tx reconcile.Store) error {
		for _, id := range []string{"a1", "a2"} {
			if err := tx.UpsertAd(ctx, testAd(c.ID, id, seen)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	ads, err := s.AllAds(ctx)
	require.NoError(t, err)
	ads[0].WinnerScore = 85
	ads[0].ScalingClusterID = "cluster_1_0"
	ads[1].WinnerScore = 40
	require.NoError(t, s.SaveScores(ctx, ads))

	winners, err := s.TopWinners(ctx, 1)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, 85, winners[0].WinnerScore)
	assert.Equal(t, "cluster_1_0", winners[0].ScalingClusterID)
}
