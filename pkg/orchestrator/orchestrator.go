package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	errs "adwatch/pkg/errors"
	"adwatch/pkg/logger"
	"adwatch/pkg/models"
	"adwatch/pkg/ratelimit"
	"adwatch/pkg/reconcile"
	"adwatch/pkg/retry"
)

// Options selects what a run covers.
type Options struct {
	// Mode is ACTIVE_ONLY or BACKFILL.
	Mode models.FetchMode
	// PageIDs limits the run to the named competitors. Empty means every
	// active competitor.
	PageIDs []string
}

// Orchestrator walks the competitor list sequentially, fetching and
// reconciling one competitor at a time with jittered pauses in between.
// Competitors are never scraped in parallel; a single paced visitor is the
// whole point of the pacing policy.
type Orchestrator struct {
	fetcher    Fetcher
	store      Store
	reconciler *reconcile.Reconciler
	policy     ratelimit.Policy
	logger     logger.Logger
	now        func() time.Time
}

// New wires an orchestrator.
func New(fetcher Fetcher, store Store, reconciler *reconcile.Reconciler, policy ratelimit.Policy, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		store:      store,
		reconciler: reconciler,
		policy:     policy,
		logger:     log,
		now:        time.Now,
	}
}

// competitorResult is the per-competitor line recorded in run metadata.
type competitorResult struct {
	PageID  string `json:"page_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Ads     int    `json:"ads,omitempty"`
	New     int    `json:"new,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Removed int    `json:"removed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Run executes one scrape pass. A competitor whose fetch exhausts its
// retries is recorded and skipped; only storage failures abort the run. The
// returned ScrapeRun is always persisted, whatever the error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*models.ScrapeRun, error) {
	mode := opts.Mode
	if mode == "" {
		mode = models.FetchActiveOnly
	}

	competitors, err := o.store.ActiveCompetitors(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryFatal, "failed to load competitors", err)
	}
	competitors = filterCompetitors(competitors, opts.PageIDs)

	run := &models.ScrapeRun{
		RunType:   string(mode),
		Status:    models.RunRunning,
		StartedAt: o.now(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, errs.Wrap(errs.CategoryFatal, "failed to create run", err)
	}

	o.logger.InfoWithFields("scrape run started", map[string]interface{}{
		"run_id":      run.ID,
		"mode":        string(mode),
		"competitors": len(competitors),
	})

	results := make([]competitorResult, 0, len(competitors))
	var runErr error

	for i, competitor := range competitors {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}
		if i > 0 {
			delay := o.policy.CompetitorDelay()
			o.logger.DebugWithFields("pausing before next competitor", map[string]interface{}{
				"delay_s": delay.Seconds(),
				"page_id": competitor.PageID,
			})
			if err := retry.Wait(ctx, delay); err != nil {
				runErr = err
				break
			}
		}

		run.CompetitorsAttempted++
		result := competitorResult{PageID: competitor.PageID, Name: competitor.Name}

		rawAds, err := o.fetchWithRetry(ctx, competitor, mode)
		if err != nil {
			run.CompetitorsFailed++
			run.ErrorsCount++
			result.Status = "failed"
			result.Error = err.Error()
			results = append(results, result)
			o.recordError(ctx, run.ID, competitor.PageID, errs.CategoryFetchExhausted, err)
			o.logger.ErrorWithFields("competitor fetch exhausted retries", map[string]interface{}{
				"page_id": competitor.PageID,
				"error":   err.Error(),
			})
			continue
		}

		var diff *reconcile.Diff
		txErr := o.store.InTx(ctx, func(tx reconcile.Store) error {
			var rerr error
			diff, rerr = o.reconciler.Reconcile(ctx, competitor, rawAds, run.ID, tx)
			return rerr
		})
		if txErr != nil {
			// Reconciliation only fails on storage problems; that is not a
			// per-competitor condition, the run cannot continue.
			runErr = txErr
			result.Status = "failed"
			result.Error = txErr.Error()
			results = append(results, result)
			o.recordError(ctx, run.ID, competitor.PageID, errs.CategoryFatal, txErr)
			break
		}

		seen := diff.New + diff.Updated + diff.Unchanged
		run.AdsFound += seen
		run.NewCount += diff.New
		run.UpdatedCount += diff.Updated
		run.RemovedCount += diff.Removed
		run.MediaDownloaded += diff.MediaResolved
		for _, m := range diff.Malformed {
			run.ErrorsCount++
			o.recordError(ctx, run.ID, competitor.PageID, errs.CategoryReconcile, m.Err)
		}
		for _, f := range diff.MediaFailures {
			run.ErrorsCount++
			o.recordError(ctx, run.ID, competitor.PageID, errs.CategoryDownload, f.Err)
		}

		result.Status = "ok"
		result.Ads = seen
		result.New = diff.New
		result.Updated = diff.Updated
		result.Removed = diff.Removed
		results = append(results, result)

		o.logger.InfoWithFields("competitor reconciled", map[string]interface{}{
			"page_id":   competitor.PageID,
			"ads":       seen,
			"new":       diff.New,
			"updated":   diff.Updated,
			"removed":   diff.Removed,
			"unchanged": diff.Unchanged,
		})
	}

	o.finalize(ctx, run, results, runErr)
	return run, runErr
}

// fetchWithRetry runs one competitor's fetch under the retry policy. Only
// transient fetch errors are retried; the backoff curve comes from the
// pacing policy so retries carry the same jitter as everything else.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, competitor *models.Competitor, mode models.FetchMode) ([]models.RawAd, error) {
	var rawAds []models.RawAd
	retries := 0
	err := retry.Do(func() error {
		var ferr error
		rawAds, ferr = o.fetcher.Fetch(ctx, competitor, mode)
		return ferr
	}, &retry.Config{
		MaxAttempts: o.policy.MaxRetries(),
		Backoff:     retry.BackoffFunc(o.policy.RetryDelay),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = attempt
		},
		Context: ctx,
		Logger:  o.logger.WithField("page_id", competitor.PageID),
	})
	if err != nil {
		exhausted := errs.Wrap(errs.CategoryFetchExhausted, "fetch failed for "+competitor.PageID, err)
		exhausted.Retries = retries
		// Surface the diagnostic of the last attempt on the recorded error.
		var inner *errs.Error
		if errors.As(err, &inner) {
			exhausted.Capture = inner.Capture
		}
		return nil, exhausted
	}
	return rawAds, nil
}

// writeCtx returns a context for bookkeeping writes. An aborted run still has
// to land its run row and error records, so once the run context is cancelled
// the write gets a short detached deadline instead.
func writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (o *Orchestrator) finalize(ctx context.Context, run *models.ScrapeRun, results []competitorResult, runErr error) {
	ended := o.now()
	run.EndedAt = &ended

	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		run.Status = models.RunFailed
	case run.CompetitorsAttempted > 0 && run.CompetitorsFailed == run.CompetitorsAttempted:
		run.Status = models.RunFailed
	case run.CompetitorsFailed > 0 || runErr != nil:
		run.Status = models.RunPartial
	default:
		run.Status = models.RunSuccess
	}

	if meta, err := json.Marshal(map[string]interface{}{"competitors": results}); err == nil {
		run.Metadata = string(meta)
	}

	wctx, cancel := writeCtx(ctx)
	defer cancel()
	if err := o.store.FinishRun(wctx, run); err != nil {
		o.logger.WithError(err).Error("failed to persist run result")
	}
	o.logger.InfoWithFields("scrape run finished", map[string]interface{}{
		"run_id":   run.ID,
		"status":   string(run.Status),
		"ads":      run.AdsFound,
		"new":      run.NewCount,
		"updated":  run.UpdatedCount,
		"removed":  run.RemovedCount,
		"failures": run.CompetitorsFailed,
		"duration": ended.Sub(run.StartedAt).String(),
	})
}

func (o *Orchestrator) recordError(ctx context.Context, runID int64, pageID string, cat errs.Category, err error) {
	scrapeErr := &models.ScrapeError{
		RunID:      runID,
		PageID:     pageID,
		Category:   string(cat),
		Message:    err.Error(),
		OccurredAt: o.now(),
	}
	var catErr *errs.Error
	if errors.As(err, &catErr) {
		scrapeErr.DiagnosticCapture = catErr.Capture
		scrapeErr.RetryCount = catErr.Retries
	}
	wctx, cancel := writeCtx(ctx)
	defer cancel()
	if rerr := o.store.RecordError(wctx, scrapeErr); rerr != nil {
		o.logger.WithError(rerr).Warn("failed to record scrape error")
	}
}

func filterCompetitors(competitors []*models.Competitor, pageIDs []string) []*models.Competitor {
	if len(pageIDs) == 0 {
		return competitors
	}
	wanted := make(map[string]bool, len(pageIDs))
	for _, id := range pageIDs {
		wanted[id] = true
	}
	filtered := make([]*models.Competitor, 0, len(pageIDs))
	for _, c := range competitors {
		if wanted[c.PageID] {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
