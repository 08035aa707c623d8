// Package adlibrary fetches a competitor's ads from the public ad library
// with a headless browser. The library is an infinite-scroll page with no
// stable API, so the fetcher scrolls until the page stops growing and then
// extracts ad cards from the DOM.
package adlibrary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"adwatch/pkg/config"
	errs "adwatch/pkg/errors"
	"adwatch/pkg/logger"
	"adwatch/pkg/models"
	"adwatch/pkg/ratelimit"
	"adwatch/pkg/retry"
)

const searchURLFormat = "https://www.facebook.com/ads/library/?active_status=%s&ad_type=all&country=ALL&view_all_page_id=%s&search_type=page&media_type=all"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	maxScrolls      = 50
	maxNoChange     = 5
	seeMoreInterval = 3
)

// Fetcher drives a headless Chrome against the ad library search page.
type Fetcher struct {
	headless      bool
	timeout       time.Duration
	screenshotDir string
	policy        ratelimit.Policy
	logger        logger.Logger
}

// New creates a Fetcher. The policy supplies the jittered scroll pacing.
func New(cfg *config.ScraperConfig, policy ratelimit.Policy, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{
		headless:      cfg.Headless,
		timeout:       cfg.BrowserTimeout,
		screenshotDir: cfg.ScreenshotDir,
		policy:        policy,
		logger:        log,
	}
}

// SearchURL builds the library search URL for one page. ACTIVE_ONLY narrows
// the listing to running ads; BACKFILL asks for the full inventory.
func SearchURL(pageID string, mode models.FetchMode) string {
	status := "active"
	if mode == models.FetchBackfill {
		status = "all"
	}
	return fmt.Sprintf(searchURLFormat, status, pageID)
}

// Fetch loads, scrolls, and extracts one competitor's ads. Failures are
// categorized as transient fetch errors so the caller's retry policy applies,
// and a full-page screenshot is saved next to the logs for diagnosis.
func (f *Fetcher) Fetch(ctx context.Context, competitor *models.Competitor, mode models.FetchMode) ([]models.RawAd, error) {
	url := SearchURL(competitor.PageID, mode)
	f.logger.InfoWithFields("scraping competitor", map[string]interface{}{
		"page_id": competitor.PageID,
		"url":     url,
	})

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, f.timeout)
	defer cancelTimeout()

	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return nil, errs.Wrap(errs.CategoryFetch, "failed to load ad library page", err).
			WithCapture(f.captureDiagnostic(taskCtx, competitor.PageID))
	}

	var noResults bool
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(noResultsJS, &noResults)); err == nil && noResults {
		f.logger.WarnWithFields("no ads found", map[string]interface{}{"page_id": competitor.PageID})
		return nil, nil
	}

	if err := f.scrollToLoadAll(taskCtx); err != nil {
		return nil, errs.Wrap(errs.CategoryFetch, "failed while scrolling", err).
			WithCapture(f.captureDiagnostic(taskCtx, competitor.PageID))
	}

	var extracted []extractedAd
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(extractAdsJS, &extracted)); err != nil {
		return nil, errs.Wrap(errs.CategoryFetch, "failed to extract ads", err).
			WithCapture(f.captureDiagnostic(taskCtx, competitor.PageID))
	}

	rawAds := toRawAds(competitor.PageID, extracted)
	f.logger.InfoWithFields("ads extracted", map[string]interface{}{
		"page_id": competitor.PageID,
		"count":   len(rawAds),
	})
	return rawAds, nil
}

// scrollToLoadAll keeps scrolling until the page height settles, expanding
// truncated ad text along the way. Each step waits a jittered scroll delay.
func (f *Fetcher) scrollToLoadAll(ctx context.Context) error {
	previousHeight := -1
	noChange := 0

	for scroll := 1; scroll <= maxScrolls && noChange < maxNoChange; scroll++ {
		var height int
		err := chromedp.Run(ctx,
			chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight); document.body.scrollHeight", &height),
		)
		if err != nil {
			return err
		}

		if err := retry.Wait(ctx, f.policy.ScrollDelay()); err != nil {
			return err
		}

		var newHeight int
		if err := chromedp.Run(ctx, chromedp.Evaluate("document.body.scrollHeight", &newHeight)); err != nil {
			return err
		}
		if newHeight == previousHeight {
			noChange++
		} else {
			noChange = 0
		}
		previousHeight = newHeight

		if scroll%seeMoreInterval == 0 {
			var clicked int
			if err := chromedp.Run(ctx, chromedp.Evaluate(clickSeeMoreJS, &clicked)); err == nil && clicked > 0 {
				f.logger.DebugWithFields("expanded truncated ads", map[string]interface{}{"clicked": clicked})
			}
		}
		if scroll%10 == 0 {
			f.logger.DebugWithFields("scroll progress", map[string]interface{}{
				"scrolls": scroll,
				"height":  newHeight,
			})
		}
	}
	return nil
}

// captureDiagnostic saves a full-page screenshot so a selector drift or a
// block page can be diagnosed after the fact, and returns the saved path so
// it can travel with the error into the scrape_errors row. Best effort; an
// empty path means nothing was captured.
func (f *Fetcher) captureDiagnostic(ctx context.Context, pageID string) string {
	if f.screenshotDir == "" {
		return ""
	}
	var buf []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(ctx)
		return err
	}))
	if err != nil || len(buf) == 0 {
		return ""
	}

	if err := os.MkdirAll(f.screenshotDir, 0755); err != nil {
		return ""
	}
	path := filepath.Join(f.screenshotDir, fmt.Sprintf("%s_%s.png", pageID, time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, buf, 0644); err != nil {
		f.logger.WithError(err).Warn("failed to save diagnostic screenshot")
		return ""
	}
	f.logger.InfoWithFields("diagnostic screenshot saved", map[string]interface{}{"path": path})
	return path
}
