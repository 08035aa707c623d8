package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"adwatch/internal/fetcher/adlibrary"
	"adwatch/pkg/logger"
	"adwatch/pkg/media"
	"adwatch/pkg/models"
	"adwatch/pkg/orchestrator"
	"adwatch/pkg/ratelimit"
	"adwatch/pkg/reconcile"
)

var (
	scrapeBackfill    bool
	scrapeCompetitors []string
	scrapeMaxRetries  int
	scrapeHeadless    bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape pass over the tracked competitors",
	Long: `Scrape every active competitor's ads from the ad library, one competitor
at a time with randomized pauses in between, and reconcile the results
against the stored state.

A competitor whose fetch keeps failing is recorded and skipped; the run
continues with the rest. The command exits non-zero when the whole run
failed.`,
	Example: `  # Scrape all active competitors (active ads only)
  adwatch scrape

  # Full historical backfill
  adwatch scrape --backfill

  # Only specific competitors
  adwatch scrape --competitor 112233445566 --competitor 998877665544`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().BoolVar(&scrapeBackfill, "backfill", false, "fetch the full inventory including inactive ads")
	scrapeCmd.Flags().StringArrayVar(&scrapeCompetitors, "competitor", nil, "limit the run to a page id (repeatable)")
	scrapeCmd.Flags().IntVar(&scrapeMaxRetries, "max-retries", -1, "override fetch retry attempts per competitor")
	scrapeCmd.Flags().BoolVar(&scrapeHeadless, "headless", true, "run the browser headless")
}

func runScrape(cmd *cobra.Command) error {
	extra := map[string]interface{}{}
	if scrapeMaxRetries >= 0 {
		extra["max-retries"] = scrapeMaxRetries
	}
	if cmd.Flags().Changed("headless") {
		extra["headless"] = scrapeHeadless
	}
	cfg, err := loadConfig(extra)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	st, db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := ratelimit.NewJitteredPolicy(&cfg.Scraper)
	fetcher := adlibrary.New(&cfg.Scraper, policy, log)
	mediaStore, err := media.NewStore(cfg.Media.BasePath, cfg.Media.DownloadTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to prepare media storage: %w", err)
	}
	reconciler := reconcile.New(mediaStore, cfg.Media.ConcurrentDownloads, log)
	orch := orchestrator.New(fetcher, st, reconciler, policy, log)

	mode := models.FetchActiveOnly
	if scrapeBackfill {
		mode = models.FetchBackfill
	}

	run, err := orch.Run(ctx, orchestrator.Options{Mode: mode, PageIDs: scrapeCompetitors})
	if err != nil {
		return fmt.Errorf("scrape run failed: %w", err)
	}

	stats := mediaStore.Stats()
	fmt.Printf("Run #%d finished: %s\n", run.ID, run.Status)
	fmt.Printf("  Competitors: %d attempted, %d failed\n", run.CompetitorsAttempted, run.CompetitorsFailed)
	fmt.Printf("  Ads: found=%d new=%d updated=%d removed=%d\n", run.AdsFound, run.NewCount, run.UpdatedCount, run.RemovedCount)
	fmt.Printf("  Media: %d downloaded, %d dedup hits, %d failed\n", stats.Downloads, stats.DedupHits, stats.Failures)
	fmt.Printf("  Errors: %d\n", run.ErrorsCount)

	if run.Status == models.RunFailed {
		return fmt.Errorf("run #%d failed", run.ID)
	}
	return nil
}
