package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"adwatch/internal/store"
	"adwatch/pkg/models"
)

// statsStore is the read-side slice of the store the stats command uses.
type statsStore interface {
	RecentRuns(ctx context.Context, limit int) ([]*models.ScrapeRun, error)
	AdStats(ctx context.Context, pageID string) (*store.AdStats, error)
	RecentErrors(ctx context.Context, limit int) ([]*models.ScrapeError, error)
}

var (
	statsRuns       int
	statsAds        bool
	statsErrors     bool
	statsCompetitor string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scrape run history and ad inventory statistics",
	Example: `  # Recent runs
  adwatch stats

  # Inventory breakdown
  adwatch stats --ads

  # One competitor's inventory
  adwatch stats --ads --competitor 112233445566

  # Recent errors
  adwatch stats --errors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		st, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx := context.Background()

		switch {
		case statsErrors:
			return showErrors(ctx, st)
		case statsAds:
			return showAdStats(ctx, st)
		default:
			return showRuns(ctx, st)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().IntVar(&statsRuns, "runs", 5, "number of recent runs to show")
	statsCmd.Flags().BoolVar(&statsAds, "ads", false, "show ad inventory statistics")
	statsCmd.Flags().BoolVar(&statsErrors, "errors", false, "show recent errors")
	statsCmd.Flags().StringVar(&statsCompetitor, "competitor", "", "filter inventory by page id")
}

func showRuns(ctx context.Context, st statsStore) error {
	runs, err := st.RecentRuns(ctx, statsRuns)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No scrape runs recorded yet.")
		return nil
	}
	for _, run := range runs {
		duration := ""
		if run.EndedAt != nil {
			duration = fmt.Sprintf(" (%s)", run.EndedAt.Sub(run.StartedAt).Round(time.Second))
		}
		fmt.Printf("Run #%d [%s] - %s%s\n", run.ID, run.RunType, run.Status, duration)
		fmt.Printf("  Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Competitors: %d attempted (failed: %d)\n", run.CompetitorsAttempted, run.CompetitorsFailed)
		fmt.Printf("  Ads: found=%d new=%d updated=%d removed=%d\n", run.AdsFound, run.NewCount, run.UpdatedCount, run.RemovedCount)
		fmt.Printf("  Media downloaded: %d, errors: %d\n\n", run.MediaDownloaded, run.ErrorsCount)
	}
	return nil
}

func showAdStats(ctx context.Context, st statsStore) error {
	stats, err := st.AdStats(ctx, statsCompetitor)
	if err != nil {
		return err
	}
	fmt.Printf("Total ads: %d (active: %d, inactive: %d)\n", stats.TotalAds, stats.ActiveAds, stats.InactiveAds)
	if len(stats.ByMediaType) > 0 {
		fmt.Println("\nBy media type:")
		for mediaType, count := range stats.ByMediaType {
			fmt.Printf("  %-10s %d\n", mediaType, count)
		}
	}
	if len(stats.ByCompetitor) > 0 {
		fmt.Println("\nBy competitor:")
		for _, c := range stats.ByCompetitor {
			fmt.Printf("  %-30s %d ads (%d active)\n", c.Name, c.Ads, c.Active)
		}
	}
	return nil
}

func showErrors(ctx context.Context, st statsStore) error {
	errs, err := st.RecentErrors(ctx, 10)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		fmt.Println("No errors recorded.")
		return nil
	}
	for _, e := range errs {
		fmt.Printf("[%s] run #%d page %s: %s\n", e.OccurredAt.Format("2006-01-02 15:04"), e.RunID, e.PageID, e.Message)
	}
	return nil
}
