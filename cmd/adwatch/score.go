package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"adwatch/pkg/scoring"
)

var scoreTop int

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score all ads and detect scaling clusters",
	Long: `Recompute winner scores for every tracked ad and group near-duplicate
variants into scaling clusters. An ad that has run for months with healthy
delivery scores high; a throttled or short-lived ad scores low.`,
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

		ads, err := st.AllAds(ctx)
		if err != nil {
			return err
		}
		if len(ads) == 0 {
			fmt.Println("No ads to score yet. Run a scrape first.")
			return nil
		}

		stats := scoring.ScoreAll(ads)
		if err := st.SaveScores(ctx, ads); err != nil {
			return err
		}

		fmt.Printf("Scored %d ads: %d winners (>=50), %d top performers (>=75), %d scaling clusters\n",
			stats.Scored, stats.Winners, stats.TopPerformers, stats.ClustersFound)

		winners, err := st.TopWinners(ctx, scoreTop)
		if err != nil {
			return err
		}
		if len(winners) > 0 {
			fmt.Println("\nTop ads:")
			for _, ad := range winners {
				cluster := ""
				if ad.ScalingClusterID != "" {
					cluster = "  [" + ad.ScalingClusterID + "]"
				}
				fmt.Printf("  %3d  %s  %d days%s\n", ad.WinnerScore, ad.SourceAdID, ad.DaysRunning, cluster)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().IntVar(&scoreTop, "top", 10, "number of top ads to print")
}
