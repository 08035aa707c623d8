package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"adwatch/pkg/models"
)

var competitorName string

var competitorCmd = &cobra.Command{
	Use:   "competitor",
	Short: "Manage tracked competitors",
}

var competitorAddCmd = &cobra.Command{
	Use:   "add <page_id>",
	Short: "Register a competitor page for tracking",
	Long: `Register an ad library page id for tracking. Re-adding an existing page
updates its name and reactivates it.`,
	Example: `  adwatch competitor add 112233445566 --name "Rival Co"`,
	Args:    cobra.ExactArgs(1),
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

		name := competitorName
		if name == "" {
			name = args[0]
		}
		c := &models.Competitor{PageID: args[0], Name: name}
		if err := st.AddCompetitor(context.Background(), c); err != nil {
			return err
		}
		fmt.Printf("Tracking %s (page id %s, internal id %d)\n", c.Name, c.PageID, c.ID)
		return nil
	},
}

var competitorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered competitors",
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

		competitors, err := st.ListCompetitors(context.Background())
		if err != nil {
			return err
		}
		if len(competitors) == 0 {
			fmt.Println("No competitors registered. Add one with: adwatch competitor add <page_id>")
			return nil
		}
		for _, c := range competitors {
			state := "active"
			if !c.IsActive {
				state = "paused"
			}
			fmt.Printf("%-20s %-30s %s\n", c.PageID, c.Name, state)
		}
		return nil
	},
}

var competitorDisableCmd = &cobra.Command{
	Use:   "disable <page_id>",
	Short: "Stop scraping a competitor without losing its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompetitorActive(args[0], false)
	},
}

var competitorEnableCmd = &cobra.Command{
	Use:   "enable <page_id>",
	Short: "Resume scraping a paused competitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCompetitorActive(args[0], true)
	},
}

func setCompetitorActive(pageID string, active bool) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	st, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := st.SetCompetitorActive(context.Background(), pageID, active); err != nil {
		return err
	}
	if active {
		fmt.Printf("Resumed scraping for %s\n", pageID)
	} else {
		fmt.Printf("Paused scraping for %s\n", pageID)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(competitorCmd)
	competitorCmd.AddCommand(competitorAddCmd, competitorListCmd, competitorEnableCmd, competitorDisableCmd)

	competitorAddCmd.Flags().StringVar(&competitorName, "name", "", "display name for the competitor")
}
