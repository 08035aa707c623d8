package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database and schema",
	Long: `Create the SQLite database file and its schema. Safe to run repeatedly;
existing data is never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		_, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Printf("Database ready at %s\n", cfg.Database.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
