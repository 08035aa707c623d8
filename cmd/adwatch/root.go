package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"adwatch/internal/store"
	"adwatch/pkg/config"
	"adwatch/pkg/logger"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile   string
	logLevel     string
	databasePath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "adwatch",
	Short: "Track competitor ads in the public ad library",
	Long: `adwatch scrapes competitors' ads from the public ad library on a schedule,
detects what is new, changed, or gone since the last run, and keeps a full
snapshot history with downloaded creatives.

Typical workflow:
  1. adwatch init-db
  2. adwatch competitor add <page_id> --name "Rival Co"
  3. adwatch scrape              (run periodically)
  4. adwatch score               (rank long-running winners)
  5. adwatch stats               (inspect runs and inventory)`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .adwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "path to the SQLite database")

	rootCmd.SetVersionTemplate(`adwatch {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig builds the effective configuration from defaults, file, env,
// and the global flags, then initializes logging.
func loadConfig(extraFlags map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if databasePath != "" {
		flags["database"] = databasePath
	}
	for k, v := range extraFlags {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the database and ensures the schema exists.
func openStore(cfg *config.Config) (*store.Store, *store.DB, error) {
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.New(db), db, nil
}
