package cmd

import (
	"github.com/rustyeddy/papertrade/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "papertrade",
	Short: "A paper-trading back office for exchange-listed equities",
	Long: `Papertrade keeps simulated brokerage accounts and runs their orders
through a matching engine against live or replayed quotes.

It provides tools for:
  - Opening accounts and placing, cancelling and tracking orders
  - Matching in realtime, simulation or backtest mode
  - End-of-day liquidation and daily account records
  - Replaying scripted quote and order files
  - Querying, exporting and summarizing the ledger`,
	SilenceUsage: true,
}

var (
	rootConfigPath string
	rootDBPath     string
	rootLogLevel   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&rootDBPath, "db", "", "SQLite store path, overrides the configured store")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "debug, info, warn or error")
}

// loadConfig reads the --config file, or the defaults with environment
// overrides, then applies the global flags.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if rootConfigPath != "" {
		c, err := config.LoadFromFile(rootConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
		config.ApplyEnv(cfg)
	}

	if rootDBPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = rootDBPath
	}
	if rootLogLevel != "" {
		cfg.Logging.Level = rootLogLevel
	}
	return cfg, cfg.Validate()
}
