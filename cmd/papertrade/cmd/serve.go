package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matching engine until interrupted",
	Long: `Recover every stored account, then match resting orders each period.
With market.enforce_hours set the session follows the trading windows and
every account is liquidated at the close.

Metrics and a health check are served on metrics.addr when it is set.

serve owns the store while it runs: other commands against the same
database fail with "store in use" until it stops.

Example:
  papertrade serve -c papertrade.yaml --fills fills.csv --records daily.csv`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveFills   string
	serveRecords string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFills, "fills", "", "write every order update to this CSV file")
	serveCmd.Flags().StringVar(&serveRecords, "records", "", "write every daily account record to this CSV file")
}

func runServe(cmd *cobra.Command, args []string) error {
	if (serveFills == "") != (serveRecords == "") {
		return fmt.Errorf("--fills and --records must be given together")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	if serveFills != "" {
		csvj, err := journal.NewCSV(serveFills, serveRecords)
		if err != nil {
			return fmt.Errorf("create csv journal: %w", err)
		}
		defer csvj.Close()
		a.engine.Subscribe(csvj)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(ctx); err != nil {
		_ = a.close(context.Background())
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Router(a.engine.Err),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics listener failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
		a.log.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	a.log.Info("engine running", "mode", cfg.Engine.Mode, "persistence", cfg.Engine.Persistence,
		"enforce_hours", cfg.Market.EnforceHours)
	runErr := a.engine.Run(ctx)

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdown)
	}
	a.log.Info("engine stopping")
	return errors.Join(runErr, a.close(shutdown))
}
