package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rustyeddy/papertrade/journal"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/replay"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.csv>",
	Short: "Replay a quote and order script through the engine",
	Long: `Drive the engine from a CSV script on a clock that follows the script.

Rows are time,symbol,bid,ask[,event,arg1,arg2,arg3] with events
BUY,<ref>,<volume>,<price>  SELL,<ref>,<volume>,<price>  CANCEL,<ref>  LIQUIDATE.
Each new trading day closes the previous one.

Example:
  papertrade replay ticks.csv --mode backtest --capital 1000000 --db replay.sqlite`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayMode     string
	replayAccount  string
	replayCapital  float64
	replayCloseEnd bool
	replayFrom     string
	replayTo       string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayMode, "mode", "backtest", "realtime, simulation or backtest")
	replayCmd.Flags().StringVar(&replayAccount, "account", "", "existing account token (default creates one)")
	replayCmd.Flags().Float64Var(&replayCapital, "capital", 0, "capital of the created account (default from config)")
	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", true, "close the last day after the final row")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "optional RFC3339 start time")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "optional RFC3339 end time")
}

func runReplay(cmd *cobra.Command, args []string) error {
	var (
		opts = replay.Options{
			Token:         replayAccount,
			Capital:       replayCapital,
			TickThenEvent: true,
			CloseEnd:      replayCloseEnd,
		}
		err error
	)
	if replayFrom != "" {
		if opts.From, err = time.Parse(time.RFC3339, replayFrom); err != nil {
			return fmt.Errorf("bad --from: %w", err)
		}
	}
	if replayTo != "" {
		if opts.To, err = time.Parse(time.RFC3339, replayTo); err != nil {
			return fmt.Errorf("bad --to: %w", err)
		}
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && !opts.From.Before(opts.To) {
		return fmt.Errorf("--from must be before --to")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Engine.Mode = replayMode
	cfg.Market.EnforceHours = false
	if err := cfg.Validate(); err != nil {
		return err
	}

	clock := &replay.Clock{}
	quotes := market.NewQuoteStore()
	a, err := newApp(cfg, withQuotes(quotes), withClock(clock.Now))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.close(ctx)

	r := replay.New(a.engine, quotes, clock, a.log)
	sum, err := r.File(ctx, args[0], opts)
	if err != nil {
		return err
	}

	fmt.Printf("Replayed %d rows: %d orders, %d refused, %d cancelled\n",
		sum.Rows, sum.Orders, sum.Rejections, sum.Cancels)

	acct, err := a.engine.GetAccount(ctx, sum.Token)
	if err != nil {
		return err
	}
	orders, err := a.engine.Orders(ctx, sum.Token, journal.OrderQuery{})
	if err != nil {
		return err
	}
	rep := journal.Summarize(acct, sum.Days, nil, orders)
	journal.PrintReport(os.Stdout, rep)
	return nil
}
