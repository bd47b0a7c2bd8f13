package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/spf13/cobra"
)

var liquidateCmd = &cobra.Command{
	Use:   "liquidate <token>",
	Short: "Settle an account for the day",
	Long: `Mark every holding to a settlement price, make all shares available and
release reserved cash, then write the day's account record. Resting orders
of the account are rejected first.

Prices not given with --price come from the quote provider.

Example:
  papertrade liquidate <token> --date 20240304 --price 600000.SH=10.52`,
	Args: cobra.ExactArgs(1),
	RunE: runLiquidate,
}

var (
	liquidateDate   string
	liquidatePrices []string
)

func init() {
	rootCmd.AddCommand(liquidateCmd)
	liquidateCmd.Flags().StringVar(&liquidateDate, "date", "", "check date YYYYMMDD (default today)")
	liquidateCmd.Flags().StringArrayVar(&liquidatePrices, "price", nil, "settlement price as code.exchange=price, repeatable")
}

func runLiquidate(cmd *cobra.Command, args []string) error {
	prices, err := parsePrices(liquidatePrices)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		ps, err := a.engine.Positions(ctx, args[0])
		if err != nil {
			return err
		}
		for _, p := range ps {
			if _, ok := prices[p.Symbol()]; ok {
				continue
			}
			if q, err := a.quotes.Quote(ctx, p.Symbol()); err == nil && q.Close() > 0 {
				prices[p.Symbol()] = q.Close()
			}
		}

		date := liquidateDate
		if date == "" {
			date = a.engine.Exchange().Hours().Date(time.Now())
		}
		rec, stale, err := a.engine.Liquidate(ctx, args[0], date, prices)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Liquidated %s for %s\n", rec.AccountID, rec.CheckDate)
		fmt.Printf("  Assets:       %.2f\n", rec.Assets)
		fmt.Printf("  Available:    %.2f\n", rec.Available)
		fmt.Printf("  Market Value: %.2f\n", rec.MarketValue)
		if len(stale) > 0 {
			fmt.Printf("  No price for: %s\n", strings.Join(stale, ", "))
		}
		return nil
	})
}

func parsePrices(kvs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(kvs))
	for _, kv := range kvs {
		sym, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad price %q, want code.exchange=price", kv)
		}
		if _, _, err := broker.SplitSymbol(sym); err != nil {
			return nil, err
		}
		px, err := strconv.ParseFloat(v, 64)
		if err != nil || px <= 0 {
			return nil, fmt.Errorf("bad price %q", kv)
		}
		out[sym] = px
	}
	return out, nil
}
