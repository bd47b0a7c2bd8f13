package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the stored ledger",
	Long: `Query and export what the store holds for an account.

Subcommands:
  orders    - List orders, optionally by date and status
  positions - List open positions
  records   - List daily account records
  report    - Summarize performance over the daily records
  export    - Write orders and daily records as CSV or org

Examples:
  papertrade journal orders <token> --date 20240304 --status fully-traded
  papertrade journal records <token> --from 20240101 --to 20240331
  papertrade journal report <token>
  papertrade journal export <token> --orders fills.csv --records daily.csv`,
}

var journalOrdersCmd = &cobra.Command{
	Use:   "orders <token>",
	Short: "List orders",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalOrders,
}

var journalPositionsCmd = &cobra.Command{
	Use:   "positions <token>",
	Short: "List open positions",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPositions,
}

var journalRecordsCmd = &cobra.Command{
	Use:   "records <token>",
	Short: "List daily account records",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalRecords,
}

var journalReportCmd = &cobra.Command{
	Use:   "report <token>",
	Short: "Summarize account performance",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalReport,
}

var journalExportCmd = &cobra.Command{
	Use:   "export <token>",
	Short: "Export orders and daily records",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalExport,
}

var (
	journalDate     string
	journalStatuses []string
	journalFrom     string
	journalTo       string
	journalOrdersTo string
	journalRecsTo   string
	journalFormat   string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrdersCmd, journalPositionsCmd, journalRecordsCmd, journalReportCmd, journalExportCmd)

	journalOrdersCmd.Flags().StringVar(&journalDate, "date", "", "order date YYYYMMDD")
	journalOrdersCmd.Flags().StringSliceVar(&journalStatuses, "status", nil, "order statuses to include")
	for _, c := range []*cobra.Command{journalRecordsCmd, journalReportCmd} {
		c.Flags().StringVar(&journalFrom, "from", "", "first check date YYYYMMDD")
		c.Flags().StringVar(&journalTo, "to", "", "last check date YYYYMMDD")
	}
	journalExportCmd.Flags().StringVar(&journalOrdersTo, "orders", "", "orders output file")
	journalExportCmd.Flags().StringVar(&journalRecsTo, "records", "", "daily records output file")
	journalExportCmd.Flags().StringVar(&journalFormat, "format", "csv", "csv or org")
}

func runJournalOrders(cmd *cobra.Command, args []string) error {
	q := journal.OrderQuery{Date: journalDate}
	for _, s := range journalStatuses {
		q.Statuses = append(q.Statuses, broker.OrderStatus(strings.ToLower(s)))
	}
	return withApp(cmd.Context(), func(a *app) error {
		orders, err := a.engine.Orders(cmd.Context(), args[0], q)
		if err != nil {
			return fmt.Errorf("query orders: %w", err)
		}
		fmt.Println(journal.FormatOrdersOrg(orders))
		return nil
	})
}

func runJournalPositions(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ps, err := a.engine.Positions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %10s %10s %10s %10s %12s %8s\n", "SYMBOL", "VOLUME", "AVAILABLE", "BUY", "NOW", "PROFIT", "SINCE")
		for _, p := range ps {
			fmt.Printf("%-12s %10d %10d %10.2f %10.2f %12.2f %8s\n",
				p.Symbol(), p.Volume, p.Available, p.BuyPrice, p.NowPrice, p.Profit, p.BuyDate)
		}
		return nil
	})
}

func runJournalRecords(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		recs, err := a.journal.AccountRecords(cmd.Context(), args[0], journalFrom, journalTo)
		if err != nil {
			return err
		}
		return journal.WriteAccountRecordsCSV(os.Stdout, recs)
	})
}

func runJournalReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app) error {
		acct, err := a.engine.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		recs, err := a.journal.AccountRecords(ctx, args[0], journalFrom, journalTo)
		if err != nil {
			return err
		}
		posRecs, err := a.journal.PosRecords(ctx, args[0], journalFrom, journalTo, false)
		if err != nil {
			return err
		}
		orders, err := a.journal.Orders(ctx, args[0], journal.OrderQuery{})
		if err != nil {
			return err
		}
		journal.PrintReport(os.Stdout, journal.Summarize(acct, recs, posRecs, orders))
		return nil
	})
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	if journalOrdersTo == "" && journalRecsTo == "" {
		return fmt.Errorf("nothing to export: set --orders and/or --records")
	}
	if journalFormat != "csv" && journalFormat != "org" {
		return fmt.Errorf("unknown format %q", journalFormat)
	}
	ctx := cmd.Context()

	return withApp(ctx, func(a *app) error {
		if journalOrdersTo != "" {
			orders, err := a.journal.Orders(ctx, args[0], journal.OrderQuery{})
			if err != nil {
				return err
			}
			if err := writeFile(journalOrdersTo, func(f *os.File) error {
				if journalFormat == "org" {
					_, err := f.WriteString(journal.FormatOrdersOrg(orders))
					return err
				}
				return journal.WriteOrdersCSV(f, orders)
			}); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote %d orders to %s\n", len(orders), journalOrdersTo)
		}

		if journalRecsTo != "" {
			recs, err := a.journal.AccountRecords(ctx, args[0], "", "")
			if err != nil {
				return err
			}
			if err := writeFile(journalRecsTo, func(f *os.File) error {
				return journal.WriteAccountRecordsCSV(f, recs)
			}); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote %d daily records to %s\n", len(recs), journalRecsTo)
		}
		return nil
	})
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
