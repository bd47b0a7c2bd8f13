package cmd

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/papertrade/broker"
	"github.com/rustyeddy/papertrade/journal"
	"github.com/spf13/cobra"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Place, cancel and track orders",
	Long: `Submit orders to the matching engine and follow their status.

A price of 0 places a market order, which fills at the quote.

Examples:
  papertrade order buy <token> 600000.SH 1000 --price 10.00
  papertrade order sell <token> 600000.SH 1000
  papertrade order cancel <token> <order-id>
  papertrade order status <token> <order-id>`,
}

var orderBuyCmd = &cobra.Command{
	Use:   "buy <token> <code.exchange> <volume>",
	Short: "Place a buy order",
	Args:  cobra.ExactArgs(3),
	RunE:  func(cmd *cobra.Command, args []string) error { return runOrderSubmit(cmd, args, broker.OrderBuy) },
}

var orderSellCmd = &cobra.Command{
	Use:   "sell <token> <code.exchange> <volume>",
	Short: "Place a sell order",
	Args:  cobra.ExactArgs(3),
	RunE:  func(cmd *cobra.Command, args []string) error { return runOrderSubmit(cmd, args, broker.OrderSell) },
}

var orderCancelCmd = &cobra.Command{
	Use:   "cancel <token> <order-id>",
	Short: "Cancel a resting order",
	Args:  cobra.ExactArgs(2),
	RunE:  runOrderCancel,
}

var orderStatusCmd = &cobra.Command{
	Use:   "status <token> <order-id>",
	Short: "Show one order",
	Args:  cobra.ExactArgs(2),
	RunE:  runOrderStatus,
}

var (
	orderPrice float64
	orderDate  string
)

func init() {
	rootCmd.AddCommand(orderCmd)
	orderCmd.AddCommand(orderBuyCmd, orderSellCmd, orderCancelCmd, orderStatusCmd)

	for _, c := range []*cobra.Command{orderBuyCmd, orderSellCmd} {
		c.Flags().Float64VarP(&orderPrice, "price", "p", 0, "limit price, 0 for a market order")
		c.Flags().StringVar(&orderDate, "date", "", "order date YYYYMMDD (default today)")
	}
}

func runOrderSubmit(cmd *cobra.Command, args []string, typ broker.OrderType) error {
	code, exch, err := broker.SplitSymbol(args[1])
	if err != nil {
		return err
	}
	var volume int64
	if _, err := fmt.Sscan(args[2], &volume); err != nil {
		return fmt.Errorf("bad volume %q: %w", args[2], err)
	}

	return withApp(cmd.Context(), func(a *app) error {
		o, err := a.engine.SubmitOrder(cmd.Context(), broker.OrderRequest{
			AccountID: args[0],
			Code:      code,
			Exchange:  exch,
			OrderType: typ,
			Price:     orderPrice,
			Volume:    volume,
			OrderDate: orderDate,
		})
		var rej *broker.Rejection
		if errors.As(err, &rej) {
			fmt.Printf("✗ Rejected: %s\n", rej.Reason)
			return err
		}
		if err != nil {
			return err
		}
		fmt.Println(journal.FormatOrderOrg(o))
		return nil
	})
}

func runOrderCancel(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		if err := a.engine.CancelOrder(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("✓ Cancelled %s\n", args[1])
		return nil
	})
}

func runOrderStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		o, err := a.engine.OrderStatus(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(journal.FormatOrderOrg(o))
		return nil
	})
}
