package journal

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/papertrade/broker"
)

// FormatOrderOrg renders one order as an Org-mode heading with its facts in
// a PROPERTIES drawer.
func FormatOrderOrg(o broker.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s %d @ %.2f (%s)\n", strings.ToUpper(string(o.OrderType)), o.Symbol(), o.Volume, o.OrderPrice, shortID(o.OrderID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ORDER_ID: %s\n", o.OrderID)
	fmt.Fprintf(&b, ":ACCOUNT_ID: %s\n", o.AccountID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", o.Symbol())
	fmt.Fprintf(&b, ":ORDER_TYPE: %s\n", o.OrderType)
	fmt.Fprintf(&b, ":PRICE_TYPE: %s\n", o.PriceType)
	fmt.Fprintf(&b, ":ORDER_PRICE: %.2f\n", o.OrderPrice)
	fmt.Fprintf(&b, ":TRADE_PRICE: %.2f\n", o.TradePrice)
	fmt.Fprintf(&b, ":VOLUME: %d\n", o.Volume)
	fmt.Fprintf(&b, ":TRADED: %d\n", o.Traded)
	fmt.Fprintf(&b, ":STATUS: %s\n", o.Status)
	fmt.Fprintf(&b, ":DATE: %s %s\n", o.OrderDate, o.OrderTime)
	if o.ErrorMsg != "" {
		fmt.Fprintf(&b, ":ERROR: %s\n", o.ErrorMsg)
	}
	b.WriteString(":END:\n")
	return b.String()
}

// FormatOrdersOrg renders multiple orders separated by blank lines.
func FormatOrdersOrg(orders []broker.Order) string {
	var b strings.Builder
	for i, o := range orders {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatOrderOrg(o))
	}
	return b.String()
}

// FormatAccountOrg renders the account with a table of its positions.
func FormatAccountOrg(a broker.Account, positions []broker.Position) string {
	var b strings.Builder
	fmt.Fprintf(&b, "* Account %s\n", shortID(a.AccountID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ACCOUNT_ID: %s\n", a.AccountID)
	fmt.Fprintf(&b, ":CAPITAL: %.2f\n", a.Capital)
	fmt.Fprintf(&b, ":ASSETS: %.2f\n", a.Assets)
	fmt.Fprintf(&b, ":AVAILABLE: %.2f\n", a.Available)
	fmt.Fprintf(&b, ":MARKET_VALUE: %.2f\n", a.MarketValue)
	fmt.Fprintf(&b, ":FROZEN: %.2f\n", a.Frozen())
	fmt.Fprintf(&b, ":COST: %g\n", a.Cost)
	fmt.Fprintf(&b, ":TAX: %g\n", a.Tax)
	if a.Info != "" {
		fmt.Fprintf(&b, ":INFO: %s\n", a.Info)
	}
	b.WriteString(":END:\n")

	if len(positions) == 0 {
		return b.String()
	}
	b.WriteString("\n** Positions\n")
	b.WriteString("| Symbol | Volume | Available | Buy Price | Now Price | Profit |\n")
	b.WriteString("|--------+--------+-----------+-----------+-----------+--------|\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "| %s | %d | %d | %.2f | %.2f | %.2f |\n",
			p.Symbol(), p.Volume, p.Available, p.BuyPrice, p.NowPrice, p.Profit)
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
