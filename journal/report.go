package journal

import (
	"fmt"
	"io"
	"math"

	"github.com/rustyeddy/papertrade/broker"
)

// TradingDaysPerYear annualizes returns and the Sharpe ratio.
const TradingDaysPerYear = 240

// Report summarizes an account's performance from its daily records, its
// holding histories and its filled orders.
type Report struct {
	AccountID string
	StartDate string
	EndDate   string

	TotalDays  int
	ProfitDays int
	LossDays   int

	Capital    float64
	EndBalance float64
	NetPL      float64

	// MaxDrawdown is the largest peak-to-trough fall in assets.
	MaxDrawdown   float64
	MaxDDPct      float64
	TotalReturn   float64
	AnnualReturn  float64
	DailyReturn   float64
	ReturnStd     float64
	SharpeRatio   float64
	TotalTurnover float64
	TotalFees     float64
	TradeCount    int

	Wins    int
	Losses  int
	WinRate float64
}

// Summarize builds the report. records must be sorted by check date.
func Summarize(acct broker.Account, records []broker.AccountRecord, posRecs []broker.PosRecord, orders []broker.Order) Report {
	r := Report{
		AccountID:  acct.AccountID,
		Capital:    acct.Capital,
		EndBalance: acct.Assets,
		TotalDays:  len(records),
	}

	for _, o := range orders {
		if o.Status != broker.StatusAllTraded {
			continue
		}
		turnover := o.TradePrice * float64(o.Traded)
		r.TradeCount++
		r.TotalTurnover += turnover
		r.TotalFees += turnover * acct.Cost
		if o.OrderType == broker.OrderSell {
			r.TotalFees += turnover * acct.Tax
		}
	}
	r.TotalTurnover = broker.Round(r.TotalTurnover, broker.DefaultPoint)
	r.TotalFees = broker.Round(r.TotalFees, broker.DefaultPoint)

	for _, p := range posRecs {
		if p.IsClear == 0 {
			continue
		}
		if p.Profit > 0 {
			r.Wins++
		} else {
			r.Losses++
		}
	}
	if n := r.Wins + r.Losses; n > 0 {
		r.WinRate = float64(r.Wins) / float64(n) * 100
	}

	if len(records) == 0 {
		r.NetPL = broker.Round(r.EndBalance-r.Capital, broker.DefaultPoint)
		return r
	}

	r.StartDate = records[0].CheckDate
	r.EndDate = records[len(records)-1].CheckDate
	r.EndBalance = records[len(records)-1].Assets
	r.NetPL = broker.Round(r.EndBalance-r.Capital, broker.DefaultPoint)

	prev := r.Capital
	peak := r.Capital
	returns := make([]float64, 0, len(records))
	for _, rec := range records {
		pnl := rec.Assets - prev
		switch {
		case pnl > 0:
			r.ProfitDays++
		case pnl < 0:
			r.LossDays++
		}
		if prev != 0 {
			returns = append(returns, pnl/prev)
		}
		prev = rec.Assets

		if rec.Assets > peak {
			peak = rec.Assets
		}
		if dd := peak - rec.Assets; dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
			if peak != 0 {
				r.MaxDDPct = dd / peak * 100
			}
		}
	}
	r.MaxDrawdown = broker.Round(r.MaxDrawdown, broker.DefaultPoint)

	if r.Capital != 0 {
		r.TotalReturn = (r.EndBalance/r.Capital - 1) * 100
		r.AnnualReturn = r.TotalReturn / float64(r.TotalDays) * TradingDaysPerYear
	}

	mean, std := meanStd(returns)
	r.DailyReturn = mean * 100
	r.ReturnStd = std * 100
	if std > 0 {
		r.SharpeRatio = mean / std * math.Sqrt(TradingDaysPerYear)
	}
	return r
}

// meanStd returns the mean and sample standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Account Report")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Account:        %s\n", r.AccountID)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "First Day:      %s\n", orDash(r.StartDate))
	fmt.Fprintf(w, "Last Day:       %s\n", orDash(r.EndDate))
	fmt.Fprintf(w, "Trading Days:   %d\n", r.TotalDays)
	fmt.Fprintf(w, "Profit Days:    %d\n", r.ProfitDays)
	fmt.Fprintf(w, "Loss Days:      %d\n", r.LossDays)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Capital:        %.2f\n", r.Capital)
	fmt.Fprintf(w, "End Balance:    %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Net P/L:        %.2f\n", r.NetPL)
	fmt.Fprintf(w, "Total Return:   %.2f%%\n", r.TotalReturn)
	fmt.Fprintf(w, "Annual Return:  %.2f%%\n", r.AnnualReturn)
	fmt.Fprintf(w, "Max Drawdown:   %.2f (%.2f%%)\n", r.MaxDrawdown, r.MaxDDPct)
	fmt.Fprintf(w, "Daily Return:   %.4f%%\n", r.DailyReturn)
	fmt.Fprintf(w, "Return Std:     %.4f%%\n", r.ReturnStd)
	fmt.Fprintf(w, "Sharpe Ratio:   %.2f\n", r.SharpeRatio)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Fills:          %d\n", r.TradeCount)
	fmt.Fprintf(w, "Turnover:       %.2f\n", r.TotalTurnover)
	fmt.Fprintf(w, "Fees:           %.2f\n", r.TotalFees)
	fmt.Fprintf(w, "Wins:           %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:         %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:       %.2f%%\n", r.WinRate)
	fmt.Fprintln(w)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
