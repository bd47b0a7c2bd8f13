package broker

import (
	"fmt"
	"strings"
)

// Position is the holding of one symbol in one account.
type Position struct {
	Code      string  `json:"code"`
	Exchange  string  `json:"exchange"`
	AccountID string  `json:"account_id"`
	BuyDate   string  `json:"buy_date"`
	Volume    int64   `json:"volume"`
	Available int64   `json:"available"`
	BuyPrice  float64 `json:"buy_price"`
	NowPrice  float64 `json:"now_price"`
	Profit    float64 `json:"profit"`
}

func (p Position) Symbol() string { return JoinSymbol(p.Code, p.Exchange) }

// Value is the position's marked value.
func (p Position) Value() float64 { return float64(p.Volume) * p.NowPrice }

// PosRecord is the history of one holding from first buy until it is
// cleared.
type PosRecord struct {
	Code          string  `json:"code"`
	Exchange      string  `json:"exchange"`
	AccountID     string  `json:"account_id"`
	FirstBuyDate  string  `json:"first_buy_date"`
	LastSellDate  string  `json:"last_sell_date"`
	MaxVol        int64   `json:"max_vol"`
	BuyPriceMean  float64 `json:"buy_price_mean"`
	SellPriceMean float64 `json:"sell_price_mean"`
	Profit        float64 `json:"profit"`
	IsClear       int     `json:"is_clear"`
}

func (r PosRecord) Symbol() string { return JoinSymbol(r.Code, r.Exchange) }

// JoinSymbol builds the pt_symbol "code.exchange".
func JoinSymbol(code, exchange string) string {
	return code + "." + exchange
}

// SplitSymbol parses "code.exchange".
func SplitSymbol(symbol string) (code, exchange string, err error) {
	i := strings.LastIndex(symbol, ".")
	if i <= 0 || i == len(symbol)-1 {
		return "", "", fmt.Errorf("bad symbol %q, want code.exchange", symbol)
	}
	return symbol[:i], symbol[i+1:], nil
}
