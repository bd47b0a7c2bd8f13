package broker

// Account is the cash side of one trading identity. AccountID is the token.
type Account struct {
	AccountID   string  `json:"account_id"`
	Assets      float64 `json:"assets"`
	Available   float64 `json:"available"`
	MarketValue float64 `json:"market_value"`
	Capital     float64 `json:"capital"`
	Cost        float64 `json:"cost"`
	Tax         float64 `json:"tax"`
	Slippoint   float64 `json:"slippoint"`
	Info        string  `json:"account_info"`
}

// Frozen is the cash reserved by resting buy orders. It is derived, never
// stored.
func (a Account) Frozen() float64 {
	return a.Assets - a.Available - a.MarketValue
}

// AccountRecord is the end-of-day snapshot of an account, one per check date.
type AccountRecord struct {
	AccountID   string  `json:"account_id"`
	CheckDate   string  `json:"check_date"`
	Assets      float64 `json:"assets"`
	Available   float64 `json:"available"`
	MarketValue float64 `json:"market_value"`
}
