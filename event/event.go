// Package event defines the closed set of domain events emitted by the
// ledger and the bus that delivers them to subscribers.
package event

import "github.com/rustyeddy/papertrade/broker"

type Kind string

const (
	KindAccountUpdated           Kind = "account-updated"
	KindAccountAvailableUpdated  Kind = "account-available-updated"
	KindAccountAssetsUpdated     Kind = "account-assets-updated"
	KindPositionInserted         Kind = "pos-insert"
	KindPositionUpdated          Kind = "pos-update"
	KindPositionAvailableUpdated Kind = "pos-available-update"
	KindPositionPriceUpdated     Kind = "pos-price-update"
	KindPositionDeleted          Kind = "pos-delete"
	KindOrderInserted            Kind = "order-insert"
	KindOrderUpdated             Kind = "order-update"
	KindOrderStatusChanged       Kind = "order-status-update"
	KindAccountRecordInserted    Kind = "account-record-insert"
	KindPosRecordInserted        Kind = "pos-record-insert"
	KindPosRecordBought          Kind = "pos-record-buy"
	KindPosRecordSold            Kind = "pos-record-sell"
	KindPosRecordCleared         Kind = "pos-record-clear"
)

// Event is implemented only by the types in this package. Each carries the
// delta a subscriber needs to apply the same mutation to its own copy.
type Event interface {
	Kind() Kind
	Token() string
	sealed()
}

// AccountUpdated carries the full cash state after a fill.
type AccountUpdated struct {
	AccountID   string
	Available   float64
	MarketValue float64
	Assets      float64
}

type AccountAvailableUpdated struct {
	AccountID string
	Available float64
}

type AccountAssetsUpdated struct {
	AccountID   string
	MarketValue float64
	Assets      float64
}

type PositionInserted struct {
	Position broker.Position
}

type PositionUpdated struct {
	Position broker.Position
}

type PositionAvailableUpdated struct {
	AccountID string
	Code      string
	Exchange  string
	Available int64
}

type PositionPriceUpdated struct {
	AccountID string
	Code      string
	Exchange  string
	NowPrice  float64
	Profit    float64
}

type PositionDeleted struct {
	AccountID string
	Code      string
	Exchange  string
}

type OrderInserted struct {
	Order broker.Order
}

// OrderUpdated carries a filled order.
type OrderUpdated struct {
	Order broker.Order
}

type OrderStatusChanged struct {
	AccountID string
	OrderID   string
	Status    broker.OrderStatus
	ErrorMsg  string
}

type AccountRecordInserted struct {
	Record broker.AccountRecord
}

type PosRecordInserted struct {
	Record broker.PosRecord
}

type PosRecordBought struct {
	AccountID    string
	Code         string
	Exchange     string
	MaxVol       int64
	BuyPriceMean float64
	Profit       float64
}

type PosRecordSold struct {
	AccountID     string
	Code          string
	Exchange      string
	SellPriceMean float64
	LastSellDate  string
	Profit        float64
}

type PosRecordCleared struct {
	AccountID string
	Code      string
	Exchange  string
}

func (AccountUpdated) Kind() Kind           { return KindAccountUpdated }
func (AccountAvailableUpdated) Kind() Kind  { return KindAccountAvailableUpdated }
func (AccountAssetsUpdated) Kind() Kind     { return KindAccountAssetsUpdated }
func (PositionInserted) Kind() Kind         { return KindPositionInserted }
func (PositionUpdated) Kind() Kind          { return KindPositionUpdated }
func (PositionAvailableUpdated) Kind() Kind { return KindPositionAvailableUpdated }
func (PositionPriceUpdated) Kind() Kind     { return KindPositionPriceUpdated }
func (PositionDeleted) Kind() Kind          { return KindPositionDeleted }
func (OrderInserted) Kind() Kind            { return KindOrderInserted }
func (OrderUpdated) Kind() Kind             { return KindOrderUpdated }
func (OrderStatusChanged) Kind() Kind       { return KindOrderStatusChanged }
func (AccountRecordInserted) Kind() Kind    { return KindAccountRecordInserted }
func (PosRecordInserted) Kind() Kind        { return KindPosRecordInserted }
func (PosRecordBought) Kind() Kind          { return KindPosRecordBought }
func (PosRecordSold) Kind() Kind            { return KindPosRecordSold }
func (PosRecordCleared) Kind() Kind         { return KindPosRecordCleared }

func (e AccountUpdated) Token() string           { return e.AccountID }
func (e AccountAvailableUpdated) Token() string  { return e.AccountID }
func (e AccountAssetsUpdated) Token() string     { return e.AccountID }
func (e PositionInserted) Token() string         { return e.Position.AccountID }
func (e PositionUpdated) Token() string          { return e.Position.AccountID }
func (e PositionAvailableUpdated) Token() string { return e.AccountID }
func (e PositionPriceUpdated) Token() string     { return e.AccountID }
func (e PositionDeleted) Token() string          { return e.AccountID }
func (e OrderInserted) Token() string            { return e.Order.AccountID }
func (e OrderUpdated) Token() string             { return e.Order.AccountID }
func (e OrderStatusChanged) Token() string       { return e.AccountID }
func (e AccountRecordInserted) Token() string    { return e.Record.AccountID }
func (e PosRecordInserted) Token() string        { return e.Record.AccountID }
func (e PosRecordBought) Token() string          { return e.AccountID }
func (e PosRecordSold) Token() string            { return e.AccountID }
func (e PosRecordCleared) Token() string         { return e.AccountID }

func (AccountUpdated) sealed()           {}
func (AccountAvailableUpdated) sealed()  {}
func (AccountAssetsUpdated) sealed()     {}
func (PositionInserted) sealed()         {}
func (PositionUpdated) sealed()          {}
func (PositionAvailableUpdated) sealed() {}
func (PositionPriceUpdated) sealed()     {}
func (PositionDeleted) sealed()          {}
func (OrderInserted) sealed()            {}
func (OrderUpdated) sealed()             {}
func (OrderStatusChanged) sealed()       {}
func (AccountRecordInserted) sealed()    {}
func (PosRecordInserted) sealed()        {}
func (PosRecordBought) sealed()          {}
func (PosRecordSold) sealed()            {}
func (PosRecordCleared) sealed()         {}
