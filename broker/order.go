package broker

import (
	"fmt"
	"strings"
	"time"
)

type OrderType string

const (
	OrderBuy         OrderType = "buy"
	OrderSell        OrderType = "sell"
	OrderCancel      OrderType = "cancel"
	OrderLiquidation OrderType = "liquidation"
)

type PriceType string

const (
	PriceLimit  PriceType = "limit"
	PriceMarket PriceType = "market"
)

// TradeType is the settlement regime applied when an order fills.
type TradeType string

const (
	T0 TradeType = "t0"
	T1 TradeType = "t1"
)

type OrderStatus string

const (
	StatusSubmitting OrderStatus = "submitting"
	StatusNotTraded  OrderStatus = "not-traded"
	StatusPartTraded OrderStatus = "partially-traded"
	StatusAllTraded  OrderStatus = "fully-traded"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRejected   OrderStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusAllTraded, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Resting reports whether an order in state s belongs in the matching book.
func (s OrderStatus) Resting() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	}
	return false
}

// Layouts used for order_date / order_time and record check dates.
const (
	DateLayout = "20060102"
	TimeLayout = "15:04:05"
)

// Order is one order submission and its lifecycle. Volumes are whole shares.
type Order struct {
	Code       string      `json:"code"`
	Exchange   string      `json:"exchange"`
	AccountID  string      `json:"account_id"`
	OrderID    string      `json:"order_id"`
	OrderType  OrderType   `json:"order_type"`
	PriceType  PriceType   `json:"price_type"`
	TradeType  TradeType   `json:"trade_type,omitempty"`
	OrderPrice float64     `json:"order_price"`
	TradePrice float64     `json:"trade_price"`
	Volume     int64       `json:"volume"`
	Traded     int64       `json:"traded"`
	Status     OrderStatus `json:"status"`
	OrderDate  string      `json:"order_date"`
	OrderTime  string      `json:"order_time"`
	ErrorMsg   string      `json:"error_msg,omitempty"`
}

// Symbol is the pt_symbol identity "code.exchange".
func (o Order) Symbol() string { return JoinSymbol(o.Code, o.Exchange) }

// Remaining is the unfilled volume.
func (o Order) Remaining() int64 { return o.Volume - o.Traded }

// OrderRequest is the inbound, not yet validated, order payload.
type OrderRequest struct {
	AccountID string    `json:"account_id"`
	Code      string    `json:"code"`
	Exchange  string    `json:"exchange"`
	OrderType OrderType `json:"order_type"`
	Price     float64   `json:"order_price"`
	Volume    int64     `json:"volume"`
	OrderDate string    `json:"order_date,omitempty"`
	OrderTime string    `json:"order_time,omitempty"`

	// OrderID names the target of a cancel request.
	OrderID string `json:"order_id,omitempty"`
	// Prices is the settlement price map of a liquidation request, keyed by
	// pt_symbol.
	Prices map[string]float64 `json:"prices,omitempty"`
}

// NewOrder validates req and builds the Order that enters verification.
// Missing date/time fields are stamped from now.
func NewOrder(req OrderRequest, now time.Time) (Order, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return Order{}, fmt.Errorf("%w: account_id is required", ErrInvalidOrder)
	}

	o := Order{
		Code:       strings.TrimSpace(req.Code),
		Exchange:   strings.ToUpper(strings.TrimSpace(req.Exchange)),
		AccountID:  req.AccountID,
		OrderID:    req.OrderID,
		OrderType:  OrderType(strings.ToLower(string(req.OrderType))),
		OrderPrice: req.Price,
		Volume:     req.Volume,
		Status:     StatusSubmitting,
		OrderDate:  req.OrderDate,
		OrderTime:  req.OrderTime,
	}
	if o.OrderDate == "" {
		o.OrderDate = now.Format(DateLayout)
	} else if _, err := time.Parse(DateLayout, o.OrderDate); err != nil {
		return Order{}, fmt.Errorf("%w: order_date %q is not YYYYMMDD", ErrInvalidOrder, o.OrderDate)
	}
	if o.OrderTime == "" {
		o.OrderTime = now.Format(TimeLayout)
	}

	switch o.OrderType {
	case OrderBuy, OrderSell:
	case OrderCancel:
		if o.OrderID == "" {
			return Order{}, fmt.Errorf("%w: cancel requires order_id", ErrInvalidOrder)
		}
		return o, nil
	case OrderLiquidation:
		return o, nil
	case "":
		return Order{}, fmt.Errorf("%w: order_type is required", ErrInvalidOrder)
	default:
		return Order{}, fmt.Errorf("%w: unknown order_type %q", ErrInvalidOrder, req.OrderType)
	}

	if o.Code == "" {
		return Order{}, fmt.Errorf("%w: code is required", ErrInvalidOrder)
	}
	if o.Exchange == "" {
		return Order{}, fmt.Errorf("%w: exchange is required", ErrInvalidOrder)
	}
	if o.Volume <= 0 {
		return Order{}, fmt.Errorf("%w: volume must be positive", ErrInvalidOrder)
	}
	if !Finite(o.OrderPrice) {
		return Order{}, fmt.Errorf("%w: order_price %v is not a number", ErrInvalidOrder, o.OrderPrice)
	}
	if o.OrderPrice < 0 {
		return Order{}, fmt.Errorf("%w: order_price must not be negative", ErrInvalidOrder)
	}

	o.PriceType = PriceLimit
	if o.OrderPrice == 0 {
		o.PriceType = PriceMarket
	}
	return o, nil
}
