package broker

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrMarketClosed        = errors.New("market closed")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient available funds")
	ErrInsufficientShares  = errors.New("insufficient available shares")
	ErrNoPosition          = errors.New("no position available")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrFillExceedsReserve  = errors.New("fill cost exceeds reserved funds")
)

// Rejection is a business refusal of an order. Reason is what gets stored in
// Order.ErrorMsg; Err is one of the sentinel errors above.
type Rejection struct {
	Reason string
	Err    error
}

func Reject(err error, format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...), Err: err}
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return r.Err.Error()
	}
	return fmt.Sprintf("%v: %s", r.Err, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reason extracts the human readable rejection reason from err.
func Reason(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		if r.Reason != "" {
			return r.Reason
		}
		return r.Err.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
