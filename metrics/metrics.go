// Package metrics provides Prometheus instrumentation for the back office.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts accepted orders by order type.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_orders_total",
		Help: "Orders accepted into the book",
	}, []string{"type"})

	// RejectionsTotal counts rejected orders by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_rejections_total",
		Help: "Orders rejected at verification or by the exchange",
	}, []string{"reason"})

	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_fills_total",
		Help: "Orders fully traded",
	}, []string{"type"})

	CancelsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_cancels_total",
		Help: "Orders cancelled",
	})

	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_liquidations_total",
		Help: "Per-account end-of-day liquidation passes",
	})

	// PersistenceFailures counts ledger writes that did not reach the store.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_persistence_failures_total",
		Help: "Ledger writes that failed to persist",
	})

	BookDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_book_depth",
		Help: "Orders resting in the matching book",
	})

	// SessionState is the numeric session state: 0 closed, 1 open,
	// 2 matching, 3 closing, 4 liquidated.
	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_session_state",
		Help: "Current trading session state",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Router serves /metrics and /healthz. healthy reports the engine's fatal
// error, if any.
func Router(healthy func() error) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if healthy != nil {
			if err := healthy(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
