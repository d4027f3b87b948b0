// Package metrics provides Prometheus instrumentation for the stockroom
// server: HTTP request metrics, counters for the sale protocols and stock
// gauges fed by the low-stock monitor.
//
// Wire it up once in api.NewRouter:
//
//	r.Use(m.Middleware())
//	r.Get("/metrics", m.Handler())
//
// and hand it to the engine as its Observer:
//
//	engine.Observer = m
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/stockroom/retail"
)

const namespace = "stockroom"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	Registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec
	RequestInFlight prometheus.Gauge

	SalesRecorded     prometheus.Counter
	UnitsSold         prometheus.Counter
	SalesDeleted      prometheus.Counter
	StockRestorations *prometheus.CounterVec
	SaleRejections    *prometheus.CounterVec

	LowStockItems  prometheus.Gauge
	StockUnits     prometheus.Gauge
	InventoryValue prometheus.Gauge
	MonitorRuns    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		RequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		RequestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),

		SalesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_recorded_total",
			Help:      "Sales recorded, excluding idempotent replays.",
		}),
		UnitsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_sold_total",
			Help:      "Units decremented from stock by recorded sales.",
		}),
		SalesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_deleted_total",
			Help:      "Sales deleted by admins.",
		}),
		StockRestorations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_restorations_total",
				Help:      "Stock restorations on sale deletion, by outcome.",
			},
			[]string{"outcome"}, // "restored" | "skipped"
		),
		SaleRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sale_rejections_total",
				Help:      "Sale creations that failed, by reason.",
			},
			[]string{"reason"},
		),

		LowStockItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_items",
			Help:      "Items below their low-stock threshold at the last monitor run.",
		}),
		StockUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_units",
			Help:      "Units on hand across all items at the last monitor run.",
		}),
		InventoryValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_value",
			Help:      "Sum of price times quantity at the last monitor run.",
		}),
		MonitorRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stock_monitor_runs_total",
				Help:      "Low-stock monitor runs, by status.",
			},
			[]string{"status"}, // "completed" | "failed"
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestDuration,
		m.RequestTotal,
		m.RequestInFlight,
		m.SalesRecorded,
		m.UnitsSold,
		m.SalesDeleted,
		m.StockRestorations,
		m.SaleRejections,
		m.LowStockItems,
		m.StockUnits,
		m.InventoryValue,
		m.MonitorRuns,
	)
	return m
}

// =============================================================================
// ENGINE OBSERVER
// =============================================================================

var _ retail.Observer = (*Metrics)(nil)

func (m *Metrics) SaleRecorded(sale retail.Sale) {
	m.SalesRecorded.Inc()
	m.UnitsSold.Add(float64(sale.Quantity))
}

func (m *Metrics) SaleRejected(reason string) {
	m.SaleRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SaleDeleted(_ retail.Sale, restored bool) {
	m.SalesDeleted.Inc()
	outcome := "skipped"
	if restored {
		outcome = "restored"
	}
	m.StockRestorations.WithLabelValues(outcome).Inc()
}

// =============================================================================
// STOCK MONITOR
// =============================================================================

// InventoryObserved records the gauges from one monitor run.
func (m *Metrics) InventoryObserved(s retail.InventorySummary) {
	m.LowStockItems.Set(float64(s.LowStockCount))
	m.StockUnits.Set(float64(s.TotalUnits))
	m.InventoryValue.Set(s.TotalValue.InexactFloat64())
}

// MonitorRunFinished counts a monitor run by outcome.
func (m *Metrics) MonitorRunFinished(failed bool) {
	status := "completed"
	if failed {
		status = "failed"
	}
	m.MonitorRuns.WithLabelValues(status).Inc()
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records duration, count and in-flight requests. Requests are
// labelled with the chi route pattern, not the raw path, to keep ids out of
// label values.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestInFlight.Inc()
			defer m.RequestInFlight.Dec()

			rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rr, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := strconv.Itoa(rr.status)
			m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
			m.RequestTotal.WithLabelValues(r.Method, route, status).Inc()
		})
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return h.ServeHTTP
}
