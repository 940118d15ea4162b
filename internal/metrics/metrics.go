// Package metrics exposes Prometheus collectors for the inventory service
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// Outcome labels
const (
	OutcomeOK                = "ok"
	OutcomeValidation        = "validation"
	OutcomeNotFound          = "not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeConflict          = "conflict"
	OutcomeError             = "error"
)

// Metrics holds the service collectors on a private registry
// サービスのメトリクス一式
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	StockQuantity     *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ inventory.MetricsRecorder = (*Metrics)(nil)

// New creates and registers all collectors under namespace
// メトリクスを作成して登録
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_operations_total",
			Help:      "Total number of inventory operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inventory_operation_duration_seconds",
			Help:      "Inventory operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	m.StockQuantity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory_stock_quantity",
			Help:      "Current registry quantity per inventory item",
		},
		[]string{"inventory_id", "item_name", "category"},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.StockQuantity,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation counts an engine operation and records its latency
// 操作の結果と所要時間を記録
func (m *Metrics) ObserveOperation(operation string, err error, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetStockLevel publishes the committed quantity of item
// 在庫数量ゲージを更新
func (m *Metrics) SetStockLevel(item *inventory.InventoryItem) {
	if item == nil {
		return
	}
	m.StockQuantity.WithLabelValues(item.ID, item.ItemName, string(item.Category)).Set(item.Quantity.InexactFloat64())
}

// ForgetItem drops the gauge series of a deleted item
// 削除された品目のゲージを除去
func (m *Metrics) ForgetItem(inventoryID string) {
	m.StockQuantity.DeletePartialMatch(prometheus.Labels{"inventory_id": inventoryID})
}

// Outcome classifies err into a low-cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, inventory.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, inventory.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, inventory.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, inventory.ErrConcurrencyConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// Middleware records HTTP request counts and latency. The path label uses the
// mux route template so ids do not explode cardinality.
// HTTPメトリクス収集ミドルウェア
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
