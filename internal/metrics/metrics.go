package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"time"
)

// Registry owns its own prometheus registry so tests can create many.
// All helpers are no-ops on a nil *Registry.
type Registry struct {
	reg *prometheus.Registry

	LockAcquire  *prometheus.HistogramVec
	OrdersCreate *prometheus.CounterVec
	Settlement   *prometheus.CounterVec
	Cancel       *prometheus.CounterVec
	Notify       *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	lock := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_lock_acquire_seconds",
		Help:    "Time spent acquiring product locks.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"outcome"})
	create := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_create_total",
		Help: "Create-order outcomes.",
	}, []string{"outcome"})
	settle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_settlement_total",
		Help: "Settlement outcomes.",
	}, []string{"outcome"})
	cancel := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancel_total",
		Help: "Cancel-order outcomes.",
	}, []string{"outcome"})
	notify := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_notify_failed_total",
		Help: "Best-effort side effects that failed after commit.",
	}, []string{"kind"})
	httpReq := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	r.MustRegister(lock, create, settle, cancel, notify, httpReq, httpDur,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Registry{
		reg:          r,
		LockAcquire:  lock,
		OrdersCreate: create,
		Settlement:   settle,
		Cancel:       cancel,
		Notify:       notify,
		HTTPRequests: httpReq,
		HTTPDuration: httpDur,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveLock(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.LockAcquire.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *Registry) CountCreate(outcome string) {
	if r == nil {
		return
	}
	r.OrdersCreate.WithLabelValues(outcome).Inc()
}

func (r *Registry) CountSettlement(outcome string) {
	if r == nil {
		return
	}
	r.Settlement.WithLabelValues(outcome).Inc()
}

func (r *Registry) CountCancel(outcome string) {
	if r == nil {
		return
	}
	r.Cancel.WithLabelValues(outcome).Inc()
}

func (r *Registry) CountNotifyFailure(kind string) {
	if r == nil {
		return
	}
	r.Notify.WithLabelValues(kind).Inc()
}

func (r *Registry) ObserveHTTP(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
