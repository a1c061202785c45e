package httpx

import (
	"context"
	"github.com/ariefcatur/go-order-orchestrator/internal/logging"
	"github.com/ariefcatur/go-order-orchestrator/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"net/http"
	"time"
)

const HeaderTraceID = "X-Trace-Id"

type traceKey struct{}

// TraceID returns the trace id attached by the router, if any.
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// Check is one dependency probed by /healthz.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

func NewRouter(log *zap.Logger, m *metrics.Registry, checks ...Check) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(observe(log, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", healthz(checks))
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

// observe propagates X-Trace-Id, puts a request logger in the context,
// and records one access log line plus HTTP metrics per request.
func observe(base *zap.Logger, m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get(HeaderTraceID)
			if traceID == "" {
				traceID = uuid.NewString()
			}
			w.Header().Set(HeaderTraceID, traceID)

			l := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("trace_id", traceID),
			)
			ctx := context.WithValue(r.Context(), traceKey{}, traceID)
			ctx = logging.WithContext(ctx, l)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(r.Method, route, status, time.Since(start))
			l.Info("http_request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func healthz(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		healthy := true
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.Ping(ctx)
			cancel()
			if err != nil {
				healthy = false
				services[c.Name] = "disconnected"
				logging.FromContext(r.Context()).Warn("health_check_failed", zap.String("service", c.Name), zap.Error(err))
				continue
			}
			services[c.Name] = "connected"
		}
		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"services":  services,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
