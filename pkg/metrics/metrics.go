package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlgw_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"status", "route"})
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hlgw_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlgw_token_refreshes_total",
		Help: "Total number of access token refreshes against the chat backend",
	}, []string{"outcome"})
	StreamChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlgw_stream_chunks_total",
		Help: "Total number of SSE chunks relayed to clients",
	})
	ProxyForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlgw_proxy_forwards_total",
		Help: "Total number of requests forwarded through alias routes",
	}, []string{"alias", "status"})
)

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// The route pattern is only known after routing has happened.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(strconv.Itoa(ww.Status()), route).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
