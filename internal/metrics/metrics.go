// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the memory corpus.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path pattern, and
	// status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engram_http_requests_total",
		Help: "Total HTTP requests processed, labeled by method, path, and status.",
	}, []string{"method", "path", "status"})

	// MemoriesTotal tracks the number of stored memories.
	MemoriesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engram_memories_total",
		Help: "Current number of stored memories.",
	})

	// EmbeddingCacheEntries tracks embedding cache occupancy.
	EmbeddingCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engram_embedding_cache_entries",
		Help: "Current number of cached embedding vectors.",
	})

	// RateLimitedTotal counts requests rejected by the per-key limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engram_rate_limited_total",
		Help: "Total requests rejected by the per-key rate limiter.",
	})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes connection upgrades (WebSocket handshakes) through to the
// underlying writer.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware counts every request once, labeled with the final status code.
// The path label uses the registered route pattern, not the raw URL, so
// cardinality stays bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}
