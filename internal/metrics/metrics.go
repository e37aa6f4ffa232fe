// Package metrics provides Prometheus instrumentation for cryptoworth.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound feed frames by channel and kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoworth_messages_total",
		Help: "Inbound feed frames processed",
	}, []string{"channel", "kind"})

	// ApplyLatency tracks how long one message takes from decode to applied.
	ApplyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cryptoworth_apply_latency_seconds",
		Help:    "Time to decode and apply one feed message",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	// MalformedFrames counts frames that could not be decoded.
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptoworth_malformed_frames_total",
		Help: "Frames recorded but not applied because they did not decode",
	})

	// PairNotFound counts messages and valuation legs with no matching book.
	PairNotFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoworth_pair_not_found_total",
		Help: "Lookups for a pair with no registered book",
	}, []string{"source"})

	// UnknownKind counts messages discarded for an unrecognized event.
	UnknownKind = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptoworth_unknown_kind_total",
		Help: "Messages discarded because their kind is not handled",
	})

	// RecordErrors counts frames a sink failed to record.
	RecordErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cryptoworth_record_errors_total",
		Help: "Raw frames that failed to record",
	})

	// RestingOrders tracks resting orders per pair and side.
	RestingOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptoworth_resting_orders",
		Help: "Resting orders in the reconstructed book",
	}, []string{"pair", "side"})

	// QueueDepth tracks frames read ahead of the processing loop.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptoworth_queue_depth",
		Help: "Feed frames waiting to be applied",
	})

	// JournalMessages tracks frames written to the on-disk journal.
	JournalMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptoworth_journal_messages",
		Help: "Raw frames written to the journal",
	})

	// PartialFills counts valuation legs that exhausted their book.
	PartialFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoworth_partial_fills_total",
		Help: "Valuation legs that ran out of liquidity",
	}, []string{"currency"})

	// ValuationLatency tracks on-demand valuation time.
	ValuationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cryptoworth_valuation_latency_seconds",
		Help:    "Wallet valuation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ValuationTotal holds the last computed total per wallet in its quote
	// currency. Float is for display only.
	ValuationTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cryptoworth_valuation_total",
		Help: "Last computed wallet value in quote currency",
	}, []string{"wallet", "quote"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cryptoworth_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cryptoworth_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cryptoworth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label with the route pattern, not the raw path, to bound cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
