package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ndmpd/ndmpd/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the Prometheus /metrics endpoint for the ndmpd process.
type Server struct {
	httpServer *http.Server
}

// Close shuts down the metrics HTTP server with a short grace period.
func (s *Server) Close() error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// InitResult is returned by InitFromConfig.
type InitResult struct {
	// Server is non-nil when metrics were enabled and an HTTP listener
	// was started. Callers should defer Server.Close() in that case.
	Server *Server
	// Metrics is the SessionMetrics implementation to wire into the
	// session kernel, or nil when metrics are disabled.
	Metrics SessionMetrics
}

// newSessionMetrics is implemented in pkg/metrics/prometheus and plugged in
// through RegisterSessionMetricsConstructor during that package's init(),
// the same indirection the teacher uses in pkg/metrics/cache.go to avoid an
// import cycle between pkg/metrics and pkg/metrics/prometheus.
var newSessionMetrics func(reg *prometheus.Registry) SessionMetrics

// RegisterSessionMetricsConstructor is called by pkg/metrics/prometheus's
// init() to plug in the concrete SessionMetrics implementation.
func RegisterSessionMetricsConstructor(constructor func(reg *prometheus.Registry) SessionMetrics) {
	newSessionMetrics = constructor
}

// InitFromConfig enables the Prometheus registry (when enabled is true),
// builds the session metrics implementation, and starts an HTTP listener
// serving /metrics on the given port. When enabled is false, InitResult
// has a nil Server and nil Metrics, matching the zero-overhead nil-safe
// helpers in session.go.
func InitFromConfig(enabled bool, port int) InitResult {
	if !enabled {
		return InitResult{}
	}

	reg := InitRegistry()

	var sm SessionMetrics
	if newSessionMetrics != nil {
		sm = newSessionMetrics(reg)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err, "port", port)
		}
	}()

	return InitResult{Server: &Server{httpServer: httpServer}, Metrics: sm}
}
