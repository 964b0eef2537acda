// Package metrics defines the observability surface for the NDMP agent
// roles. Implementations live behind interfaces here so that CONTROL, DATA,
// TAPE, and ROBOT code can record metrics without importing Prometheus
// directly; pkg/metrics/prometheus supplies the concrete backend.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	registry *prometheus.Registry
	regOnce  sync.Once
)

// InitRegistry creates the process-wide Prometheus registry and marks
// metrics as enabled. Safe to call more than once; only the first call
// takes effect.
func InitRegistry() *prometheus.Registry {
	regOnce.Do(func() {
		registry = prometheus.NewRegistry()
		enabled.Store(true)
	})
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the process-wide registry, or nil if metrics were
// never enabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
