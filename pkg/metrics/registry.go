// Package metrics defines the observability hooks used by the SMB server,
// the NetBIOS name service and the RPC pipes. Every hook is an interface:
// a nil value disables collection with no overhead. The Prometheus
// implementations live in pkg/metrics/prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors attached. Calling it again returns the same registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Registerer returns the registry as a prometheus.Registerer. It returns a
// nil interface, not a typed nil, when metrics are disabled so that
// promauto.With creates unregistered collectors.
func Registerer() prometheus.Registerer {
	if r := GetRegistry(); r != nil {
		return r
	}
	return nil
}

// Gatherer returns the registry as a prometheus.Gatherer, falling back to
// the default gatherer when metrics are disabled.
func Gatherer() prometheus.Gatherer {
	if r := GetRegistry(); r != nil {
		return r
	}
	return prometheus.DefaultGatherer
}

// reset drops the registry. Tests only.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
