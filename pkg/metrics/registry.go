// Package metrics provides Prometheus metrics collection for the filesystem
// client.
//
// Metrics are optional. Until InitRegistry is called every constructor returns
// a no-op implementation.
//
// Usage:
//
//	metrics.InitRegistry()
//	fs, err := hdfs.New(opts, metrics.NewClientMetrics())
//
//	// or nil for no metrics
//	fs, err := hdfs.New(opts, nil)
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     atomic.Pointer[prometheus.Registry]
	registryOnce sync.Once
)

// InitRegistry creates the global registry, with the Go runtime and process
// collectors registered. Calls after the first are ignored.
//
// Collectors built before InitRegistry stay no-ops, so call it before
// constructing clients.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry.Store(reg)
	})
}

// GetRegistry returns the global registry, or nil before InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry.Load()
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
