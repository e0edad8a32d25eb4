package config

import (
	"github.com/marmos91/dittohdfs/pkg/metrics"
)

// InitializeMetrics returns the metrics collector selected by the options.
//
// If metrics are enabled the global Prometheus registry is initialized and a
// Prometheus-backed collector is returned; otherwise a no-op implementation.
// The result is never nil.
func InitializeMetrics(opts *Options) metrics.ClientMetrics {
	if !opts.Metrics.Enabled {
		return metrics.NewNoopClientMetrics()
	}
	metrics.InitRegistry()
	return metrics.NewClientMetrics()
}
