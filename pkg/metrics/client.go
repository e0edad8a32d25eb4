package metrics

import (
	"sync"
	"time"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics provides observability for a filesystem client.
//
// Implementations collect name-node RPC latency and outcome, connection
// attempts, block data throughput and replica fail-overs. Passing nil where a
// ClientMetrics is accepted selects the no-op implementation.
type ClientMetrics interface {
	// RecordCall records a completed name-node RPC.
	//
	// Parameters:
	//   - method: RPC method name (e.g. "getFileInfo", "addBlock")
	//   - duration: Time from sending the request to decoding the response
	//   - err: Error if the call failed, nil if successful
	RecordCall(method string, duration time.Duration, err error)

	// RecordConnect records one attempt to establish a name-node session.
	RecordConnect(err error)

	// RecordBytes records block data moved to or from data nodes.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of payload bytes
	RecordBytes(direction string, bytes int64)

	// RecordFailover records a switch to another replica after a data node
	// failed or served corrupt data.
	RecordFailover(reason string)

	// SetOpenFiles updates the number of open file handles.
	SetOpenFiles(count int)
}

// clientMetrics is the Prometheus implementation of ClientMetrics.
type clientMetrics struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	connectsTotal  *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	failoversTotal *prometheus.CounterVec
	openFiles      prometheus.Gauge
}

var (
	sharedClient     ClientMetrics
	sharedClientOnce sync.Once
)

// NewClientMetrics returns the Prometheus-backed ClientMetrics registered on the
// global registry.
//
// Every client in the process shares one set of collectors, so repeated calls
// return the same instance. Returns a no-op implementation if metrics are not
// enabled (InitRegistry not called).
func NewClientMetrics() ClientMetrics {
	if !IsEnabled() {
		return NewNoopClientMetrics()
	}
	sharedClientOnce.Do(func() {
		sharedClient = newClientMetrics(GetRegistry())
	})
	return sharedClient
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	return &clientMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittohdfs_rpc_calls_total",
				Help: "Total number of name-node RPCs by method and outcome",
			},
			[]string{"method", "status", "error_kind"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittohdfs_rpc_call_duration_milliseconds",
				Help: "Duration of name-node RPCs in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"method"},
		),
		connectsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittohdfs_connect_attempts_total",
				Help: "Total number of name-node connection attempts by outcome",
			},
			[]string{"status"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittohdfs_block_bytes_total",
				Help: "Total block payload bytes exchanged with data nodes",
			},
			[]string{"direction"},
		),
		failoversTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittohdfs_replica_failovers_total",
				Help: "Total number of switches to another replica",
			},
			[]string{"reason"},
		),
		openFiles: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittohdfs_open_files",
				Help: "Current number of open file handles",
			},
		),
	}
}

func (m *clientMetrics) RecordCall(method string, duration time.Duration, err error) {
	status, kind := "success", ""
	if err != nil {
		status = "error"
		kind = fserror.KindOf(err).String()
	}
	m.callsTotal.WithLabelValues(method, status, kind).Inc()
	m.callDuration.WithLabelValues(method).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *clientMetrics) RecordConnect(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.connectsTotal.WithLabelValues(status).Inc()
}

func (m *clientMetrics) RecordBytes(direction string, bytes int64) {
	m.bytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *clientMetrics) RecordFailover(reason string) {
	m.failoversTotal.WithLabelValues(reason).Inc()
}

func (m *clientMetrics) SetOpenFiles(count int) {
	m.openFiles.Set(float64(count))
}

// NewNoopClientMetrics returns a ClientMetrics that discards everything.
func NewNoopClientMetrics() ClientMetrics {
	return noopClientMetrics{}
}

// noopClientMetrics is a no-op implementation of ClientMetrics with zero overhead.
type noopClientMetrics struct{}

func (noopClientMetrics) RecordCall(method string, duration time.Duration, err error) {}
func (noopClientMetrics) RecordConnect(err error)                                     {}
func (noopClientMetrics) RecordBytes(direction string, bytes int64)                   {}
func (noopClientMetrics) RecordFailover(reason string)                                {}
func (noopClientMetrics) SetOpenFiles(count int)                                      {}

// OrNoop returns m, or the no-op implementation when m is nil.
func OrNoop(m ClientMetrics) ClientMetrics {
	if m == nil {
		return NewNoopClientMetrics()
	}
	return m
}
