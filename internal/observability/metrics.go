package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Packet directions.
const (
	DirectionTx = "tx"
	DirectionRx = "rx"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spikelink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	linkPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "link",
			Name:      "packets_total",
			Help:      "Packets moved over the link by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	spikesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "spikes_sent_total",
			Help:      "Input spikes transmitted.",
		},
	)
	cyclesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "cycles_sent_total",
			Help:      "Cycles requested from the target.",
		},
	)
	firesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "fires_received_total",
			Help:      "Output fire events received.",
		},
	)
	runLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "run_lag_cycles",
			Help:      "Input clock minus output clock.",
		},
	)
	backpressureWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "backpressure_waits_total",
			Help:      "Polls spent waiting for the output clock to catch up.",
		},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "protocol_errors_total",
			Help:      "Fatal protocol errors by reason.",
		},
		[]string{"reason"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spikelink",
			Subsystem: "processor",
			Name:      "run_duration_seconds",
			Help:      "Wall time of Run calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"io", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			linkPackets, spikesSent, cyclesSent, firesReceived,
			runLag, backpressureWaits, protocolErrors, runDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(direction, kind string) {
	RegisterMetrics()
	linkPackets.WithLabelValues(direction, kind).Inc()
}

func RecordSpikesSent(n int) {
	RegisterMetrics()
	spikesSent.Add(float64(n))
}

func RecordCyclesSent(n int) {
	RegisterMetrics()
	cyclesSent.Add(float64(n))
}

func RecordFires(n int) {
	RegisterMetrics()
	firesReceived.Add(float64(n))
}

func SetRunLag(cycles int64) {
	RegisterMetrics()
	runLag.Set(float64(cycles))
}

func RecordBackpressureWait() {
	RegisterMetrics()
	backpressureWaits.Inc()
}

func RecordProtocolError(reason string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(reason).Inc()
}

func RecordRun(io string, duration time.Duration, success bool) {
	RegisterMetrics()
	runDuration.WithLabelValues(io, strconv.FormatBool(success)).Observe(duration.Seconds())
}
