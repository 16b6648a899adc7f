package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	envelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "transport",
			Name:      "envelopes_received_total",
			Help:      "Envelopes recovered from the wire.",
		},
		[]string{"type"},
	)
	envelopesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "transport",
			Name:      "envelopes_sent_total",
			Help:      "Logical envelope sends by routing mode.",
		},
		[]string{"type", "mode"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Framed bytes by direction.",
		},
		[]string{"direction"},
	)
	droppedSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "transport",
			Name:      "dropped_sends_total",
			Help:      "Envelope sends rejected before reaching the wire.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lanrelay",
			Subsystem: "transport",
			Name:      "active_connections",
			Help:      "Live accepted session connections.",
		},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lanrelay",
			Subsystem: "relay",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler execution time per dispatched envelope.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)
	unknownMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "relay",
			Name:      "unknown_messages_total",
			Help:      "Dispatched envelopes with no registered handler.",
		},
	)
	directoryHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lanrelay",
			Subsystem: "discovery",
			Name:      "directory_hosts",
			Help:      "Hosts known to the session directory.",
		},
	)
	announcementsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "discovery",
			Name:      "announcements_total",
			Help:      "Discovery announcement datagrams broadcast.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lanrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lanrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			envelopesReceived,
			envelopesSent,
			transportBytes,
			droppedSends,
			activeConnections,
			dispatchDuration,
			unknownMessages,
			directoryHosts,
			announcementsSent,
			httpRequests,
			httpDuration,
		)
	})
}

func typeLabel(typ byte) string {
	return strconv.Itoa(int(typ))
}

func RecordEnvelopeReceived(typ byte, payloadBytes int) {
	RegisterMetrics()
	envelopesReceived.WithLabelValues(typeLabel(typ)).Inc()
	transportBytes.WithLabelValues("in").Add(float64(payloadBytes))
}

func RecordEnvelopeSent(typ byte, mode string, wireBytes int) {
	RegisterMetrics()
	envelopesSent.WithLabelValues(typeLabel(typ), mode).Inc()
	transportBytes.WithLabelValues("out").Add(float64(wireBytes))
}

func RecordDroppedSend() {
	RegisterMetrics()
	droppedSends.Inc()
}

func SetActiveConnections(n int) {
	RegisterMetrics()
	activeConnections.Set(float64(n))
}

func RecordDispatch(typ byte, duration time.Duration) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(typeLabel(typ)).Observe(duration.Seconds())
}

func RecordUnknownMessage() {
	RegisterMetrics()
	unknownMessages.Inc()
}

func SetDirectoryHosts(n int) {
	RegisterMetrics()
	directoryHosts.Set(float64(n))
}

func RecordAnnouncements(sent int) {
	RegisterMetrics()
	announcementsSent.Add(float64(sent))
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
