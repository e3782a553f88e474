// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "summit_transcribe"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Connection metrics
	ConnectsTotal   prometheus.Counter
	ReconnectsTotal prometheus.Counter
	ConnectionState prometheus.Gauge
	ConnectFailures prometheus.Counter
	ProtocolDropped prometheus.Counter
	ServiceErrors   prometheus.Counter

	// Audio metrics
	AudioBytesSent     prometheus.Counter
	AudioFramesSent    prometheus.Counter
	AudioFramesDropped prometheus.Counter
	CaptureFailures    prometheus.Counter

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	SegmentsCommitted  prometheus.Counter
	SegmentsDiscarded  prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionDuration prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of connection attempts",
		}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts scheduled after an unexpected close",
		}),
		ConnectionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0=idle 1=connecting 2=ready 3=listening 4=error)",
		}),
		ConnectFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total number of failed connection attempts",
		}),
		ProtocolDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_frames_dropped_total",
			Help:      "Total number of undecodable inbound frames dropped",
		}),
		ServiceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_errors_total",
			Help:      "Total number of error events received from the recognition service",
		}),

		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the recognition service",
		}),
		AudioFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent to the recognition service",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped while the connection was not open",
		}),
		CaptureFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Total number of microphone capture start failures",
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		SegmentsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_committed_total",
			Help:      "Total number of transcript segments committed",
		}),
		SegmentsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Total number of empty finals discarded without a commit",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recognition sessions started",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordConnect records a connection attempt and its outcome.
func (m *Metrics) RecordConnect(err error) {
	m.ConnectsTotal.Inc()
	if err != nil {
		m.ConnectFailures.Inc()
	}
}

// RecordReconnectScheduled records a reconnect being scheduled.
func (m *Metrics) RecordReconnectScheduled() {
	m.ReconnectsTotal.Inc()
}

// RecordConnectionState records the current connection state as a gauge value.
func (m *Metrics) RecordConnectionState(state int) {
	m.ConnectionState.Set(float64(state))
}

// RecordAudioSent records an audio frame forwarded to the service.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
	m.AudioFramesSent.Inc()
}

// RecordAudioDropped records a frame dropped while disconnected.
func (m *Metrics) RecordAudioDropped() {
	m.AudioFramesDropped.Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received and whether it
// produced a committed segment.
func (m *Metrics) RecordFinalTranscript(committed bool) {
	m.TranscriptsFinal.Inc()
	if committed {
		m.SegmentsCommitted.Inc()
	} else {
		m.SegmentsDiscarded.Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
