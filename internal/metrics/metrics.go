package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CSMSConnected 与CSMS的连接状态，1为已连接
	CSMSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_csms_connected",
		Help: "Whether the websocket to the CSMS is currently open.",
	})

	// RegistrationState 当前注册状态，按状态标签置1
	RegistrationState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_registration_state",
		Help: "Current registration status reported by the CSMS.",
	}, []string{"status"})

	// MessagesSent counts outgoing frames, labeled by action and frame type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_messages_sent_total",
		Help: "Total number of OCPP frames sent to the CSMS.",
	}, []string{"action", "frame"})

	// MessagesReceived counts incoming frames, labeled by action and frame type.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_messages_received_total",
		Help: "Total number of OCPP frames received from the CSMS.",
	}, []string{"action", "frame"})

	// MessagesDiscarded counts messages classified or evicted as discard.
	MessagesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_messages_discarded_total",
		Help: "Total number of outgoing messages dropped before delivery.",
	}, []string{"action", "reason"})

	// QueueDepth 队列中等待发送的消息数
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_queue_depth",
		Help: "Number of messages waiting in the outgoing queues.",
	}, []string{"queue"})

	// RequestDuration observes CALL round-trip latency, labeled by action.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "station_request_duration_seconds",
		Help:    "Round-trip time between a CALL and its response.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"action"})

	// RequestTimeouts counts CALLs that received no answer in time.
	RequestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_request_timeouts_total",
		Help: "Total number of CALLs that timed out waiting for the CSMS.",
	}, []string{"action"})

	// CertificateSigningAttempts 证书签名请求次数
	CertificateSigningAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_certificate_signing_attempts_total",
		Help: "SignCertificate requests issued, labeled by certificate use and outcome.",
	}, []string{"use", "outcome"})

	// AuthorizationDecisions counts authorization outcomes, labeled by source and status.
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_authorization_decisions_total",
		Help: "Authorization results grouped by the source that decided them.",
	}, []string{"source", "status"})

	// AuthCacheEntries 授权缓存条目数
	AuthCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_auth_cache_entries",
		Help: "Number of entries currently held in the authorization cache.",
	})

	// ActiveTransactions 活跃交易数
	ActiveTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "station_active_transactions",
		Help: "Number of EVSEs with an active transaction.",
	})

	// EventsPublished counts exported station events, labeled by sink and event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_events_published_total",
		Help: "Total number of station events exported to the message broker.",
	}, []string{"sink", "event_type"})

	// HardwareCommandsConsumed counts hardware commands consumed from Kafka.
	HardwareCommandsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_hardware_commands_consumed_total",
		Help: "Total number of hardware commands consumed from the message broker.",
	}, []string{"command"})
)

// SetRegistrationState 将指定状态置1，其余已知状态置0
func SetRegistrationState(status string) {
	for _, s := range []string{"Unregistered", "Pending", "Accepted", "Rejected"} {
		value := 0.0
		if s == status {
			value = 1
		}
		RegistrationState.WithLabelValues(s).Set(value)
	}
}
