package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "bus",
		Name:      "messages_sent_total",
		Help:      "Messages enqueued, by recipient and lane.",
	}, []string{"recipient", "lane"})

	metricMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "bus",
		Name:      "messages_received_total",
		Help:      "Messages drained by Receive, by recipient.",
	}, []string{"recipient"})

	metricSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "bus",
		Name:      "send_failures_total",
		Help:      "Send failures, by reason (queue_full, backend).",
	}, []string{"reason"})
)
