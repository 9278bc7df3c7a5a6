package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricGateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "security",
		Name:      "gate_decisions_total",
		Help:      "Gate 3 verdicts, by decision.",
	}, []string{"decision"})

	metricRedactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hivemind",
		Subsystem: "security",
		Name:      "output_redactions_total",
		Help:      "Gate 4 redactions, by kind.",
	}, []string{"kind"})
)
