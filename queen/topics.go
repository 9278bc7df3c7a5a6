package queen

import (
	"context"
	"time"

	"github.com/c360studio/hivemind/push"
)

// Topic polling cadences. The hub clamps these to the configured floor.
const (
	registryInterval  = 5 * time.Second
	decisionsInterval = 10 * time.Second
	analyticsInterval = 30 * time.Second
)

// decisionsSnapshotLimit bounds the decisions topic payload.
const decisionsSnapshotLimit = 20

func (q *Queen) registerTopics() error {
	if err := q.hub.RegisterTopic(TopicRegistry, push.TypeBeeUpdate, registryInterval, q.registrySnapshot); err != nil {
		return err
	}
	if err := q.hub.RegisterTopic(TopicDecisions, push.TypeHiveUpdate, decisionsInterval, q.decisionsSnapshot); err != nil {
		return err
	}
	return q.hub.RegisterTopic(TopicAnalytics, push.TypeAnalyticsUpdate, analyticsInterval, q.analyticsSnapshot)
}

func (q *Queen) registrySnapshot(context.Context) (any, error) {
	report := q.registry.HealthCheck()
	return map[string]any{
		"workers":      report.Workers,
		"all_healthy":  report.AllHealthy,
		"any_critical": report.AnyCritical,
		"stats":        q.registry.Stats(),
	}, nil
}

func (q *Queen) decisionsSnapshot(context.Context) (any, error) {
	decisions := q.Decisions()
	if len(decisions) > decisionsSnapshotLimit {
		decisions = decisions[len(decisions)-decisionsSnapshotLimit:]
	}
	return map[string]any{
		"total":  q.decisionCount(),
		"recent": decisions,
	}, nil
}

func (q *Queen) decisionCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

func (q *Queen) analyticsSnapshot(ctx context.Context) (any, error) {
	stats, err := q.board.BoardStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"bus":         q.bus.Health(ctx),
		"board":       stats,
		"quarantined": len(q.pipeline.Quarantined()),
	}, nil
}
