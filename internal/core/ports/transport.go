package ports

import (
	"context"

	"meetcore/internal/core/domain"
)

// StatsSource fetches raw per-transport loss reports. It returns
// domain.ErrStatsUnavailable when the engine reports a non-ok status.
type StatsSource interface {
	FetchTransportStats(ctx context.Context) ([]domain.TransportStats, error)
}

// EventSubscriber receives session events after each successful mutation.
type EventSubscriber interface {
	OnSessionEvent(event domain.SessionEvent)
}

// EventSubscriberFunc adapts a function to EventSubscriber.
type EventSubscriberFunc func(event domain.SessionEvent)

func (f EventSubscriberFunc) OnSessionEvent(event domain.SessionEvent) {
	f(event)
}
