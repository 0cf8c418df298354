package services

import (
	"sync"
	"sync/atomic"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"go.uber.org/zap"
)

// Notifier fans session events out to registered subscribers, in registration order.
// A nil *Notifier discards everything.
type Notifier struct {
	mu          sync.RWMutex
	subscribers []ports.EventSubscriber
	logger      *zap.SugaredLogger
}

func NewNotifier(logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) Subscribe(sub ports.EventSubscriber) {
	if n == nil || sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribers = append(n.subscribers, sub)
}

// Publish delivers events synchronously. It must not be called while holding
// the directory lock, since subscribers may read the directory.
func (n *Notifier) Publish(events ...domain.SessionEvent) {
	if n == nil || len(events) == 0 {
		return
	}
	n.mu.RLock()
	subs := make([]ports.EventSubscriber, len(n.subscribers))
	copy(subs, n.subscribers)
	n.mu.RUnlock()

	for _, event := range events {
		for _, sub := range subs {
			n.deliver(sub, event)
		}
	}
}

func (n *Notifier) deliver(sub ports.EventSubscriber, event domain.SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Errorw("event subscriber panicked",
				"type", event.Type,
				"peer_id", event.PeerID,
				"panic", r,
			)
		}
	}()
	sub.OnSessionEvent(event)
}

// ChannelSubscriber buffers events on a channel. Events that do not fit are dropped
// and counted; it never blocks the publisher.
type ChannelSubscriber struct {
	ch      chan domain.SessionEvent
	dropped atomic.Uint64
}

func NewChannelSubscriber(buffer int) *ChannelSubscriber {
	return &ChannelSubscriber{ch: make(chan domain.SessionEvent, buffer)}
}

func (c *ChannelSubscriber) OnSessionEvent(event domain.SessionEvent) {
	select {
	case c.ch <- event:
	default:
		c.dropped.Add(1)
	}
}

func (c *ChannelSubscriber) Events() <-chan domain.SessionEvent {
	return c.ch
}

func (c *ChannelSubscriber) Dropped() uint64 {
	return c.dropped.Load()
}
