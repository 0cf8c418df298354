package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope is the wire form of a session event on the bus.
type Envelope struct {
	InstanceID string              `json:"instance_id"`
	SessionID  domain.SessionID    `json:"session_id"`
	Event      domain.SessionEvent `json:"event"`
}

// Publisher is the subset of a redis client the bus publishes with.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

var _ ports.EventSubscriber = (*EventBus)(nil)

// EventBus mirrors local session events onto a Redis channel so other processes
// can follow the meeting. OnSessionEvent only enqueues; Run does the network work.
type EventBus struct {
	publisher  Publisher
	client     *redis.Client
	channel    string
	sessionID  domain.SessionID
	instanceID string

	queue   chan domain.SessionEvent
	dropped atomic.Uint64

	logger *zap.SugaredLogger
}

func NewEventBus(publisher Publisher, channel string, sessionID domain.SessionID, logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	eb := &EventBus{
		publisher:  publisher,
		channel:    channel,
		sessionID:  sessionID,
		instanceID: uuid.NewString(),
		queue:      make(chan domain.SessionEvent, 256),
		logger:     logger,
	}
	if client, ok := publisher.(*redis.Client); ok {
		eb.client = client
	}
	return eb
}

func (eb *EventBus) InstanceID() string {
	return eb.instanceID
}

// Dropped returns how many events were discarded because the queue was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

func (eb *EventBus) OnSessionEvent(event domain.SessionEvent) {
	select {
	case eb.queue <- event:
	default:
		if eb.dropped.Add(1)%100 == 1 {
			eb.logger.Warnw("event bus queue full, dropping events", "dropped", eb.dropped.Load())
		}
	}
}

// Run publishes queued events until ctx is done. Publish failures are logged and
// the event is discarded.
func (eb *EventBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-eb.queue:
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Warnw("failed to publish session event", "type", event.Type, "error", err)
			}
		}
	}
}

func (eb *EventBus) Publish(ctx context.Context, event domain.SessionEvent) error {
	data, err := json.Marshal(Envelope{
		InstanceID: eb.instanceID,
		SessionID:  eb.sessionID,
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := eb.publisher.Publish(pubCtx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"peer_id", event.PeerID,
	)
	return nil
}

// Subscribe delivers events published by other instances of the same session to
// handler until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Envelope) error) error {
	if eb.client == nil {
		return fmt.Errorf("subscribe requires a redis client")
	}

	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", eb.channel)
			}
			eb.handleMessage(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) handleMessage(payload string, handler func(Envelope) error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err)
		return
	}
	if env.InstanceID == eb.instanceID || env.SessionID != eb.sessionID {
		return
	}
	if err := handler(env); err != nil {
		eb.logger.Warnw("error handling event",
			"type", env.Event.Type,
			"instance_id", env.InstanceID,
			"error", err,
		)
	}
}
