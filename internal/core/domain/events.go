package domain

import "time"

type EventType string

const (
	EventSessionLoaded   EventType = "session.loaded"
	EventPeerJoined      EventType = "peer.joined"
	EventPeerUpdated     EventType = "peer.updated"
	EventPeerLeft        EventType = "peer.left"
	EventProducerChanged EventType = "producer.changed"
	EventProducerClosed  EventType = "producer.closed"
	EventFlagsChanged    EventType = "peer.flags_changed"
	EventConsumerBound   EventType = "consumer.bound"
	EventConsumerUnbound EventType = "consumer.unbound"
	EventQualitySampled  EventType = "quality.sampled"
)

// SessionEvent is published after every mutation that changes observable state.
// Subscribers receive it by value and must not modify Flags or Quality.
type SessionEvent struct {
	Type        EventType             `json:"type"`
	PeerID      PeerID                `json:"peer_id,omitempty"`
	DisplayName string                `json:"display_name,omitempty"`
	Kind        MediaKind             `json:"kind,omitempty"`
	ProducerID  ProducerID            `json:"producer_id,omitempty"`
	ConsumerID  ConsumerID            `json:"consumer_id,omitempty"`
	Paused      bool                  `json:"paused,omitempty"`
	Flags       *PeerFlags            `json:"flags,omitempty"`
	Quality     *NetworkQualitySample `json:"quality,omitempty"`
	PeerCount   int                   `json:"peer_count,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
}
