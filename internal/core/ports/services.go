package ports

import (
	"context"

	"meetcore/internal/core/domain"
)

// SessionDirectory is the peer/producer/consumer state of one meeting.
type SessionDirectory interface {
	LoadFromJoinResponse(ctx context.Context, payload []byte) error
	UpsertPeer(ctx context.Context, peerID domain.PeerID, displayName string)
	ApplyProducerEvent(ctx context.Context, peerID domain.PeerID, payload domain.ProducerPayload) error
	CloseProducer(ctx context.Context, peerID domain.PeerID, producerID domain.ProducerID) error
	RemovePeer(ctx context.Context, peerID domain.PeerID) error
	BindConsumer(ctx context.Context, peerID domain.PeerID, kind domain.MediaKind, handle domain.ConsumerHandle) error
	UnbindConsumer(ctx context.Context, peerID domain.PeerID, kind domain.MediaKind) error

	GetProducerID(peerID domain.PeerID, kind domain.MediaKind) (domain.ProducerID, bool)
	GetConsumer(peerID domain.PeerID, kind domain.MediaKind) (domain.ConsumerHandle, bool)
	IsResumed(peerID domain.PeerID, kind domain.MediaKind) bool
	Peer(peerID domain.PeerID) (domain.PeerSnapshot, bool)
	Snapshot() []domain.PeerSnapshot
	Len() int
}

// QualityClassifier grades transport loss reports and exposes the most recent
// polled sample.
type QualityClassifier interface {
	Classify(reports []domain.TransportStats, sendID, recvID domain.TransportID) domain.NetworkQualitySample
	LatestSample() (domain.NetworkQualitySample, bool)
}
