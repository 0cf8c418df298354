package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"go.uber.org/zap"
)

var _ ports.SessionDirectory = (*SessionDirectory)(nil)

// SessionDirectory holds every peer of one meeting. All reads and writes go through a
// single mutex, so a producer merge is never observed half-applied.
//
// Events are queued under the same lock as the mutation that produced them and
// delivered after it is released, one batch at a time and in mutation order. A
// mutation that finds another goroutine already delivering leaves its events to that
// goroutine and returns. Consumer handles are released outside the lock.
type SessionDirectory struct {
	mu       sync.Mutex
	peers    map[domain.PeerID]*domain.Peer
	queue    []domain.SessionEvent
	draining bool

	notifier *Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewSessionDirectory(notifier *Notifier, logger *zap.SugaredLogger) *SessionDirectory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionDirectory{
		peers:    make(map[domain.PeerID]*domain.Peer),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// LoadFromJoinResponse replaces the whole directory with the peers in payload.
// Decoding is lenient: an unreadable payload or one without data.peers leaves an empty
// directory, peers without an id and unclassifiable producers are skipped. Every such
// problem is returned in a joined error; the directory is updated regardless.
func (d *SessionDirectory) LoadFromJoinResponse(ctx context.Context, payload []byte) error {
	var (
		resp  domain.JoinResponse
		errs  []error
		peers []domain.PeerPayload
	)
	if err := json.Unmarshal(payload, &resp); err != nil {
		errs = append(errs, fmt.Errorf("%w: join response: %v", domain.ErrDecode, err))
	} else if resp.Data == nil || resp.Data.Peers == nil {
		errs = append(errs, fmt.Errorf("%w: join response has no data.peers array", domain.ErrDecode))
	} else {
		peers = *resp.Data.Peers
	}

	next := make(map[domain.PeerID]*domain.Peer, len(peers))
	for i, pp := range peers {
		if pp.PeerID == "" {
			errs = append(errs, fmt.Errorf("%w: peer at index %d has no peerId", domain.ErrDecode, i))
			continue
		}
		peer, exists := next[pp.PeerID]
		if !exists {
			peer = domain.NewPeer(pp.PeerID, pp.DisplayName)
			next[pp.PeerID] = peer
		} else {
			peer.DisplayName = pp.DisplayName
		}
		if err := peer.MergeProducers(pp.Producers); err != nil {
			errs = append(errs, err)
		}
	}

	d.mu.Lock()
	previous := d.peers
	d.peers = next
	now := d.now()
	var (
		events   []domain.SessionEvent
		detached []domain.ConsumerHandle
	)
	for _, id := range sortedIDs(previous) {
		peer := previous[id]
		for _, dc := range peer.DetachConsumers() {
			detached = append(detached, dc.Handle)
			events = append(events, consumerEvent(domain.EventConsumerUnbound, id, dc.Kind, dc.Handle.ID(), now))
		}
		if _, kept := next[id]; !kept {
			events = append(events, domain.SessionEvent{
				Type:        domain.EventPeerLeft,
				PeerID:      id,
				DisplayName: peer.DisplayName,
				PeerCount:   len(next),
				Timestamp:   now,
			})
		}
	}
	events = append(events, domain.SessionEvent{
		Type:      domain.EventSessionLoaded,
		PeerCount: len(next),
		Timestamp: now,
	})
	for _, snap := range sortedSnapshots(next) {
		flags := snap.Flags
		events = append(events, domain.SessionEvent{
			Type:        domain.EventPeerJoined,
			PeerID:      snap.ID,
			DisplayName: snap.DisplayName,
			Flags:       &flags,
			Timestamp:   now,
		})
	}
	d.enqueueLocked(events)
	d.mu.Unlock()

	if relErr := domain.ReleaseConsumers(detached...); relErr != nil {
		d.logger.Warnw("failed to release consumers of replaced peers", "error", relErr)
	}

	err := errors.Join(errs...)
	if err != nil {
		d.logger.Warnw("join response decoded with diagnostics",
			"peers", len(next),
			"error", err,
		)
	} else {
		d.logger.Infow("session directory loaded", "peers", len(next), "released_consumers", len(detached))
	}

	d.deliver()
	return err
}

// UpsertPeer creates the peer or updates its display name. Producers are untouched.
func (d *SessionDirectory) UpsertPeer(ctx context.Context, peerID domain.PeerID, displayName string) {
	d.mu.Lock()
	var event *domain.SessionEvent
	peer, exists := d.peers[peerID]
	switch {
	case !exists:
		peer = domain.NewPeer(peerID, displayName)
		d.peers[peerID] = peer
		flags := peer.Flags()
		event = &domain.SessionEvent{Type: domain.EventPeerJoined, PeerID: peerID, DisplayName: displayName, Flags: &flags, Timestamp: d.now()}
	case peer.DisplayName != displayName:
		peer.DisplayName = displayName
		event = &domain.SessionEvent{Type: domain.EventPeerUpdated, PeerID: peerID, DisplayName: displayName, Timestamp: d.now()}
	}
	if event != nil {
		d.enqueueLocked([]domain.SessionEvent{*event})
	}
	d.mu.Unlock()

	if event != nil {
		d.logger.Debugw("peer upserted", "peer_id", peerID, "event", event.Type)
		d.deliver()
	}
}

// ApplyProducerEvent merges one producer into a known peer. Events for unknown peers
// are dropped without error since signaling may deliver them before the join.
// When the producer id of a kind changes, the consumer bound to the old producer
// is released.
func (d *SessionDirectory) ApplyProducerEvent(ctx context.Context, peerID domain.PeerID, payload domain.ProducerPayload) error {
	d.mu.Lock()
	peer, exists := d.peers[peerID]
	if !exists {
		d.mu.Unlock()
		d.logger.Debugw("producer event for unknown peer ignored",
			"peer_id", peerID,
			"producer_id", payload.ProducerID,
		)
		return nil
	}

	pr, err := payload.ToProducer()
	if err != nil {
		d.mu.Unlock()
		d.logger.Warnw("malformed producer skipped", "peer_id", peerID, "error", err)
		return fmt.Errorf("peer %s producer %q: %w", peerID, payload.ProducerID, err)
	}

	var (
		events   []domain.SessionEvent
		detached domain.ConsumerHandle
		now      = d.now()
		before   = peer.Flags()
		old, ok  = peer.Producer(pr.Kind)
	)
	if peer.SetProducer(pr) {
		events = append(events, domain.SessionEvent{
			Type:       domain.EventProducerChanged,
			PeerID:     peerID,
			Kind:       pr.Kind,
			ProducerID: pr.ID,
			Paused:     pr.Paused,
			Timestamp:  now,
		})
		if ok && old.ID != pr.ID {
			detached = peer.DetachConsumer(pr.Kind)
			if detached != nil {
				events = append(events, consumerEvent(domain.EventConsumerUnbound, peerID, pr.Kind, detached.ID(), now))
			}
		}
	}
	if after := peer.Flags(); after != before {
		events = append(events, domain.SessionEvent{Type: domain.EventFlagsChanged, PeerID: peerID, Flags: &after, Timestamp: now})
	}
	d.enqueueLocked(events)
	d.mu.Unlock()

	relErr := domain.ReleaseConsumers(detached)
	d.deliver()
	return relErr
}

// CloseProducer removes a producer and releases the consumer of its kind.
// Unknown peers and producers are ignored so duplicate close events are harmless.
func (d *SessionDirectory) CloseProducer(ctx context.Context, peerID domain.PeerID, producerID domain.ProducerID) error {
	d.mu.Lock()
	peer, exists := d.peers[peerID]
	if !exists {
		d.mu.Unlock()
		return nil
	}
	before := peer.Flags()
	kind, found := peer.CloseProducer(producerID)
	if !found {
		d.mu.Unlock()
		d.logger.Debugw("close for unknown producer ignored", "peer_id", peerID, "producer_id", producerID)
		return nil
	}

	now := d.now()
	events := []domain.SessionEvent{{
		Type:       domain.EventProducerClosed,
		PeerID:     peerID,
		Kind:       kind,
		ProducerID: producerID,
		Timestamp:  now,
	}}
	detached := peer.DetachConsumer(kind)
	if detached != nil {
		events = append(events, consumerEvent(domain.EventConsumerUnbound, peerID, kind, detached.ID(), now))
	}
	if after := peer.Flags(); after != before {
		events = append(events, domain.SessionEvent{Type: domain.EventFlagsChanged, PeerID: peerID, Flags: &after, Timestamp: now})
	}
	d.enqueueLocked(events)
	d.mu.Unlock()

	err := domain.ReleaseConsumers(detached)
	d.deliver()
	return err
}

// RemovePeer deletes the peer and hands its consumers back to the media engine.
func (d *SessionDirectory) RemovePeer(ctx context.Context, peerID domain.PeerID) error {
	d.mu.Lock()
	peer, exists := d.peers[peerID]
	if !exists {
		d.mu.Unlock()
		return nil
	}
	delete(d.peers, peerID)

	var (
		now      = d.now()
		events   []domain.SessionEvent
		detached []domain.ConsumerHandle
	)
	for _, dc := range peer.DetachConsumers() {
		detached = append(detached, dc.Handle)
		events = append(events, consumerEvent(domain.EventConsumerUnbound, peerID, dc.Kind, dc.Handle.ID(), now))
	}
	events = append(events, domain.SessionEvent{
		Type:        domain.EventPeerLeft,
		PeerID:      peerID,
		DisplayName: peer.DisplayName,
		PeerCount:   len(d.peers),
		Timestamp:   now,
	})
	d.enqueueLocked(events)
	d.mu.Unlock()

	err := domain.ReleaseConsumers(detached...)
	if err != nil {
		d.logger.Warnw("failed to release consumers of departed peer", "peer_id", peerID, "error", err)
	}
	d.logger.Infow("peer removed", "peer_id", peerID, "released_consumers", len(detached))
	d.deliver()
	return err
}

// BindConsumer installs handle in the peer's slot for kind and releases the previous
// handle. When the peer is unknown the handle is released and
// domain.ErrPeerNotFound is returned, so the subscription never leaks.
func (d *SessionDirectory) BindConsumer(ctx context.Context, peerID domain.PeerID, kind domain.MediaKind, handle domain.ConsumerHandle) error {
	if handle == nil {
		return fmt.Errorf("bind consumer for peer %s: nil handle", peerID)
	}

	d.mu.Lock()
	peer, exists := d.peers[peerID]
	if !exists || !kind.Valid() {
		d.mu.Unlock()
		if relErr := handle.Release(); relErr != nil {
			d.logger.Warnw("failed to release orphaned consumer", "consumer_id", handle.ID(), "error", relErr)
		}
		if !exists {
			return fmt.Errorf("bind consumer %s: %w: %s", handle.ID(), domain.ErrPeerNotFound, peerID)
		}
		return fmt.Errorf("bind consumer %s: unknown media kind %q", handle.ID(), kind)
	}

	now := d.now()
	var events []domain.SessionEvent
	prev, err := peer.BindConsumer(kind, handle)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("bind consumer %s: %w", handle.ID(), err)
	}
	if prev != nil {
		events = append(events, consumerEvent(domain.EventConsumerUnbound, peerID, kind, prev.ID(), now))
	}
	events = append(events, consumerEvent(domain.EventConsumerBound, peerID, kind, handle.ID(), now))
	d.enqueueLocked(events)
	d.mu.Unlock()

	err = domain.ReleaseConsumers(prev)
	d.deliver()
	return err
}

// UnbindConsumer releases the peer's consumer for kind. Empty slots and unknown
// peers are a no-op.
func (d *SessionDirectory) UnbindConsumer(ctx context.Context, peerID domain.PeerID, kind domain.MediaKind) error {
	d.mu.Lock()
	peer, exists := d.peers[peerID]
	if !exists {
		d.mu.Unlock()
		return nil
	}
	detached := peer.DetachConsumer(kind)
	if detached == nil {
		d.mu.Unlock()
		return nil
	}
	d.enqueueLocked([]domain.SessionEvent{consumerEvent(domain.EventConsumerUnbound, peerID, kind, detached.ID(), d.now())})
	d.mu.Unlock()

	err := domain.ReleaseConsumers(detached)
	d.deliver()
	return err
}

func (d *SessionDirectory) GetProducerID(peerID domain.PeerID, kind domain.MediaKind) (domain.ProducerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer, exists := d.peers[peerID]
	if !exists {
		return "", false
	}
	pr, ok := peer.Producer(kind)
	if !ok {
		return "", false
	}
	return pr.ID, true
}

func (d *SessionDirectory) GetConsumer(peerID domain.PeerID, kind domain.MediaKind) (domain.ConsumerHandle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer, exists := d.peers[peerID]
	if !exists {
		return nil, false
	}
	return peer.Consumer(kind)
}

func (d *SessionDirectory) IsResumed(peerID domain.PeerID, kind domain.MediaKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer, exists := d.peers[peerID]
	return exists && peer.IsResumed(kind)
}

func (d *SessionDirectory) Peer(peerID domain.PeerID) (domain.PeerSnapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	peer, exists := d.peers[peerID]
	if !exists {
		return domain.PeerSnapshot{}, false
	}
	return peer.Snapshot(), true
}

// Snapshot returns every peer ordered by id.
func (d *SessionDirectory) Snapshot() []domain.PeerSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedSnapshots(d.peers)
}

func (d *SessionDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

// enqueueLocked appends events to the delivery queue. d.mu must be held.
func (d *SessionDirectory) enqueueLocked(events []domain.SessionEvent) {
	d.queue = append(d.queue, events...)
}

// deliver publishes queued events until the queue is empty, unless another goroutine
// is already doing so. The notifier is called without d.mu held, so subscribers may
// read the directory. A subscriber that mutates the directory has its events
// delivered after the current batch instead of recursively.
func (d *SessionDirectory) deliver() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.queue) > 0 {
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()
		d.notifier.Publish(batch...)
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}

func sortedIDs(peers map[domain.PeerID]*domain.Peer) []domain.PeerID {
	ids := make([]domain.PeerID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedSnapshots(peers map[domain.PeerID]*domain.Peer) []domain.PeerSnapshot {
	out := make([]domain.PeerSnapshot, 0, len(peers))
	for _, peer := range peers {
		out = append(out, peer.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func consumerEvent(t domain.EventType, peerID domain.PeerID, kind domain.MediaKind, id domain.ConsumerID, ts time.Time) domain.SessionEvent {
	return domain.SessionEvent{
		Type:       t,
		PeerID:     peerID,
		Kind:       kind,
		ConsumerID: id,
		Timestamp:  ts,
	}
}
