package domain

import (
	"errors"
	"fmt"
)

// ConsumerHandle is a local subscription to a remote producer, owned by the media engine.
// Release hands the subscription back to the engine for teardown.
type ConsumerHandle interface {
	ID() ConsumerID
	Release() error
}

// PeerFlags are derived from producer pause state and never stored.
type PeerFlags struct {
	AudioEnabled       bool `json:"audio_enabled"`
	VideoEnabled       bool `json:"video_enabled"`
	ScreenShareEnabled bool `json:"screen_share_enabled"`
}

// Peer is a meeting participant with its producers and consumer slots.
// Peer is not safe for concurrent use; the session directory serializes access.
type Peer struct {
	ID          PeerID
	DisplayName string

	producers []Producer
	consumers [len(MediaKinds)]ConsumerHandle
}

func NewPeer(id PeerID, displayName string) *Peer {
	return &Peer{
		ID:          id,
		DisplayName: displayName,
	}
}

// Producers returns a copy of the producer set in arrival order.
func (p *Peer) Producers() []Producer {
	out := make([]Producer, len(p.producers))
	copy(out, p.producers)
	return out
}

func (p *Peer) Producer(kind MediaKind) (Producer, bool) {
	for _, pr := range p.producers {
		if pr.Kind == kind {
			return pr, true
		}
	}
	return Producer{}, false
}

// SetProducer installs pr as the producer of its kind, replacing any earlier one
// in place. It reports whether the stored record changed.
func (p *Peer) SetProducer(pr Producer) bool {
	for i, existing := range p.producers {
		if existing.Kind == pr.Kind {
			if existing == pr {
				return false
			}
			p.producers[i] = pr
			return true
		}
	}
	p.producers = append(p.producers, pr)
	return true
}

// MergeProducers classifies and installs each payload in order, so the last payload
// of a kind wins. Unclassifiable payloads are skipped and returned as joined errors.
func (p *Peer) MergeProducers(payloads []ProducerPayload) error {
	var errs []error
	for _, payload := range payloads {
		pr, err := payload.ToProducer()
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s producer %q: %w", p.ID, payload.ProducerID, err))
			continue
		}
		p.SetProducer(pr)
	}
	return errors.Join(errs...)
}

// CloseProducer removes the producer with the given id and returns its kind.
func (p *Peer) CloseProducer(id ProducerID) (MediaKind, bool) {
	for i, pr := range p.producers {
		if pr.ID == id {
			p.producers = append(p.producers[:i], p.producers[i+1:]...)
			return pr.Kind, true
		}
	}
	return "", false
}

// IsResumed reports whether a producer of kind exists and is not paused.
func (p *Peer) IsResumed(kind MediaKind) bool {
	pr, ok := p.Producer(kind)
	return ok && !pr.Paused
}

func (p *Peer) Flags() PeerFlags {
	return PeerFlags{
		AudioEnabled:       p.IsResumed(MediaAudio),
		VideoEnabled:       p.IsResumed(MediaVideo),
		ScreenShareEnabled: p.IsResumed(MediaScreenShare),
	}
}

func (p *Peer) Consumer(kind MediaKind) (ConsumerHandle, bool) {
	i := kind.slot()
	if i < 0 || p.consumers[i] == nil {
		return nil, false
	}
	return p.consumers[i], true
}

// BindConsumer installs h in the slot for kind and returns the handle it displaced,
// or nil when the slot was empty or already held h. The displaced handle is not
// released; that is left to the caller so it can happen outside any lock.
func (p *Peer) BindConsumer(kind MediaKind, h ConsumerHandle) (ConsumerHandle, error) {
	i := kind.slot()
	if i < 0 {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	prev := p.consumers[i]
	p.consumers[i] = h
	if prev == h {
		return nil, nil
	}
	return prev, nil
}

// DetachConsumer clears the slot for kind and returns the handle it held, or nil.
func (p *Peer) DetachConsumer(kind MediaKind) ConsumerHandle {
	i := kind.slot()
	if i < 0 {
		return nil
	}
	h := p.consumers[i]
	p.consumers[i] = nil
	return h
}

// DetachedConsumer is a handle taken out of a peer slot, tagged with the slot's kind.
type DetachedConsumer struct {
	Kind   MediaKind
	Handle ConsumerHandle
}

// DetachConsumers empties every slot and returns the handles in MediaKinds order.
func (p *Peer) DetachConsumers() []DetachedConsumer {
	var out []DetachedConsumer
	for _, kind := range MediaKinds {
		if h := p.DetachConsumer(kind); h != nil {
			out = append(out, DetachedConsumer{Kind: kind, Handle: h})
		}
	}
	return out
}

// ReleaseConsumers calls Release on every handle and joins the failures.
func ReleaseConsumers(handles ...ConsumerHandle) error {
	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release consumer %s: %w", h.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// PeerSnapshot is an immutable view of a peer for readers outside the directory.
type PeerSnapshot struct {
	ID          PeerID                   `json:"peer_id"`
	DisplayName string                   `json:"display_name"`
	Producers   []Producer               `json:"producers"`
	Flags       PeerFlags                `json:"flags"`
	Consumers   map[MediaKind]ConsumerID `json:"consumers,omitempty"`
}

func (p *Peer) Snapshot() PeerSnapshot {
	snap := PeerSnapshot{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Producers:   p.Producers(),
		Flags:       p.Flags(),
	}
	for i, h := range p.consumers {
		if h == nil {
			continue
		}
		if snap.Consumers == nil {
			snap.Consumers = make(map[MediaKind]ConsumerID)
		}
		snap.Consumers[MediaKinds[i]] = h.ID()
	}
	return snap
}
