package webrtc

import (
	"sync"

	"meetcore/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Stopper is the part of a pion receiver or transceiver that tears a subscription down.
type Stopper interface {
	Stop() error
}

var _ domain.ConsumerHandle = (*Consumer)(nil)

// Consumer adapts a pion receiver to domain.ConsumerHandle. Release stops the
// receiver once; later calls are no-ops.
type Consumer struct {
	id      domain.ConsumerID
	stopper Stopper

	once sync.Once
	err  error
}

func NewConsumer(id domain.ConsumerID, stopper Stopper) *Consumer {
	return &Consumer{id: id, stopper: stopper}
}

// NewReceiverConsumer wraps the receiver delivering a remote track. The consumer id
// is the track id.
func NewReceiverConsumer(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *Consumer {
	return NewConsumer(domain.ConsumerID(track.ID()), receiver)
}

func (c *Consumer) ID() domain.ConsumerID {
	return c.id
}

func (c *Consumer) Release() error {
	c.once.Do(func() {
		if c.stopper != nil {
			c.err = c.stopper.Stop()
		}
	})
	return c.err
}

// MediaKindOf maps a remote track onto a consumer slot. Screen share tracks are
// recognised by the stream id the publisher gives them.
func MediaKindOf(track *webrtc.TrackRemote, screenStreamID string) domain.MediaKind {
	screen := screenStreamID != "" && track.StreamID() == screenStreamID
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		if screen {
			return domain.MediaScreenShareAudio
		}
		return domain.MediaAudio
	default:
		if screen {
			return domain.MediaScreenShare
		}
		return domain.MediaVideo
	}
}
