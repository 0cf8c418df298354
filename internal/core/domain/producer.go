package domain

// Producer is one published media track of a peer.
type Producer struct {
	Kind   MediaKind  `json:"kind"`
	ID     ProducerID `json:"producer_id"`
	Shared bool       `json:"shared"`
	Paused bool       `json:"paused"`
}

// ProducerPayload is the wire shape of a producer in join responses and signaling events.
type ProducerPayload struct {
	MediaType  string     `json:"mediaType"`
	ProducerID ProducerID `json:"producerId"`
	Share      bool       `json:"share"`
	Paused     bool       `json:"paused"`
}

// ToProducer classifies the payload.
func (p ProducerPayload) ToProducer() (Producer, error) {
	kind, err := ClassifyMediaKind(p.MediaType, p.Share)
	if err != nil {
		return Producer{}, err
	}
	return Producer{
		Kind:   kind,
		ID:     p.ProducerID,
		Shared: kind == MediaScreenShare,
		Paused: p.Paused,
	}, nil
}
