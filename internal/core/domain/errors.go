package domain

import "errors"

var (
	ErrDecode            = errors.New("decode error")
	ErrMalformedProducer = errors.New("malformed producer")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrStatsUnavailable  = errors.New("transport stats unavailable")
)
