package domain

import (
	"fmt"
	"strings"
)

// MediaKind is the closed set of media a peer can publish.
type MediaKind string

const (
	MediaAudio            MediaKind = "audio"
	MediaVideo            MediaKind = "video"
	MediaScreenShare      MediaKind = "screen_share"
	MediaScreenShareAudio MediaKind = "screen_share_audio"
)

// MediaKinds lists every kind in consumer slot order.
var MediaKinds = [...]MediaKind{MediaAudio, MediaVideo, MediaScreenShare, MediaScreenShareAudio}

func (k MediaKind) slot() int {
	for i, kind := range MediaKinds {
		if kind == k {
			return i
		}
	}
	return -1
}

func (k MediaKind) Valid() bool {
	return k.slot() >= 0
}

// ParseMediaKind parses the wire name of a kind, as used in URLs and events.
func ParseMediaKind(s string) (MediaKind, error) {
	k := MediaKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown media kind %q", s)
	}
	return k, nil
}

// ClassifyMediaKind maps a wire media type and share flag onto a MediaKind.
// There is no fallback: anything other than "audio" or "video" is malformed.
func ClassifyMediaKind(mediaType string, share bool) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "audio":
		return MediaAudio, nil
	case "video":
		if share {
			return MediaScreenShare, nil
		}
		return MediaVideo, nil
	default:
		return "", fmt.Errorf("%w: unsupported media type %q (share=%t)", ErrMalformedProducer, mediaType, share)
	}
}
