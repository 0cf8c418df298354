package webrtc

import (
	"meetcore/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ConnectionStateListener receives media connection state transitions.
type ConnectionStateListener interface {
	OnConnectionStateChange(state domain.ConnectionState)
}

func ConnectionStateFromPion(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}

// WatchConnectionState forwards the peer connection's state changes to listener.
func WatchConnectionState(pc *webrtc.PeerConnection, listener ConnectionStateListener, logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Infow("media connection state changed", "connection_state", state)
		listener.OnConnectionStateChange(ConnectionStateFromPion(state))
	})
}
