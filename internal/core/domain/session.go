package domain

type PeerID string
type ProducerID string
type ConsumerID string
type TransportID string
type SessionID string

// ConnectionState mirrors the lifecycle of the local media connection.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// JoinResponse is the body returned by the session-join endpoint.
type JoinResponse struct {
	Data *struct {
		Peers *[]PeerPayload `json:"peers"`
	} `json:"data"`
}

type PeerPayload struct {
	PeerID      PeerID            `json:"peerId"`
	DisplayName string            `json:"displayName"`
	Producers   []ProducerPayload `json:"producers"`
}
