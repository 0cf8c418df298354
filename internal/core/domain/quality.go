package domain

import (
	"fmt"
	"time"
)

// QualityGrade orders from best to worst.
type QualityGrade int

const (
	QualityGood QualityGrade = iota
	QualityBad
	QualityVeryBad
)

func (g QualityGrade) String() string {
	switch g {
	case QualityGood:
		return "good"
	case QualityBad:
		return "bad"
	case QualityVeryBad:
		return "very_bad"
	default:
		return fmt.Sprintf("grade(%d)", int(g))
	}
}

func (g QualityGrade) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *QualityGrade) UnmarshalText(b []byte) error {
	switch string(b) {
	case "good":
		*g = QualityGood
	case "bad":
		*g = QualityBad
	case "very_bad":
		*g = QualityVeryBad
	default:
		return fmt.Errorf("unknown quality grade %q", b)
	}
	return nil
}

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// TransportStats is one packet-loss report for a transport. PacketLossRatio is in
// [0, 1] and may be NaN when the engine has no data yet.
type TransportStats struct {
	TransportID     TransportID        `json:"transport_id"`
	Direction       TransportDirection `json:"direction"`
	PacketLossRatio float64            `json:"packet_loss_ratio"`
}

// NetworkQualitySample is recomputed on every stats tick. Local is the uplink
// (send transport), remote is the downlink (receive transport).
type NetworkQualitySample struct {
	Grade                   QualityGrade `json:"grade"`
	LocalPacketPercentLoss  int          `json:"local_packet_percent_loss"`
	RemotePacketPercentLoss int          `json:"remote_packet_percent_loss"`
	Timestamp               time.Time    `json:"timestamp"`
}
