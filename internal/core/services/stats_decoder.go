package services

import (
	"encoding/json"
	"fmt"
	"math"

	"meetcore/internal/core/domain"
)

const (
	statusOK          = "ok"
	lossSentField     = "rtpPacketLossSent"
	lossReceivedField = "rtpPacketLossReceived"
)

type transportStatsResponse struct {
	Status string `json:"status"`
	Data   *struct {
		Stats []struct {
			Transport domain.TransportID           `json:"transport"`
			Stats     []map[string]json.RawMessage `json:"stats"`
		} `json:"stats"`
	} `json:"data"`
}

// DecodeTransportStats decodes a transport-stats payload into loss reports, preserving
// their order. A non-ok status yields domain.ErrStatsUnavailable. Entries carrying
// rtpPacketLossSent report the send direction, rtpPacketLossReceived the receive
// direction; a null ratio decodes as NaN.
func DecodeTransportStats(payload []byte) ([]domain.TransportStats, error) {
	var resp transportStatsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: transport stats: %v", domain.ErrDecode, err)
	}
	if resp.Status != statusOK {
		return nil, fmt.Errorf("%w: status %q", domain.ErrStatsUnavailable, resp.Status)
	}
	if resp.Data == nil {
		return nil, nil
	}

	var reports []domain.TransportStats
	for _, transport := range resp.Data.Stats {
		for _, entry := range transport.Stats {
			if raw, ok := entry[lossSentField]; ok {
				reports = append(reports, domain.TransportStats{
					TransportID:     transport.Transport,
					Direction:       domain.DirectionSend,
					PacketLossRatio: decodeRatio(raw),
				})
			}
			if raw, ok := entry[lossReceivedField]; ok {
				reports = append(reports, domain.TransportStats{
					TransportID:     transport.Transport,
					Direction:       domain.DirectionRecv,
					PacketLossRatio: decodeRatio(raw),
				})
			}
		}
	}
	return reports, nil
}

func decodeRatio(raw json.RawMessage) float64 {
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return math.NaN()
	}
	return *v
}
