package webrtc

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var _ ports.StatsSource = (*LossTracker)(nil)

// LossTracker derives transport loss reports from the media flowing through this
// client. Uplink loss comes from the fraction-lost field of RTCP receiver reports
// for our outgoing streams; downlink loss comes from gaps in the sequence numbers
// of incoming RTP.
type LossTracker struct {
	mu     sync.Mutex
	sendID domain.TransportID
	recvID domain.TransportID

	fractionLost map[uint32]uint8
	inbound      map[uint32]*sequenceState

	logger *zap.SugaredLogger
}

type sequenceState struct {
	base     uint32
	cycles   uint32
	maxSeq   uint16
	received uint64

	expectedPrior uint64
	receivedPrior uint64
}

func (s *sequenceState) extendedMax() uint32 {
	return s.cycles + uint32(s.maxSeq)
}

func (s *sequenceState) expected() uint64 {
	return uint64(s.extendedMax()-s.base) + 1
}

func NewLossTracker(sendID, recvID domain.TransportID, logger *zap.SugaredLogger) *LossTracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LossTracker{
		sendID:       sendID,
		recvID:       recvID,
		fractionLost: make(map[uint32]uint8),
		inbound:      make(map[uint32]*sequenceState),
		logger:       logger,
	}
}

// ObserveRTCP records fraction-lost from receiver reports. Other packet types are
// ignored.
func (t *LossTracker) ObserveRTCP(packets []rtcp.Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			t.fractionLost[report.SSRC] = report.FractionLost
		}
	}
}

// ObserveRTP records one incoming packet header.
func (t *LossTracker) ObserveRTP(header *rtp.Header) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.inbound[header.SSRC]
	if !ok {
		t.inbound[header.SSRC] = &sequenceState{
			base:     uint32(header.SequenceNumber),
			maxSeq:   header.SequenceNumber,
			received: 1,
		}
		return
	}

	s.received++
	delta := header.SequenceNumber - s.maxSeq
	if delta != 0 && delta < 1<<15 {
		if header.SequenceNumber < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = header.SequenceNumber
	}
}

// FetchTransportStats reports loss since the previous call. A direction with no
// observations yet is left out.
func (t *LossTracker) FetchTransportStats(ctx context.Context) ([]domain.TransportStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var reports []domain.TransportStats
	if len(t.fractionLost) > 0 {
		var sum float64
		for _, fl := range t.fractionLost {
			sum += float64(fl) / 256
		}
		reports = append(reports, domain.TransportStats{
			TransportID:     t.sendID,
			Direction:       domain.DirectionSend,
			PacketLossRatio: sum / float64(len(t.fractionLost)),
		})
	}

	if len(t.inbound) > 0 {
		var expected, lost uint64
		for _, s := range t.inbound {
			exp := s.expected() - s.expectedPrior
			rec := s.received - s.receivedPrior
			s.expectedPrior = s.expected()
			s.receivedPrior = s.received
			expected += exp
			if exp > rec {
				lost += exp - rec
			}
		}
		ratio := math.NaN()
		if expected > 0 {
			ratio = float64(lost) / float64(expected)
		}
		reports = append(reports, domain.TransportStats{
			TransportID:     t.recvID,
			Direction:       domain.DirectionRecv,
			PacketLossRatio: ratio,
		})
	}
	return reports, nil
}

// ReadSenderRTCP feeds receiver reports about one of our outgoing streams into the
// tracker until the sender is closed.
func (t *LossTracker) ReadSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debugw("stopped reading sender RTCP", "error", err)
			}
			return
		}
		t.ObserveRTCP(packets)
	}
}

// ReadTrack feeds incoming RTP headers of a remote track into the tracker until
// the track ends. Payloads are discarded.
func (t *LossTracker) ReadTrack(track *webrtc.TrackRemote) {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debugw("stopped reading remote track", "track_id", track.ID(), "error", err)
			}
			return
		}
		t.ObserveRTP(&packet.Header)
	}
}
