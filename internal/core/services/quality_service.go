package services

import (
	"math"
	"sync"
	"time"

	"meetcore/internal/core/domain"
)

// QualityThresholds are inclusive upper bounds of packet loss in percent.
type QualityThresholds struct {
	GoodMaxLossPercent int
	BadMaxLossPercent  int
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		GoodMaxLossPercent: 3,
		BadMaxLossPercent:  15,
	}
}

// QualityService grades transport packet loss and remembers the latest sample.
type QualityService struct {
	thresholds QualityThresholds
	now        func() time.Time

	mu     sync.RWMutex
	latest *domain.NetworkQualitySample
}

func NewQualityService(thresholds QualityThresholds) *QualityService {
	return &QualityService{
		thresholds: thresholds,
		now:        time.Now,
	}
}

// GetThresholds returns the grading thresholds.
func (qs *QualityService) GetThresholds() QualityThresholds {
	return qs.thresholds
}

func (qs *QualityService) Grade(lossPercent int) domain.QualityGrade {
	switch {
	case lossPercent <= qs.thresholds.GoodMaxLossPercent:
		return domain.QualityGood
	case lossPercent <= qs.thresholds.BadMaxLossPercent:
		return domain.QualityBad
	default:
		return domain.QualityVeryBad
	}
}

// Classify builds a sample from raw reports. For each direction only the first report
// matching the transport id counts. Missing transports grade as 0% loss.
func (qs *QualityService) Classify(reports []domain.TransportStats, sendID, recvID domain.TransportID) domain.NetworkQualitySample {
	uplink := firstLossPercent(reports, sendID, domain.DirectionSend)
	downlink := firstLossPercent(reports, recvID, domain.DirectionRecv)

	grade := qs.Grade(uplink)
	if g := qs.Grade(downlink); g > grade {
		grade = g
	}

	return domain.NetworkQualitySample{
		Grade:                   grade,
		LocalPacketPercentLoss:  uplink,
		RemotePacketPercentLoss: downlink,
		Timestamp:               qs.now(),
	}
}

// Observe classifies reports and stores the result as the latest sample.
func (qs *QualityService) Observe(reports []domain.TransportStats, sendID, recvID domain.TransportID) domain.NetworkQualitySample {
	sample := qs.Classify(reports, sendID, recvID)

	qs.mu.Lock()
	qs.latest = &sample
	qs.mu.Unlock()

	return sample
}

func (qs *QualityService) LatestSample() (domain.NetworkQualitySample, bool) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()

	if qs.latest == nil {
		return domain.NetworkQualitySample{}, false
	}
	return *qs.latest, true
}

// LossPercent converts a loss ratio to a whole percentage. NaN counts as no loss.
func LossPercent(ratio float64) int {
	if math.IsNaN(ratio) || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return 100
	}
	return int(math.Round(ratio * 100))
}

func firstLossPercent(reports []domain.TransportStats, id domain.TransportID, dir domain.TransportDirection) int {
	if id == "" {
		return 0
	}
	for _, r := range reports {
		if r.TransportID == id && r.Direction == dir {
			return LossPercent(r.PacketLossRatio)
		}
	}
	return 0
}
