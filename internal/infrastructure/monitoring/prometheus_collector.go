package monitoring

import (
	"sync"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.EventSubscriber = (*PrometheusCollector)(nil)

// PrometheusCollector turns session events into metrics. It keeps its own view of
// peer flags so gauges stay right across joins, leaves and reloads.
type PrometheusCollector struct {
	peers          prometheus.Gauge
	consumersBound prometheus.Gauge
	mediaEnabled   *prometheus.GaugeVec
	eventsTotal    *prometheus.CounterVec

	qualityGrade   prometheus.Gauge
	packetLoss     *prometheus.GaugeVec
	qualitySamples *prometheus.CounterVec

	mu        sync.Mutex
	flags     map[domain.PeerID]domain.PeerFlags
	consumers int
}

// NewPrometheusCollector registers its metrics with reg. A nil reg means the
// default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetcore_session_peers",
			Help: "Number of peers in the session directory",
		}),

		consumersBound: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetcore_consumers_bound",
			Help: "Number of consumer handles currently bound to peers",
		}),

		mediaEnabled: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetcore_peers_media_enabled",
			Help: "Number of peers with a resumed producer of each kind",
		}, []string{"kind"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetcore_session_events_total",
			Help: "Session events published, by type",
		}, []string{"type"}),

		qualityGrade: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetcore_network_quality_grade",
			Help: "Latest network quality grade (0 good, 1 bad, 2 very bad)",
		}),

		packetLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetcore_packet_loss_percent",
			Help: "Latest packet loss percentage per direction",
		}, []string{"direction"}),

		qualitySamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetcore_quality_samples_total",
			Help: "Network quality samples taken, by grade",
		}, []string{"grade"}),

		flags: make(map[domain.PeerID]domain.PeerFlags),
	}
}

func (p *PrometheusCollector) OnSessionEvent(event domain.SessionEvent) {
	p.eventsTotal.WithLabelValues(string(event.Type)).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case domain.EventSessionLoaded:
		p.flags = make(map[domain.PeerID]domain.PeerFlags, event.PeerCount)
		p.consumers = 0
	case domain.EventPeerJoined:
		var flags domain.PeerFlags
		if event.Flags != nil {
			flags = *event.Flags
		}
		p.flags[event.PeerID] = flags
	case domain.EventFlagsChanged:
		// a flag change never brings back a peer that has left
		if _, known := p.flags[event.PeerID]; !known || event.Flags == nil {
			return
		}
		p.flags[event.PeerID] = *event.Flags
	case domain.EventPeerLeft:
		delete(p.flags, event.PeerID)
	case domain.EventConsumerBound:
		p.consumers++
	case domain.EventConsumerUnbound:
		if p.consumers > 0 {
			p.consumers--
		}
	case domain.EventQualitySampled:
		if q := event.Quality; q != nil {
			p.qualityGrade.Set(float64(q.Grade))
			p.packetLoss.WithLabelValues(string(domain.DirectionSend)).Set(float64(q.LocalPacketPercentLoss))
			p.packetLoss.WithLabelValues(string(domain.DirectionRecv)).Set(float64(q.RemotePacketPercentLoss))
			p.qualitySamples.WithLabelValues(q.Grade.String()).Inc()
		}
		return
	default:
		return
	}
	p.refreshLocked()
}

func (p *PrometheusCollector) refreshLocked() {
	var audio, video, screen int
	for _, f := range p.flags {
		if f.AudioEnabled {
			audio++
		}
		if f.VideoEnabled {
			video++
		}
		if f.ScreenShareEnabled {
			screen++
		}
	}
	p.peers.Set(float64(len(p.flags)))
	p.consumersBound.Set(float64(p.consumers))
	p.mediaEnabled.WithLabelValues(string(domain.MediaAudio)).Set(float64(audio))
	p.mediaEnabled.WithLabelValues(string(domain.MediaVideo)).Set(float64(video))
	p.mediaEnabled.WithLabelValues(string(domain.MediaScreenShare)).Set(float64(screen))
}
