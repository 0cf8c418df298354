package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"
	"meetcore/internal/core/services"
	"meetcore/internal/infrastructure/monitoring"
	apperrors "meetcore/pkg/errors"
	"meetcore/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionHandler serves a read-only view of the session directory and network quality.
type SessionHandler struct {
	directory ports.SessionDirectory
	quality   ports.QualityClassifier
	health    *monitoring.HealthChecker
	gatherer  prometheus.Gatherer
}

func NewSessionHandler(
	directory ports.SessionDirectory,
	quality ports.QualityClassifier,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *SessionHandler {
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &SessionHandler{
		directory: directory,
		quality:   quality,
		health:    health,
		gatherer:  gatherer,
	}
}

// SetupRoutes registers the probes and metrics at the root and the inspection API
// under /api/v1, behind apiMiddleware.
func (h *SessionHandler) SetupRoutes(router *gin.Engine, apiMiddleware ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1", apiMiddleware...)
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/peers/:id", h.GetPeer)
		api.GET("/peers/:id/producers/:kind", h.GetProducer)
		api.GET("/quality", h.GetQuality)
		api.POST("/quality/grade", h.GradeStats)
	}
}

func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
	})
}

func (h *SessionHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *SessionHandler) ListPeers(c *gin.Context) {
	peers := h.directory.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"peers": peers,
		"count": len(peers),
	})
}

func (h *SessionHandler) GetPeer(c *gin.Context) {
	peerID, ok := peerIDParam(c)
	if !ok {
		return
	}

	peer, found := h.directory.Peer(peerID)
	if !found {
		_ = c.Error(apperrors.NewNotFoundError("peer").WithContext("peer_id", peerID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer})
}

type producerResponse struct {
	PeerID     domain.PeerID     `json:"peer_id"`
	Kind       domain.MediaKind  `json:"kind"`
	ProducerID domain.ProducerID `json:"producer_id"`
	Resumed    bool              `json:"resumed"`
	ConsumerID domain.ConsumerID `json:"consumer_id,omitempty"`
}

func (h *SessionHandler) GetProducer(c *gin.Context) {
	peerID, ok := peerIDParam(c)
	if !ok {
		return
	}
	kind, err := domain.ParseMediaKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	producerID, found := h.directory.GetProducerID(peerID, kind)
	if !found {
		_ = c.Error(apperrors.NewNotFoundError("producer").
			WithContext("peer_id", peerID).
			WithContext("kind", kind))
		return
	}

	resp := producerResponse{
		PeerID:     peerID,
		Kind:       kind,
		ProducerID: producerID,
		Resumed:    h.directory.IsResumed(peerID, kind),
	}
	if consumer, ok := h.directory.GetConsumer(peerID, kind); ok {
		resp.ConsumerID = consumer.ID()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) GetQuality(c *gin.Context) {
	sample, ok := h.quality.LatestSample()
	if !ok {
		_ = c.Error(apperrors.NewNotFoundError("network quality sample"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": sample})
}

const maxStatsBodyBytes = 1 << 20

// GradeStats grades a posted transport-stats payload against the send and recv
// transport ids given as query parameters. The latest polled sample is untouched.
func (h *SessionHandler) GradeStats(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxStatsBodyBytes))
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("failed to read request body"))
		return
	}

	reports, err := services.DecodeTransportStats(payload)
	switch {
	case errors.Is(err, domain.ErrStatsUnavailable):
		_ = c.Error(apperrors.NewServiceUnavailableError(err.Error()))
		return
	case err != nil:
		_ = c.Error(apperrors.NewDecodeError(err))
		return
	}

	sample := h.quality.Classify(reports,
		domain.TransportID(c.Query("send")),
		domain.TransportID(c.Query("recv")),
	)
	c.JSON(http.StatusOK, gin.H{"quality": sample, "reports": len(reports)})
}

func peerIDParam(c *gin.Context) (domain.PeerID, bool) {
	id := c.Param("id")
	if err := validation.ValidatePeerID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.PeerID(id), true
}
