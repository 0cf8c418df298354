package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/services"
	"meetcore/internal/infrastructure/middleware"
	"meetcore/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	router  *gin.Engine
	dir     *services.SessionDirectory
	quality *services.QualityService
	auth    services.AuthService
	ready   bool
}

type stubConsumer struct{}

func (stubConsumer) ID() domain.ConsumerID { return "consumer-9" }
func (stubConsumer) Release() error        { return nil }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		quality: services.NewQualityService(services.DefaultQualityThresholds()),
		auth:    services.NewAuthService("secret", time.Minute),
	}
	reg := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(reg)
	notifier := services.NewNotifier(nil)
	notifier.Subscribe(collector)
	f.dir = services.NewSessionDirectory(notifier, nil)

	require.NoError(t, f.dir.LoadFromJoinResponse(context.Background(), []byte(`{"data":{"peers":[
	  {"peerId":"p1","displayName":"Ann","producers":[{"mediaType":"video","producerId":"v1","paused":true}]},
	  {"peerId":"p2","displayName":"Bo","producers":[]}
	]}}`)))

	health := monitoring.NewHealthChecker()
	health.AddConditionCheck("session", func() bool { return f.ready })

	logger := zap.NewNop().Sugar()
	f.router = gin.New()
	f.router.Use(middleware.RequestIDMiddleware(), middleware.ErrorHandlerMiddleware(logger))
	NewSessionHandler(f.dir, f.quality, health, reg).
		SetupRoutes(f.router, middleware.AuthMiddleware(f.auth, services.ScopeInspect))
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := f.auth.GenerateToken("test", services.ScopeInspect)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	f.router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_ListPeers(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/v1/peers")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Peers []domain.PeerSnapshot `json:"peers"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, domain.PeerID("p1"), body.Peers[0].ID)
	assert.False(t, body.Peers[0].Flags.VideoEnabled)
}

func TestSessionHandler_GetPeer(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/api/v1/peers/p2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Bo"`)

	w = f.get(t, "/api/v1/peers/ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestSessionHandler_GetProducer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dir.BindConsumer(context.Background(), "p1", domain.MediaVideo, stubConsumer{}))

	w := f.get(t, "/api/v1/peers/p1/producers/video")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"peer_id":"p1","kind":"video","producer_id":"v1","resumed":false,"consumer_id":"consumer-9"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/peers/p1/producers/audio").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/peers/p1/producers/smell").Code)
}

func TestSessionHandler_Quality(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/quality").Code)

	f.quality.Observe([]domain.TransportStats{{TransportID: "s", Direction: domain.DirectionSend, PacketLossRatio: 0.1}}, "s", "r")
	w := f.get(t, "/api/v1/quality")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"grade":"bad"`)
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := f.auth.GenerateToken("test", services.ScopeInspect)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	f.router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_GradeStats(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/api/v1/quality/grade?send=s&recv=r", `{"status":"ok","data":{"stats":[
	  {"transport":"s","stats":[{"rtpPacketLossSent":0.10}]},
	  {"transport":"r","stats":[{"rtpPacketLossReceived":0.02}]}
	]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"grade":"bad"`)
	assert.Contains(t, w.Body.String(), `"local_packet_percent_loss":10`)
	assert.Contains(t, w.Body.String(), `"remote_packet_percent_loss":2`)

	_, polled := f.quality.LatestSample()
	assert.False(t, polled)

	assert.Equal(t, http.StatusServiceUnavailable, f.post(t, "/api/v1/quality/grade", `{"status":"error"}`).Code)
	w = f.post(t, "/api/v1/quality/grade", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "DECODE_ERROR")
}

func TestSessionHandler_RequiresToken(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/peers", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandler_Probes(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/ready").Code)
	f.ready = true
	assert.Equal(t, http.StatusOK, f.get(t, "/ready").Code)

	w := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "meetcore_session_peers 2")
}
