package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"meetcore/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatsSource struct {
	mock.Mock
	calls atomic.Int32
}

func (m *MockStatsSource) FetchTransportStats(ctx context.Context) ([]domain.TransportStats, error) {
	m.calls.Add(1)
	args := m.Called(ctx)
	reports, _ := args.Get(0).([]domain.TransportStats)
	return reports, args.Error(1)
}

func newTestPoller(source *MockStatsSource, interval time.Duration) (*StatsPoller, *QualityService, *ChannelSubscriber) {
	sub := NewChannelSubscriber(256)
	notifier := NewNotifier(nil)
	notifier.Subscribe(sub)
	quality := NewQualityService(DefaultQualityThresholds())
	poller := NewStatsPoller(source, quality, notifier, StatsPollerConfig{
		Interval:        interval,
		SendTransportID: "send-1",
		RecvTransportID: "recv-1",
	}, nil)
	return poller, quality, sub
}

func TestNewStatsPoller_Defaults(t *testing.T) {
	p := NewStatsPoller(&MockStatsSource{}, NewQualityService(DefaultQualityThresholds()), nil, StatsPollerConfig{FetchTimeout: time.Minute}, nil)
	assert.Equal(t, 3*time.Second, p.cfg.Interval)
	assert.Equal(t, 3*time.Second, p.cfg.FetchTimeout)
	assert.False(t, p.Running())
}

func TestStatsPoller_PollOnce(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return([]domain.TransportStats{
		{TransportID: "send-1", Direction: domain.DirectionSend, PacketLossRatio: 0.10},
		{TransportID: "recv-1", Direction: domain.DirectionRecv, PacketLossRatio: 0.02},
	}, nil)
	poller, quality, sub := newTestPoller(source, time.Hour)

	sample, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QualityBad, sample.Grade)

	latest, ok := quality.LatestSample()
	require.True(t, ok)
	assert.Equal(t, sample, latest)

	event := <-sub.Events()
	assert.Equal(t, domain.EventQualitySampled, event.Type)
	require.NotNil(t, event.Quality)
	assert.Equal(t, 10, event.Quality.LocalPacketPercentLoss)
	assert.Equal(t, 2, event.Quality.RemotePacketPercentLoss)
}

func TestStatsPoller_PollOnce_UnavailablePublishesNothing(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return(nil, fmt.Errorf("%w: status %q", domain.ErrStatsUnavailable, "error"))
	poller, quality, sub := newTestPoller(source, time.Hour)

	_, err := poller.PollOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrStatsUnavailable)

	_, ok := quality.LatestSample()
	assert.False(t, ok)
	assert.Len(t, sub.Events(), 0)
}

func TestStatsPoller_SetTransports(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return([]domain.TransportStats{
		{TransportID: "send-2", Direction: domain.DirectionSend, PacketLossRatio: 0.5},
	}, nil)
	poller, _, _ := newTestPoller(source, time.Hour)

	sample, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QualityGood, sample.Grade)

	poller.SetTransports("send-2", "recv-2")
	sample, err = poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QualityVeryBad, sample.Grade)
}

func TestStatsPoller_RunsOnlyWhileConnected(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return([]domain.TransportStats{}, nil)
	poller, _, sub := newTestPoller(source, 10*time.Millisecond)
	defer poller.Stop()

	poller.OnConnectionStateChange(domain.ConnectionConnecting)
	assert.False(t, poller.Running())

	poller.OnConnectionStateChange(domain.ConnectionConnected)
	assert.True(t, poller.Running())

	assert.Eventually(t, func() bool {
		return source.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	poller.OnConnectionStateChange(domain.ConnectionDisconnected)
	assert.False(t, poller.Running())

	// a tick already in flight may still finish once
	time.Sleep(30 * time.Millisecond)
	settled := source.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, source.calls.Load())
	assert.NotZero(t, len(sub.Events()))
}

func TestStatsPoller_KeepsPollingAfterErrors(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return(nil, fmt.Errorf("connection refused"))
	poller, _, sub := newTestPoller(source, 10*time.Millisecond)
	defer poller.Stop()

	poller.OnConnectionStateChange(domain.ConnectionConnected)
	assert.Eventually(t, func() bool {
		return source.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, poller.Running())
	assert.Len(t, sub.Events(), 0)
}

func TestStatsPoller_RepeatedConnectedIsIgnored(t *testing.T) {
	source := &MockStatsSource{}
	source.On("FetchTransportStats", mock.Anything).Return([]domain.TransportStats{}, nil)
	poller, _, _ := newTestPoller(source, time.Hour)
	defer poller.Stop()

	poller.OnConnectionStateChange(domain.ConnectionConnected)
	gen := poller.generation
	poller.OnConnectionStateChange(domain.ConnectionConnected)
	assert.Equal(t, gen, poller.generation)
}

func TestStatsPoller_StopIsFinal(t *testing.T) {
	source := &MockStatsSource{}
	poller, _, _ := newTestPoller(source, 10*time.Millisecond)

	poller.Stop()
	poller.OnConnectionStateChange(domain.ConnectionConnected)
	assert.False(t, poller.Running())

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, source.calls.Load())
}
