package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConsumer struct {
	id       ConsumerID
	releases int
	err      error
}

func (s *stubConsumer) ID() ConsumerID { return s.id }

func (s *stubConsumer) Release() error {
	s.releases++
	return s.err
}

func TestPeer_MergeProducers_LastPerKindWins(t *testing.T) {
	p := NewPeer("alice", "Alice")
	err := p.MergeProducers([]ProducerPayload{
		{MediaType: "video", ProducerID: "v1", Paused: false},
		{MediaType: "audio", ProducerID: "a1", Paused: true},
		{MediaType: "video", ProducerID: "v2", Paused: true},
	})
	require.NoError(t, err)

	pr, ok := p.Producer(MediaVideo)
	require.True(t, ok)
	assert.Equal(t, ProducerID("v2"), pr.ID)
	assert.Len(t, p.Producers(), 2)
	// replaced in place, so video stays first
	assert.Equal(t, MediaVideo, p.Producers()[0].Kind)
	assert.Equal(t, PeerFlags{}, p.Flags())
}

func TestPeer_MergeProducers_SkipsMalformed(t *testing.T) {
	p := NewPeer("bob", "Bob")
	err := p.MergeProducers([]ProducerPayload{
		{MediaType: "hologram", ProducerID: "x1"},
		{MediaType: "audio", ProducerID: "a1"},
		{MediaType: "", ProducerID: "x2", Share: true},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedProducer))
	assert.Contains(t, err.Error(), "x1")
	assert.Contains(t, err.Error(), "x2")
	assert.Equal(t, PeerFlags{AudioEnabled: true}, p.Flags())
	assert.Len(t, p.Producers(), 1)
}

func TestPeer_FlagsFollowPauseState(t *testing.T) {
	p := NewPeer("carol", "Carol")
	p.SetProducer(Producer{Kind: MediaScreenShare, ID: "s1", Shared: true})
	assert.True(t, p.Flags().ScreenShareEnabled)
	assert.False(t, p.Flags().VideoEnabled)

	changed := p.SetProducer(Producer{Kind: MediaScreenShare, ID: "s1", Shared: true, Paused: true})
	assert.True(t, changed)
	assert.False(t, p.Flags().ScreenShareEnabled)

	assert.False(t, p.SetProducer(Producer{Kind: MediaScreenShare, ID: "s1", Shared: true, Paused: true}))
}

func TestPeer_CloseProducer(t *testing.T) {
	p := NewPeer("dave", "Dave")
	p.SetProducer(Producer{Kind: MediaAudio, ID: "a1"})
	p.SetProducer(Producer{Kind: MediaVideo, ID: "v1"})

	kind, ok := p.CloseProducer("a1")
	assert.True(t, ok)
	assert.Equal(t, MediaAudio, kind)
	assert.False(t, p.IsResumed(MediaAudio))
	assert.True(t, p.IsResumed(MediaVideo))

	_, ok = p.CloseProducer("a1")
	assert.False(t, ok)
}

func TestPeer_BindConsumer_ReturnsDisplaced(t *testing.T) {
	p := NewPeer("erin", "Erin")
	first := &stubConsumer{id: "c1"}
	second := &stubConsumer{id: "c2"}

	prev, err := p.BindConsumer(MediaVideo, first)
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = p.BindConsumer(MediaVideo, first)
	require.NoError(t, err)
	assert.Nil(t, prev, "rebinding the same handle displaces nothing")

	prev, err = p.BindConsumer(MediaVideo, second)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, ConsumerID("c1"), prev.ID())
	assert.Equal(t, 0, first.releases, "the peer never releases handles itself")

	h, ok := p.Consumer(MediaVideo)
	require.True(t, ok)
	assert.Equal(t, ConsumerID("c2"), h.ID())
}

func TestPeer_BindConsumer_UnknownKind(t *testing.T) {
	p := NewPeer("erin", "Erin")
	_, err := p.BindConsumer(MediaKind("data"), &stubConsumer{id: "c1"})
	assert.Error(t, err)
}

func TestPeer_DetachConsumers(t *testing.T) {
	p := NewPeer("frank", "Frank")
	audio := &stubConsumer{id: "ca"}
	share := &stubConsumer{id: "cs"}
	_, err := p.BindConsumer(MediaScreenShareAudio, share)
	require.NoError(t, err)
	_, err = p.BindConsumer(MediaAudio, audio)
	require.NoError(t, err)

	detached := p.DetachConsumers()
	require.Len(t, detached, 2)
	assert.Equal(t, MediaAudio, detached[0].Kind)
	assert.Equal(t, MediaScreenShareAudio, detached[1].Kind)
	assert.Equal(t, 0, audio.releases)

	_, ok := p.Consumer(MediaAudio)
	assert.False(t, ok)
	assert.Nil(t, p.DetachConsumer(MediaAudio))
	assert.Nil(t, p.DetachConsumer(MediaKind("data")))
}

func TestReleaseConsumers_JoinsFailures(t *testing.T) {
	ok := &stubConsumer{id: "c1"}
	broken := &stubConsumer{id: "c2", err: errors.New("engine gone")}

	err := ReleaseConsumers(ok, nil, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c2")
	assert.Equal(t, 1, ok.releases)
	assert.Equal(t, 1, broken.releases)

	assert.NoError(t, ReleaseConsumers())
}

func TestPeer_Snapshot(t *testing.T) {
	p := NewPeer("gina", "Gina")
	p.SetProducer(Producer{Kind: MediaVideo, ID: "v1"})
	_, err := p.BindConsumer(MediaVideo, &stubConsumer{id: "cv"})
	require.NoError(t, err)

	snap := p.Snapshot()
	assert.Equal(t, PeerID("gina"), snap.ID)
	assert.Equal(t, map[MediaKind]ConsumerID{MediaVideo: "cv"}, snap.Consumers)
	assert.True(t, snap.Flags.VideoEnabled)

	// mutating the snapshot does not reach the peer
	snap.Producers[0].Paused = true
	assert.True(t, p.IsResumed(MediaVideo))
}
