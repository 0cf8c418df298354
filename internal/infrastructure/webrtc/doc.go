// Package webrtc adapts a pion PeerConnection owned by the embedding program to the
// session core. meetcore run does not negotiate media itself, so nothing in the
// command uses this package; a program that does wires it like this:
//
//	tracker := webrtc.NewLossTracker(sendID, recvID, log)
//	poller := services.NewStatsPoller(tracker, quality, notifier, cfg, log)
//	webrtc.WatchConnectionState(pc, poller, log)
//	pc.OnTrack(func(track *pionwebrtc.TrackRemote, recv *pionwebrtc.RTPReceiver) {
//		go tracker.ReadTrack(track)
//		kind := webrtc.MediaKindOf(track, screenStreamID)
//		_ = directory.BindConsumer(ctx, peerID, kind, webrtc.NewReceiverConsumer(track, recv))
//	})
package webrtc
