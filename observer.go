package roombridge

// RoomObserver receives a room's lifecycle and subscription events. It is
// bound to exactly one Room at creation time; the Room borrows it and never
// manages its lifetime.
//
// Only video tracks are reported. Audio-kind subscriptions are filtered out
// entirely before dispatch; this is a deliberate narrowing of the bridge, not
// an oversight.
//
// Callbacks are invoked synchronously from the room's event pump, one at a
// time, possibly on a different goroutine than any Room call. Any callback
// may be nil.
type RoomObserver struct {
	// OnDisconnect fires exactly once per transition into the disconnected
	// state, whether the transition was caller- or network-initiated.
	OnDisconnect func()

	// OnSubscribe fires when a remote video track becomes subscribed. The
	// track is borrowed: it remains valid until the matching OnUnsubscribe,
	// and a caller wanting to keep it alive past that must retain it
	// explicitly.
	OnSubscribe func(track *RemoteVideoTrack)

	// OnUnsubscribe fires when a remote video track goes away. Only the
	// identity strings are carried; the track itself is no longer safe to
	// reference.
	OnUnsubscribe func(publisherID, trackID string)
}
