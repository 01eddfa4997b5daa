// Engine boundary. The bridge treats the room engine as a black box behind
// these interfaces: it never reaches into engine internals and never adds its
// own locking around engine-owned collections.

package roombridge

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when an optional operation is not supported.
var ErrNotSupported = errors.New("operation not supported")

// TrackKind identifies the media kind of a track.
type TrackKind int

const (
	TrackKindUnknown TrackKind = iota
	TrackKindAudio
	TrackKindVideo
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindAudio:
		return "audio"
	case TrackKindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// SessionEventKind discriminates SessionEvent variants.
type SessionEventKind int

const (
	// EventDisconnected reports a transition into the disconnected state,
	// whether caller- or network-initiated. Emitted once per transition.
	EventDisconnected SessionEventKind = iota

	// EventTrackSubscribed reports a newly subscribed remote track.
	EventTrackSubscribed

	// EventTrackUnsubscribed reports that a remote track went away. The
	// track is no longer safe to reference; only its identity strings are
	// carried.
	EventTrackUnsubscribed
)

// SessionEvent is the tagged-variant event the engine pushes through
// Session.Events. Field population depends on Kind.
type SessionEvent struct {
	Kind        SessionEventKind
	PublisherID string      // subscribe/unsubscribe: participant identity
	TrackID     string      // subscribe/unsubscribe: track session id
	TrackKind   TrackKind   // subscribe/unsubscribe: media kind
	Track       RemoteTrack // subscribe only; engine retains ownership
}

// FrameSink receives the push stream of decoded video frames for one track.
type FrameSink interface {
	// OnFrame delivers one frame synchronously on the engine's media
	// delivery goroutine. The frame is borrowed for the duration of the
	// call. The return value is the continuation signal: false requests
	// detachment from the track.
	OnFrame(frame *VideoFrame) bool

	// OnClose signals that the sink has been removed from its track, either
	// by request or because the track was torn down. Called exactly once,
	// after which no further OnFrame calls occur.
	OnClose()
}

// RemoteTrack is an engine-owned remote media track.
type RemoteTrack interface {
	// SID returns the track's stable session id.
	SID() string

	// PublisherID returns the owning participant's stable identity.
	PublisherID() string

	// Kind returns the track's media kind.
	Kind() TrackKind

	// AddSink registers a frame sink with the track.
	AddSink(s FrameSink)

	// RemoveSink unregisters a sink. Must be invoked on the session's main
	// loop (via Session.Schedule) so the engine never mutates its sink list
	// while iterating it. The sink's OnClose fires once removal completes.
	RemoveSink(s FrameSink)
}

// Publication is the engine's record of a local track being sent in a room.
type Publication interface {
	// SID returns the publication's session id.
	SID() string
}

// Session is one engine-side room session. Connect/Publish block until the
// underlying asynchronous engine operation resolves; the bridge layers the
// exactly-one-callback contract on top.
type Session interface {
	// Connect joins the room at url with the given access token.
	Connect(ctx context.Context, url, token string) error

	// Disconnect requests teardown. It returns immediately; the transition
	// is reported asynchronously through an EventDisconnected.
	Disconnect()

	// PublishVideoTrack starts sending the local track. The track is
	// borrowed for the call; the caller keeps ownership.
	PublishVideoTrack(ctx context.Context, track *LocalVideoTrack) (Publication, error)

	// Unpublish stops sending a published track. Best-effort.
	Unpublish(pub Publication) error

	// RemoteVideoTracks returns the subscribed video tracks of the first
	// participant matching the identity, or nil when no participant
	// matches. The returned tracks are engine-owned (borrowed).
	RemoteVideoTracks(participantID string) []RemoteTrack

	// Events returns the session's event stream. The channel closes when
	// the session is closed.
	Events() <-chan SessionEvent

	// Schedule posts fn onto the engine's serialized main loop. Sink-list
	// mutation is only legal from there.
	Schedule(fn func())

	// Close tears the session down, disconnecting first if needed.
	Close() error
}

// Engine creates sessions and capture tracks. Implementations run their own
// internal concurrency; all methods are safe for concurrent use.
type Engine interface {
	// NewSession creates a disconnected session.
	NewSession() (Session, error)

	// DisplaySources enumerates the displays available for screen capture.
	DisplaySources(ctx context.Context) ([]*Display, error)

	// NewScreenShareTrack wraps a display source into a local video track.
	// Synchronous; capture starts when the track is published.
	NewScreenShareTrack(display *Display) (*LocalVideoTrack, error)
}
