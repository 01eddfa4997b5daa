package roombridge

import (
	"context"

	"github.com/google/uuid"
)

// LocalVideoTrack is a caller-created video track backed by a VideoSource.
// Handing the track to Room.PublishVideoTrack does not transfer ownership;
// the caller releases it independently of any publication.
type LocalVideoTrack struct {
	id     string
	label  string
	codec  VideoCodec
	source VideoSource
}

// NewLocalVideoTrack creates a local track producing frames from source.
// codec is the preferred wire codec; VideoCodecUnknown lets the engine pick.
func NewLocalVideoTrack(label string, source VideoSource, codec VideoCodec) *LocalVideoTrack {
	return &LocalVideoTrack{
		id:     uuid.NewString(),
		label:  label,
		codec:  codec,
		source: source,
	}
}

// ID returns the track's unique identifier.
func (t *LocalVideoTrack) ID() string { return t.id }

// Label returns a human-readable label for the track source.
func (t *LocalVideoTrack) Label() string { return t.label }

// Codec returns the preferred wire codec.
func (t *LocalVideoTrack) Codec() VideoCodec { return t.codec }

// Source returns the frame source backing this track.
func (t *LocalVideoTrack) Source() VideoSource { return t.source }

// Close stops the underlying source.
func (t *LocalVideoTrack) Close() error {
	if t.source == nil {
		return nil
	}
	return t.source.Close()
}

// LocalTrackPublication records a local track being sent in a room. Obtained
// from Room.PublishVideoTrack; its association with the room ends with
// Room.UnpublishTrack, which does not release the publication itself.
type LocalTrackPublication struct {
	pub  Publication
	room *Room
}

// SID returns the publication's session id.
func (p *LocalTrackPublication) SID() string { return p.pub.SID() }

// RemoteVideoTrack is a video track published by a remote participant,
// discovered through subscription events or participant lookup. The
// underlying engine track is borrowed: it stays valid until the matching
// unsubscribe, and callers wanting to outlive that must retain the track
// through the bridge handle table.
type RemoteVideoTrack struct {
	track       RemoteTrack
	session     Session
	sid         string
	publisherID string
}

func newRemoteVideoTrack(track RemoteTrack, session Session) *RemoteVideoTrack {
	return &RemoteVideoTrack{
		track:       track,
		session:     session,
		sid:         track.SID(),
		publisherID: track.PublisherID(),
	}
}

// SID returns the track's stable session id.
func (t *RemoteVideoTrack) SID() string { return t.sid }

// PublisherID returns the publishing participant's stable identity.
func (t *RemoteVideoTrack) PublisherID() string { return t.publisherID }

// AddRenderer attaches r to this track. Ownership of the renderer transfers
// to the track: the renderer's drop callback fires when it detaches, whether
// by returning false from its frame callback or because the track is torn
// down. A renderer attaches to at most one track; attaching one that is
// already attached returns ErrRendererAttached.
func (t *RemoteVideoTrack) AddRenderer(r *VideoRenderer) error {
	if err := r.attach(t.track, t.session.Schedule); err != nil {
		return err
	}
	t.track.AddSink(r)
	return nil
}

// Frames attaches an internal renderer and returns a channel of decoded
// frames. Frames the receiver is not keeping up with are skipped. The
// renderer detaches and the channel closes when ctx is cancelled or the
// track is torn down.
func (t *RemoteVideoTrack) Frames(ctx context.Context, buffer int) (<-chan *VideoFrame, error) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *VideoFrame, buffer)
	r := NewVideoRenderer(
		func(frame *VideoFrame) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case ch <- frame.Clone():
			default:
				// Receiver is not keeping up; skip the frame.
			}
			return true
		},
		func() {
			close(ch)
		},
	)
	if err := t.AddRenderer(r); err != nil {
		return nil, err
	}
	return ch, nil
}
