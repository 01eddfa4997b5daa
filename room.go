package roombridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// Room operation errors.
var (
	// ErrNotConnected is returned when an operation needs a connected room,
	// e.g. publishing before Connect has succeeded.
	ErrNotConnected = errors.New("room is not connected")

	// ErrDisconnected resolves operations that were still pending when the
	// room disconnected or was closed. Whether the engine would have
	// completed them is unknowable; the bridge guarantees only that their
	// callbacks fire.
	ErrDisconnected = errors.New("room disconnected")

	// ErrRoomClosed is returned by operations on a closed room.
	ErrRoomClosed = errors.New("room is closed")
)

// ConnectionState reports whether the room currently holds a session.
type ConnectionState int

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Room is the bridge's entry point to one engine session: connect and
// disconnect, publish and unpublish local video tracks, look up remote
// participants' video tracks. Lifecycle and subscription events reach the
// bound RoomObserver.
//
// Every blocking method resolves exactly once: on disconnect or Close,
// still-pending Connect and Publish calls return ErrDisconnected rather than
// hanging. A Room whose Connect failed stays usable for a retry.
type Room struct {
	engine   Engine
	session  Session
	observer *RoomObserver // borrowed; lifetime is caller-managed
	log      logging.LeveledLogger

	mu     sync.Mutex
	state  ConnectionState
	closed bool
	pubs   map[*LocalTrackPublication]struct{}
	// epoch is cancelled on every disconnect so in-flight operations
	// resolve; a new epoch begins for the next connect attempt.
	epoch       context.Context
	cancelEpoch context.CancelFunc

	pumpDone chan struct{}
}

// NewRoom creates a disconnected room bound to observer. The observer is
// borrowed for the room's lifetime; passing nil disables event dispatch.
func NewRoom(engine Engine, observer *RoomObserver) (*Room, error) {
	session, err := engine.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	r := &Room{
		engine:   engine,
		session:  session,
		observer: observer,
		log:      logging.NewDefaultLoggerFactory().NewLogger("room"),
		pubs:     make(map[*LocalTrackPublication]struct{}),
		pumpDone: make(chan struct{}),
	}
	r.epoch, r.cancelEpoch = context.WithCancel(context.Background())
	go r.pump()
	return r, nil
}

// State returns the current connection state.
func (r *Room) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect joins the room at url with the given access token. On failure the
// engine's error is surfaced verbatim and the room remains usable for a
// retry.
func (r *Room) Connect(ctx context.Context, url, token string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	opCtx, done := r.opContextLocked(ctx)
	r.mu.Unlock()
	defer done()

	if err := r.session.Connect(opCtx, url, token); err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return ErrDisconnected
		}
		return fmt.Errorf("error connecting to room: %w", err)
	}

	r.mu.Lock()
	r.state = ConnectionStateConnected
	r.mu.Unlock()
	return nil
}

// Disconnect requests teardown of the current session. It returns
// immediately; the observer's OnDisconnect fires once the transition
// completes. Pending Connect/Publish operations resolve with
// ErrDisconnected.
func (r *Room) Disconnect() {
	r.mu.Lock()
	r.rotateEpochLocked()
	r.mu.Unlock()
	r.session.Disconnect()
}

// PublishVideoTrack starts sending track in the room. The track is borrowed
// for the call; the caller keeps ownership regardless of the outcome.
// Publishing before the room is connected fails with ErrNotConnected.
func (r *Room) PublishVideoTrack(ctx context.Context, track *LocalVideoTrack) (*LocalTrackPublication, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if r.state != ConnectionStateConnected {
		r.mu.Unlock()
		return nil, fmt.Errorf("error publishing video track: %w", ErrNotConnected)
	}
	opCtx, done := r.opContextLocked(ctx)
	r.mu.Unlock()
	defer done()

	pub, err := r.session.PublishVideoTrack(opCtx, track)
	if err != nil {
		if opCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrDisconnected
		}
		return nil, fmt.Errorf("error publishing video track: %w", err)
	}

	local := &LocalTrackPublication{pub: pub, room: r}
	r.mu.Lock()
	r.pubs[local] = struct{}{}
	r.mu.Unlock()
	return local, nil
}

// UnpublishTrack stops sending a published track. Synchronous, best-effort:
// it ends the publication's association with the room but does not release
// the publication value itself.
func (r *Room) UnpublishTrack(p *LocalTrackPublication) {
	if p == nil {
		return
	}
	r.mu.Lock()
	_, mine := r.pubs[p]
	delete(r.pubs, p)
	r.mu.Unlock()
	if !mine {
		return
	}
	if err := r.session.Unpublish(p.pub); err != nil {
		r.log.Warnf("unpublish %s: %v", p.SID(), err)
	}
}

// Publications returns the currently outstanding local publications.
func (r *Room) Publications() []*LocalTrackPublication {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LocalTrackPublication, 0, len(r.pubs))
	for p := range r.pubs {
		out = append(out, p)
	}
	return out
}

// VideoTracksForParticipant returns the subscribed video tracks of the first
// participant whose identity matches participantID, or an empty slice when
// no participant matches. Tracks of any other kind never qualify. The
// returned tracks are borrowed.
func (r *Room) VideoTracksForParticipant(participantID string) []*RemoteVideoTrack {
	tracks := r.session.RemoteVideoTracks(participantID)
	out := make([]*RemoteVideoTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.Kind() != TrackKindVideo {
			continue
		}
		out = append(out, newRemoteVideoTrack(t, r.session))
	}
	return out
}

// Close tears the room down, disconnecting first if still connected. The
// bound observer sees a final OnDisconnect if a session was active.
func (r *Room) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.rotateEpochLocked()
	r.mu.Unlock()

	err := r.session.Close()
	<-r.pumpDone
	return err
}

// opContextLocked derives a context for one pending operation that is
// cancelled either by the caller's ctx or by the current epoch ending.
// Callers hold r.mu.
func (r *Room) opContextLocked(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(r.epoch, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

// rotateEpochLocked resolves all pending operations and starts a fresh epoch
// so the room can be reused. Callers hold r.mu.
func (r *Room) rotateEpochLocked() {
	r.cancelEpoch()
	r.epoch, r.cancelEpoch = context.WithCancel(context.Background())
}

// pump translates engine session events into observer callbacks, filtering
// out audio-kind subscriptions.
func (r *Room) pump() {
	defer close(r.pumpDone)
	for ev := range r.session.Events() {
		switch ev.Kind {
		case EventDisconnected:
			r.mu.Lock()
			wasConnected := r.state == ConnectionStateConnected
			r.state = ConnectionStateDisconnected
			if wasConnected {
				r.rotateEpochLocked()
			}
			r.mu.Unlock()
			if !wasConnected {
				// Not a transition; the engine reported disconnect for a
				// room that never reached connected.
				continue
			}
			if r.observer != nil && r.observer.OnDisconnect != nil {
				r.observer.OnDisconnect()
			}

		case EventTrackSubscribed:
			if ev.TrackKind != TrackKindVideo || ev.Track == nil {
				continue
			}
			if r.observer != nil && r.observer.OnSubscribe != nil {
				r.observer.OnSubscribe(newRemoteVideoTrack(ev.Track, r.session))
			}

		case EventTrackUnsubscribed:
			if ev.TrackKind != TrackKindVideo {
				continue
			}
			if r.observer != nil && r.observer.OnUnsubscribe != nil {
				r.observer.OnUnsubscribe(ev.PublisherID, ev.TrackID)
			}
		}
	}
}
