package roombridge

import (
	"errors"
	"sync"
)

// ErrRendererAttached is returned when attaching a renderer that is already
// attached to a track.
var ErrRendererAttached = errors.New("renderer already attached to a track")

// VideoRenderer adapts the engine's push stream of decoded frames into a
// pair of caller callbacks. Lifecycle:
//
//	unattached -> attach -> attached -> detach or track teardown -> dropped
//
// onFrame runs synchronously on the engine's media delivery goroutine; its
// boolean return is the only backpressure signal, with false requesting
// detachment. The detach itself is posted to the engine's main loop, never
// performed inline from the delivery call, so the engine's sink list is not
// mutated while it is being iterated. onDrop fires exactly once when the
// renderer is done, even if no frame was ever delivered.
type VideoRenderer struct {
	onFrame func(*VideoFrame) bool
	onDrop  func()

	mu sync.Mutex
	// track is a non-owning back-reference used only to detach; it never
	// extends the track's lifetime.
	track     RemoteTrack
	schedule  func(func())
	detaching bool
	closed    bool

	dropOnce sync.Once
}

// NewVideoRenderer creates an unattached renderer. Either callback may be
// nil: a nil onFrame keeps delivery running, a nil onDrop drops silently.
func NewVideoRenderer(onFrame func(*VideoFrame) bool, onDrop func()) *VideoRenderer {
	return &VideoRenderer{onFrame: onFrame, onDrop: onDrop}
}

func (r *VideoRenderer) attach(track RemoteTrack, schedule func(func())) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.track != nil {
		return ErrRendererAttached
	}
	r.track = track
	r.schedule = schedule
	return nil
}

// OnFrame implements FrameSink. Once the renderer has requested detachment
// no further frames reach the caller, even if the engine delivers more
// before the scheduled detach runs.
func (r *VideoRenderer) OnFrame(frame *VideoFrame) bool {
	r.mu.Lock()
	if r.closed || r.detaching {
		r.mu.Unlock()
		return false
	}
	cb := r.onFrame
	r.mu.Unlock()

	if cb == nil || cb(frame) {
		return true
	}
	r.requestDetach()
	return false
}

// OnClose implements FrameSink. The engine invokes it exactly once when the
// sink leaves the track, whether by request or track teardown.
func (r *VideoRenderer) OnClose() {
	r.mu.Lock()
	r.closed = true
	r.track = nil
	r.schedule = nil
	r.mu.Unlock()
	r.drop()
}

// Close releases the renderer. Unattached renderers drop immediately;
// attached ones detach through the engine main loop first.
func (r *VideoRenderer) Close() error {
	r.mu.Lock()
	attached := r.track != nil && !r.closed
	if !attached {
		r.closed = true
	}
	r.mu.Unlock()

	if attached {
		r.requestDetach()
	} else {
		r.drop()
	}
	return nil
}

func (r *VideoRenderer) requestDetach() {
	r.mu.Lock()
	if r.closed || r.detaching {
		r.mu.Unlock()
		return
	}
	r.detaching = true
	track := r.track
	schedule := r.schedule
	r.mu.Unlock()

	if track == nil || schedule == nil {
		r.OnClose()
		return
	}
	schedule(func() {
		track.RemoveSink(r)
	})
}

func (r *VideoRenderer) drop() {
	r.dropOnce.Do(func() {
		if r.onDrop != nil {
			r.onDrop()
		}
	})
}
