// C ABI exports. Every function here resolves opaque handles against the
// process-wide handle table, translates between C and Go memory at the
// boundary, and never lets a C caller hold a Go pointer.

package main

/*
#include <stdlib.h>
#include "liblkbridge.h"
*/
import "C"

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"github.com/pion/logging"
	"github.com/thesyncim/roombridge"
)

var (
	handles = roombridge.NewHandleTable()
	logger  = logging.NewDefaultLoggerFactory().NewLogger("lkbridge")

	engineOnce sync.Once
	engine     roombridge.Engine
)

func bridgeEngine() roombridge.Engine {
	engineOnce.Do(func() {
		engine = roombridge.NewPionEngine(roombridge.PionEngineConfig{})
	})
	return engine
}

// delegate holds the C-side room event callbacks. Callback data is an
// opaque C pointer owned by the caller.
type delegate struct {
	data          unsafe.Pointer
	onDisconnect  C.LKDisconnectFn
	onSubscribe   C.LKSubscribeFn
	onUnsubscribe C.LKUnsubscribeFn
}

// roomBox pairs a room with its C-side bookkeeping: the retained delegate
// and the remote-track handles the room owns on the caller's behalf.
type roomBox struct {
	room           *roombridge.Room
	delegateHandle roombridge.Handle

	mu     sync.Mutex
	tracks map[string]roombridge.Handle // sid -> table-owned handle
}

// trackHandle returns the room-owned handle for t, creating it on first
// sight. The handle stays valid until the track unsubscribes or the room
// is released; callers extend it with LKRetain.
func (b *roomBox) trackHandle(t *roombridge.RemoteVideoTrack) roombridge.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tracks == nil {
		return 0
	}
	if h, ok := b.tracks[t.SID()]; ok {
		return h
	}
	h, err := handles.Register(roombridge.KindRemoteTrack, t, nil)
	if err != nil {
		logger.Errorf("register remote track %s: %v", t.SID(), err)
		return 0
	}
	b.tracks[t.SID()] = h
	return h
}

func (b *roomBox) dropTrackHandle(sid string) {
	b.mu.Lock()
	h := b.tracks[sid]
	delete(b.tracks, sid)
	b.mu.Unlock()
	if h != 0 {
		if err := handles.Release(h); err != nil {
			logger.Warnf("release track handle %s: %v", sid, err)
		}
	}
}

// destroy runs when the room's reference count hits zero.
func (b *roomBox) destroy() {
	b.room.Close()
	b.mu.Lock()
	tracks := b.tracks
	b.tracks = nil
	b.mu.Unlock()
	for _, h := range tracks {
		handles.Release(h)
	}
	handles.Release(b.delegateHandle)
}

// rendererBox adapts a pair of C frame callbacks into a VideoRenderer,
// staging I420 planes in a reusable C buffer so the callback never sees
// Go memory.
type rendererBox struct {
	data    unsafe.Pointer
	onFrame C.LKFrameFn
	onDrop  C.LKDropFn

	mu       sync.Mutex
	buf      unsafe.Pointer
	bufCap   int
	attached bool

	renderer *roombridge.VideoRenderer
}

// frame stages one I420 frame into C memory and invokes the callback.
// Non-I420 frames are skipped without ending the subscription.
func (b *rendererBox) frame(f *roombridge.VideoFrame) bool {
	if b.onFrame == nil {
		return true
	}
	if f.Format != roombridge.PixelFormatI420 || len(f.Data) < 3 || len(f.Stride) < 3 {
		return true
	}

	ySize, uSize, vSize := len(f.Data[0]), len(f.Data[1]), len(f.Data[2])
	total := ySize + uSize + vSize

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bufCap < total {
		if b.buf != nil {
			C.free(b.buf)
		}
		b.buf = C.malloc(C.size_t(total))
		b.bufCap = total
	}
	dst := unsafe.Slice((*byte)(b.buf), total)
	copy(dst[:ySize], f.Data[0])
	copy(dst[ySize:ySize+uSize], f.Data[1])
	copy(dst[ySize+uSize:], f.Data[2])

	cf := C.LKVideoFrame{
		width:        C.uint32_t(f.Width),
		height:       C.uint32_t(f.Height),
		plane_y:      (*C.uint8_t)(b.buf),
		plane_u:      (*C.uint8_t)(unsafe.Add(b.buf, ySize)),
		plane_v:      (*C.uint8_t)(unsafe.Add(b.buf, ySize+uSize)),
		stride_y:     C.uint32_t(f.Stride[0]),
		stride_u:     C.uint32_t(f.Stride[1]),
		stride_v:     C.uint32_t(f.Stride[2]),
		timestamp_ns: C.int64_t(f.Timestamp),
	}
	return bool(C.lkInvokeFrame(b.onFrame, b.data, &cf))
}

// drop fires the C drop callback and frees the staging buffer. The
// renderer guarantees this runs exactly once.
func (b *rendererBox) drop() {
	if b.onDrop != nil {
		C.lkInvokeDrop(b.onDrop, b.data)
	}
	b.mu.Lock()
	if b.buf != nil {
		C.free(b.buf)
		b.buf = nil
		b.bufCap = 0
	}
	b.mu.Unlock()
}

func (b *rendererBox) setAttached() {
	b.mu.Lock()
	b.attached = true
	b.mu.Unlock()
}

func (b *rendererBox) isAttached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func resolveRoom(h C.LKHandle) (*roomBox, error) {
	v, err := handles.Resolve(roombridge.Handle(h), roombridge.KindRoom)
	if err != nil {
		return nil, err
	}
	return v.(*roomBox), nil
}

// invokeDone fires a completion callback; the error string is borrowed
// for the call.
func invokeDone(fn C.LKDoneFn, data unsafe.Pointer, err error) {
	if fn == nil {
		return
	}
	var cerr *C.char
	if err != nil {
		cerr = C.CString(err.Error())
	}
	C.lkInvokeDone(fn, data, cerr)
	if cerr != nil {
		C.free(unsafe.Pointer(cerr))
	}
}

// invokeResult fires a result callback. A non-zero handle is retained and
// owned by the callee; the error string is borrowed for the call.
func invokeResult(fn C.LKResultFn, data unsafe.Pointer, h roombridge.Handle, err error) {
	if fn == nil {
		if h != 0 {
			// Nobody to hand ownership to.
			handles.Release(h)
		}
		return
	}
	var cerr *C.char
	if err != nil {
		cerr = C.CString(err.Error())
	}
	C.lkInvokeResult(fn, data, C.LKHandle(h), cerr)
	if cerr != nil {
		C.free(unsafe.Pointer(cerr))
	}
}

// LKRoomDelegateCreate creates a delegate bundling the room event
// callbacks. Returns a retained handle, or 0 on failure.
//
//export LKRoomDelegateCreate
func LKRoomDelegateCreate(
	callbackData unsafe.Pointer,
	onDidDisconnect C.LKDisconnectFn,
	onDidSubscribeToRemoteVideoTrack C.LKSubscribeFn,
	onDidUnsubscribeFromRemoteVideoTrack C.LKUnsubscribeFn,
) C.LKHandle {
	d := &delegate{
		data:          callbackData,
		onDisconnect:  onDidDisconnect,
		onSubscribe:   onDidSubscribeToRemoteVideoTrack,
		onUnsubscribe: onDidUnsubscribeFromRemoteVideoTrack,
	}
	h, err := handles.Register(roombridge.KindDelegate, d, nil)
	if err != nil {
		logger.Errorf("LKRoomDelegateCreate: %v", err)
		return 0
	}
	return C.LKHandle(h)
}

// LKRoomCreate creates a disconnected room bound to the delegate. The
// delegate is retained for the room's lifetime. Returns a retained room
// handle, or 0 on failure.
//
//export LKRoomCreate
func LKRoomCreate(delegateHandle C.LKHandle) C.LKHandle {
	dh := roombridge.Handle(delegateHandle)
	v, err := handles.Resolve(dh, roombridge.KindDelegate)
	if err != nil {
		logger.Errorf("LKRoomCreate: %v", err)
		return 0
	}
	d := v.(*delegate)

	box := &roomBox{tracks: make(map[string]roombridge.Handle)}

	observer := &roombridge.RoomObserver{
		OnDisconnect: func() {
			if d.onDisconnect != nil {
				C.lkInvokeDisconnect(d.onDisconnect, d.data)
			}
		},
		OnSubscribe: func(t *roombridge.RemoteVideoTrack) {
			th := box.trackHandle(t)
			if th == 0 || d.onSubscribe == nil {
				return
			}
			cpub := C.CString(t.PublisherID())
			ctrack := C.CString(t.SID())
			C.lkInvokeSubscribe(d.onSubscribe, d.data, cpub, ctrack, C.LKHandle(th))
			C.free(unsafe.Pointer(cpub))
			C.free(unsafe.Pointer(ctrack))
		},
		OnUnsubscribe: func(publisherID, trackID string) {
			box.dropTrackHandle(trackID)
			if d.onUnsubscribe == nil {
				return
			}
			cpub := C.CString(publisherID)
			ctrack := C.CString(trackID)
			C.lkInvokeUnsubscribe(d.onUnsubscribe, d.data, cpub, ctrack)
			C.free(unsafe.Pointer(cpub))
			C.free(unsafe.Pointer(ctrack))
		},
	}

	room, err := roombridge.NewRoom(bridgeEngine(), observer)
	if err != nil {
		logger.Errorf("LKRoomCreate: %v", err)
		return 0
	}
	box.room = room

	if err := handles.Retain(dh); err != nil {
		room.Close()
		logger.Errorf("LKRoomCreate: %v", err)
		return 0
	}
	box.delegateHandle = dh

	h, err := handles.Register(roombridge.KindRoom, box, box.destroy)
	if err != nil {
		handles.Release(dh)
		room.Close()
		logger.Errorf("LKRoomCreate: %v", err)
		return 0
	}
	return C.LKHandle(h)
}

// LKRoomConnect joins the room at url with the given access token. The
// callback fires exactly once, on success or failure, from an arbitrary
// thread.
//
//export LKRoomConnect
func LKRoomConnect(room C.LKHandle, url, token *C.char, callback C.LKDoneFn, callbackData unsafe.Pointer) {
	box, err := resolveRoom(room)
	if err != nil {
		invokeDone(callback, callbackData, err)
		return
	}
	goURL := C.GoString(url)
	goToken := C.GoString(token)
	go func() {
		invokeDone(callback, callbackData, box.room.Connect(context.Background(), goURL, goToken))
	}()
}

// LKRoomDisconnect requests teardown. Returns immediately; the delegate's
// disconnect callback fires once the transition completes.
//
//export LKRoomDisconnect
func LKRoomDisconnect(room C.LKHandle) {
	box, err := resolveRoom(room)
	if err != nil {
		logger.Warnf("LKRoomDisconnect: %v", err)
		return
	}
	box.room.Disconnect()
}

// LKRoomPublishVideoTrack starts sending the local track. The track
// handle is borrowed; the caller keeps ownership. The callback delivers a
// retained publication handle or an error, exactly once.
//
//export LKRoomPublishVideoTrack
func LKRoomPublishVideoTrack(room, track C.LKHandle, callback C.LKResultFn, callbackData unsafe.Pointer) {
	box, err := resolveRoom(room)
	if err != nil {
		invokeResult(callback, callbackData, 0, err)
		return
	}
	v, err := handles.Resolve(roombridge.Handle(track), roombridge.KindLocalTrack)
	if err != nil {
		invokeResult(callback, callbackData, 0, err)
		return
	}
	localTrack := v.(*roombridge.LocalVideoTrack)

	go func() {
		pub, err := box.room.PublishVideoTrack(context.Background(), localTrack)
		if err != nil {
			invokeResult(callback, callbackData, 0, err)
			return
		}
		h, err := handles.Register(roombridge.KindPublication, pub, nil)
		if err != nil {
			box.room.UnpublishTrack(pub)
			invokeResult(callback, callbackData, 0, err)
			return
		}
		invokeResult(callback, callbackData, h, nil)
	}()
}

// LKRoomUnpublishTrack stops sending a published track. Synchronous,
// best-effort. The publication handle is borrowed; releasing it stays the
// caller's responsibility.
//
//export LKRoomUnpublishTrack
func LKRoomUnpublishTrack(room, publication C.LKHandle) {
	box, err := resolveRoom(room)
	if err != nil {
		logger.Warnf("LKRoomUnpublishTrack: %v", err)
		return
	}
	v, err := handles.Resolve(roombridge.Handle(publication), roombridge.KindPublication)
	if err != nil {
		logger.Warnf("LKRoomUnpublishTrack: %v", err)
		return
	}
	box.room.UnpublishTrack(v.(*roombridge.LocalTrackPublication))
}

// LKRoomVideoTracksForRemoteParticipant fills out with the borrowed
// handles of the participant's subscribed video tracks and returns the
// total track count. A NULL out (or zero capacity) performs a pure size
// query. An unknown participant yields zero. The handles stay valid until
// the matching unsubscribe or room release; LKRetain extends them.
//
//export LKRoomVideoTracksForRemoteParticipant
func LKRoomVideoTracksForRemoteParticipant(room C.LKHandle, participantID *C.char, out *C.LKHandle, capacity C.size_t) C.size_t {
	box, err := resolveRoom(room)
	if err != nil {
		logger.Warnf("LKRoomVideoTracksForRemoteParticipant: %v", err)
		return 0
	}
	tracks := box.room.VideoTracksForParticipant(C.GoString(participantID))
	if out == nil || capacity == 0 {
		return C.size_t(len(tracks))
	}
	fill := len(tracks)
	if int(capacity) < fill {
		fill = int(capacity)
	}
	dst := unsafe.Slice(out, fill)
	for i := 0; i < fill; i++ {
		dst[i] = C.LKHandle(box.trackHandle(tracks[i]))
	}
	return C.size_t(len(tracks))
}

// LKCreateScreenShareTrackForDisplay wraps a display into a local video
// track: a pure adapter, no async step. Returns a retained track handle,
// or 0 on failure. Capture starts when the track is published.
//
//export LKCreateScreenShareTrackForDisplay
func LKCreateScreenShareTrackForDisplay(display C.LKHandle) C.LKHandle {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		logger.Warnf("LKCreateScreenShareTrackForDisplay: %v", err)
		return 0
	}

	track, err := bridgeEngine().NewScreenShareTrack(v.(*roombridge.Display))
	if err != nil {
		logger.Errorf("LKCreateScreenShareTrackForDisplay: %v", err)
		return 0
	}
	h, err := handles.Register(roombridge.KindLocalTrack, track, func() {
		track.Close()
	})
	if err != nil {
		track.Close()
		logger.Errorf("LKCreateScreenShareTrackForDisplay: %v", err)
		return 0
	}
	return C.LKHandle(h)
}

// LKVideoRendererCreate creates an unattached renderer from a frame
// callback and a drop callback. Returns a retained handle, or 0 on
// failure. The drop callback fires exactly once, even if the renderer is
// released without ever being attached.
//
//export LKVideoRendererCreate
func LKVideoRendererCreate(data unsafe.Pointer, onFrame C.LKFrameFn, onDrop C.LKDropFn) C.LKHandle {
	box := &rendererBox{data: data, onFrame: onFrame, onDrop: onDrop}
	box.renderer = roombridge.NewVideoRenderer(box.frame, box.drop)

	h, err := handles.Register(roombridge.KindRenderer, box, func() {
		// Attached renderers belong to their track; the track's teardown
		// path fires the drop.
		if !box.isAttached() {
			box.renderer.Close()
		}
	})
	if err != nil {
		logger.Errorf("LKVideoRendererCreate: %v", err)
		box.renderer.Close()
		return 0
	}
	return C.LKHandle(h)
}

// LKVideoTrackAddRenderer attaches the renderer to a remote video track.
// The renderer handle is consumed whatever the outcome; on failure the
// renderer's drop callback still fires.
//
//export LKVideoTrackAddRenderer
func LKVideoTrackAddRenderer(track, renderer C.LKHandle) {
	rh := roombridge.Handle(renderer)
	rv, err := handles.Resolve(rh, roombridge.KindRenderer)
	if err != nil {
		logger.Warnf("LKVideoTrackAddRenderer: %v", err)
		return
	}
	box := rv.(*rendererBox)

	tv, err := handles.Resolve(roombridge.Handle(track), roombridge.KindRemoteTrack)
	if err != nil {
		logger.Warnf("LKVideoTrackAddRenderer: %v", err)
		handles.Release(rh)
		return
	}
	t := tv.(*roombridge.RemoteVideoTrack)

	if err := t.AddRenderer(box.renderer); err != nil {
		logger.Warnf("LKVideoTrackAddRenderer: %v", err)
	} else {
		box.setAttached()
	}
	handles.Release(rh)
}

// LKRemoteVideoTrackGetSid returns the track's session id as a string
// owned by the caller (free with LKStringFree), or NULL if the handle
// does not resolve.
//
//export LKRemoteVideoTrackGetSid
func LKRemoteVideoTrackGetSid(track C.LKHandle) *C.char {
	v, err := handles.Resolve(roombridge.Handle(track), roombridge.KindRemoteTrack)
	if err != nil {
		logger.Warnf("LKRemoteVideoTrackGetSid: %v", err)
		return nil
	}
	return C.CString(v.(*roombridge.RemoteVideoTrack).SID())
}

// LKDisplaySources enumerates the displays available for screen capture.
// The callback fires exactly once with retained display handles or an
// error.
//
//export LKDisplaySources
func LKDisplaySources(callbackData unsafe.Pointer, callback C.LKSourcesFn) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		displays, err := bridgeEngine().DisplaySources(ctx)
		if callback == nil {
			return
		}
		if err != nil {
			cerr := C.CString(err.Error())
			C.lkInvokeSources(callback, callbackData, nil, 0, cerr)
			C.free(unsafe.Pointer(cerr))
			return
		}

		n := len(displays)
		if n == 0 {
			C.lkInvokeSources(callback, callbackData, nil, 0, nil)
			return
		}

		arr := C.malloc(C.size_t(n) * C.size_t(unsafe.Sizeof(C.LKHandle(0))))
		dst := unsafe.Slice((*C.LKHandle)(arr), n)
		filled := 0
		for _, d := range displays {
			h, err := handles.Register(roombridge.KindDisplay, d, nil)
			if err != nil {
				logger.Errorf("register display %s: %v", d.ID, err)
				continue
			}
			dst[filled] = C.LKHandle(h)
			filled++
		}
		C.lkInvokeSources(callback, callbackData, (*C.LKHandle)(arr), C.size_t(filled), nil)
		C.free(arr)
	}()
}

// LKDisplayGetID returns the display's platform identifier. Free with
// LKStringFree.
//
//export LKDisplayGetID
func LKDisplayGetID(display C.LKHandle) *C.char {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		return nil
	}
	return C.CString(v.(*roombridge.Display).ID)
}

// LKDisplayGetName returns the display's human-readable name. Free with
// LKStringFree.
//
//export LKDisplayGetName
func LKDisplayGetName(display C.LKHandle) *C.char {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		return nil
	}
	return C.CString(v.(*roombridge.Display).Name)
}

//export LKDisplayGetWidth
func LKDisplayGetWidth(display C.LKHandle) C.uint32_t {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		return 0
	}
	return C.uint32_t(v.(*roombridge.Display).Width)
}

//export LKDisplayGetHeight
func LKDisplayGetHeight(display C.LKHandle) C.uint32_t {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		return 0
	}
	return C.uint32_t(v.(*roombridge.Display).Height)
}

//export LKDisplayIsPrimary
func LKDisplayIsPrimary(display C.LKHandle) C.bool {
	v, err := handles.Resolve(roombridge.Handle(display), roombridge.KindDisplay)
	if err != nil {
		return C.bool(false)
	}
	return C.bool(v.(*roombridge.Display).Primary)
}

// LKRetain adds one reference to a handle.
//
//export LKRetain
func LKRetain(h C.LKHandle) {
	if err := handles.Retain(roombridge.Handle(h)); err != nil {
		logger.Warnf("LKRetain: %v", err)
	}
}

// LKRelease drops one reference. The object is destroyed when the count
// reaches zero. Releasing a stale handle is reported, never a crash.
//
//export LKRelease
func LKRelease(h C.LKHandle) {
	if err := handles.Release(roombridge.Handle(h)); err != nil {
		logger.Warnf("LKRelease: %v", err)
	}
}

// LKStringFree frees a string returned by an LK* function.
//
//export LKStringFree
func LKStringFree(s *C.char) {
	C.free(unsafe.Pointer(s))
}
