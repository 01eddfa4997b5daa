// Package roombridge exposes a real-time audio/video room to non-Go callers
// through a flat C-compatible API built on opaque handles and C-callable
// callbacks.
//
// Key pieces include:
//   - Room facade: connect/disconnect, track publish/unpublish, remote video
//     track discovery, screen-share track creation, display enumeration
//   - RoomObserver: room lifecycle and subscription events re-dispatched as
//     synchronous callbacks
//   - VideoRenderer: per-track push delivery of decoded video frames with a
//     boolean backpressure/unsubscribe signal
//   - Handle table with generation counters backing the opaque C handles
//
// # Architecture
//
//	C caller -> lkbridge (cgo exports) -> Room/VideoRenderer -> Engine
//	Engine events -> Room event pump -> RoomObserver callbacks -> C caller
//	Engine frames -> VideoRenderer delivery -> on-frame callback -> C caller
//
// The room engine itself sits behind the Engine interface. The package ships
// a production engine built on pion/webrtc with websocket signaling
// (NewPionEngine); tests substitute their own. Connection negotiation, codec
// handling, and the capture pipeline belong to the engine: the bridge only
// hands results and events across the boundary, and delegates all real
// concurrency control to the engine's internal synchronization.
//
// # C ABI
//
// The lkbridge directory builds with -buildmode=c-shared and exports the LK*
// symbol surface declared in lkbridge/liblkbridge.h. Every handle returned as
// retained must be balanced with exactly one LKRelease; borrowed handles must
// not be released by the receiver. See the header for per-function ownership
// notes.
//
// # Codecs
//
// Encoder and decoder implementations are pluggable through RegisterEncoder
// and RegisterDecoder. The package defines the interfaces and wire plumbing
// only; it deliberately does not reimplement codec logic.
package roombridge
