// Pluggable codec interfaces. The bridge does not reimplement codec logic:
// implementations are registered per codec by the embedding application and
// resolved by the engine's publish and frame-delivery paths.

package roombridge

import (
	"fmt"
	"io"
	"sync"
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec      VideoCodec // Codec type (VP8, VP9, H264, AV1)
	Width      int        // Frame width
	Height     int        // Frame height
	FPS        int        // Target framerate
	BitrateBps int        // Target bitrate in bits per second
}

// DefaultVideoEncoderConfig returns a default encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:      codec,
		Width:      width,
		Height:     height,
		FPS:        30,
		BitrateBps: 1500000, // 1.5 Mbps
	}
}

// VideoEncoder encodes raw video frames to a compressed bitstream.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// The returned EncodedFrame data is valid until the next Encode call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// Codec returns the codec type.
	Codec() VideoCodec
}

// VideoDecoder decodes a compressed bitstream into raw video frames.
type VideoDecoder interface {
	io.Closer

	// Decode decodes one encoded access unit.
	// Returns nil if the decoder is buffering and no frame is ready.
	// The returned frame is valid until the next Decode call.
	Decode(data []byte) (*VideoFrame, error)

	// Codec returns the codec type.
	Codec() VideoCodec
}

// VideoEncoderFactory creates an encoder for its registered codec.
type VideoEncoderFactory func(config VideoEncoderConfig) (VideoEncoder, error)

// VideoDecoderFactory creates a decoder for its registered codec.
type VideoDecoderFactory func() (VideoDecoder, error)

var (
	codecMu    sync.RWMutex
	encoderFac = make(map[VideoCodec]VideoEncoderFactory)
	decoderFac = make(map[VideoCodec]VideoDecoderFactory)
)

// RegisterEncoder installs the encoder factory for codec, replacing any
// previous registration.
func RegisterEncoder(codec VideoCodec, f VideoEncoderFactory) {
	codecMu.Lock()
	defer codecMu.Unlock()
	encoderFac[codec] = f
}

// RegisterDecoder installs the decoder factory for codec, replacing any
// previous registration.
func RegisterDecoder(codec VideoCodec, f VideoDecoderFactory) {
	codecMu.Lock()
	defer codecMu.Unlock()
	decoderFac[codec] = f
}

// NewEncoder creates an encoder using the registered factory.
func NewEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	codecMu.RLock()
	f := encoderFac[config.Codec]
	codecMu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("no encoder registered for %s", config.Codec)
	}
	return f(config)
}

// NewDecoder creates a decoder using the registered factory.
func NewDecoder(codec VideoCodec) (VideoDecoder, error) {
	codecMu.RLock()
	f := decoderFac[codec]
	codecMu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("no decoder registered for %s", codec)
	}
	return f()
}

// HasDecoder reports whether a decoder is registered for codec.
func HasDecoder(codec VideoCodec) bool {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return decoderFac[codec] != nil
}

// HasEncoder reports whether an encoder is registered for codec.
func HasEncoder(codec VideoCodec) bool {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return encoderFac[codec] != nil
}
