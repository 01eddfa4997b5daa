package roombridge

import (
	"context"
	"io"
	"sync"
)

// SourceType identifies the type of video source.
type SourceType int

const (
	SourceTypeUnknown     SourceType = iota
	SourceTypeScreen                 // Display capture (platform-specific)
	SourceTypeTestPattern            // Synthetic test pattern generator
	SourceTypeCustom                 // User-provided source
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeScreen:
		return "Screen"
	case SourceTypeTestPattern:
		return "TestPattern"
	case SourceTypeCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// SourceConfig describes a video source's configuration.
type SourceConfig struct {
	Width      int         // Frame width in pixels
	Height     int         // Frame height in pixels
	FPS        int         // Frames per second
	Format     PixelFormat // Pixel format
	SourceType SourceType  // Type of source
}

// VideoFrameCallback is called when a frame is available (push mode).
type VideoFrameCallback func(frame *VideoFrame)

// VideoSource produces raw video frames for a local track.
type VideoSource interface {
	io.Closer

	// Start begins capture/generation.
	Start(ctx context.Context) error

	// Stop halts capture/generation.
	Stop() error

	// ReadFrame reads the next frame (blocking).
	// The returned frame is valid until the next ReadFrame call or Close.
	ReadFrame(ctx context.Context) (*VideoFrame, error)

	// SetCallback sets a push-mode callback for frame delivery. When set,
	// frames are pushed to the callback instead of being buffered.
	SetCallback(cb VideoFrameCallback)

	// Config returns the source configuration.
	Config() SourceConfig
}

// ScreenCaptureFactory creates a capture source for one display. Platform
// capture backends register themselves here; when none is registered,
// screen-share tracks fall back to a synthetic placeholder pattern.
type ScreenCaptureFactory func(display *Display, config SourceConfig) (VideoSource, error)

var (
	screenCaptureMu      sync.RWMutex
	screenCaptureFactory ScreenCaptureFactory
)

// RegisterScreenCapture installs the process-wide screen capture backend.
func RegisterScreenCapture(f ScreenCaptureFactory) {
	screenCaptureMu.Lock()
	defer screenCaptureMu.Unlock()
	screenCaptureFactory = f
}

// newScreenSource creates the capture source for display, using the
// registered backend or the placeholder pattern.
func newScreenSource(display *Display, config SourceConfig) (VideoSource, error) {
	screenCaptureMu.RLock()
	factory := screenCaptureFactory
	screenCaptureMu.RUnlock()

	if factory != nil {
		return factory(display, config)
	}
	return NewTestPatternSource(TestPatternConfig{
		Width:   config.Width,
		Height:  config.Height,
		FPS:     config.FPS,
		Pattern: PatternMovingBox,
	}), nil
}
