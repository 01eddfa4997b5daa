package roombridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars  PatternType = iota // SMPTE color bars
	PatternSolidColor                    // Solid color
	PatternMovingBox                     // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 1280)
	Height  int         // Frame height (default: 720)
	FPS     int         // Frames per second (default: 30)
	Pattern PatternType // Pattern type (default: ColorBars)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8
}

// TestPatternSource generates synthetic I420 video frames. It stands in for
// platform capture in tests and as the placeholder screen-share source when
// no capture backend is registered.
type TestPatternSource struct {
	config TestPatternConfig

	// Pre-allocated frame buffer (I420 format)
	yPlane []byte
	uPlane []byte
	vPlane []byte

	frameDuration time.Duration
	frameCount    uint64
	startTime     time.Time

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	frameCh  chan *VideoFrame
	doneCh   chan struct{}
	callback VideoFrameCallback

	mu sync.RWMutex
}

// NewTestPatternSource creates a new test pattern video source.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	if config.FPS <= 0 {
		config.FPS = 30
	}

	ySize := config.Width * config.Height
	uvSize := (config.Width / 2) * (config.Height / 2)
	frameData := make([]byte, ySize+uvSize*2)

	s := &TestPatternSource{
		config:        config,
		yPlane:        frameData[:ySize],
		uPlane:        frameData[ySize : ySize+uvSize],
		vPlane:        frameData[ySize+uvSize:],
		frameDuration: time.Second / time.Duration(config.FPS),
		frameCh:       make(chan *VideoFrame, 2),
	}
	s.generatePattern(0)
	return s
}

// Start begins generating frames.
func (s *TestPatternSource) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	s.running.Store(true)
	s.startTime = time.Now()
	s.frameCount = 0

	go s.generateLoop()
	return nil
}

// Stop stops generating frames and waits for the goroutine to exit.
func (s *TestPatternSource) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.doneCh != nil {
		<-s.doneCh
	}
	return nil
}

// Close closes the source.
func (s *TestPatternSource) Close() error {
	s.Stop()
	s.mu.Lock()
	if s.frameCh != nil {
		close(s.frameCh)
		s.frameCh = nil
	}
	s.mu.Unlock()
	return nil
}

// ReadFrame reads the next frame (blocking).
func (s *TestPatternSource) ReadFrame(ctx context.Context) (*VideoFrame, error) {
	s.mu.RLock()
	ch := s.frameCh
	s.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("source closed")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("source closed")
		}
		return frame, nil
	}
}

// SetCallback sets the push-mode callback.
func (s *TestPatternSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Config returns the source configuration.
func (s *TestPatternSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.config.Width,
		Height:     s.config.Height,
		FPS:        s.config.FPS,
		Format:     PixelFormatI420,
		SourceType: SourceTypeTestPattern,
	}
}

func (s *TestPatternSource) generateLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.frameCount++
			if s.config.Pattern == PatternMovingBox {
				s.generatePattern(s.frameCount)
			}

			frame := &VideoFrame{
				Data: [][]byte{s.yPlane, s.uPlane, s.vPlane},
				Stride: []int{
					s.config.Width,
					s.config.Width / 2,
					s.config.Width / 2,
				},
				Width:     s.config.Width,
				Height:    s.config.Height,
				Format:    PixelFormatI420,
				Timestamp: time.Since(s.startTime).Nanoseconds(),
			}

			s.mu.RLock()
			cb := s.callback
			ch := s.frameCh
			s.mu.RUnlock()

			if cb != nil {
				cb(frame)
			} else if ch != nil {
				select {
				case <-s.ctx.Done():
					return
				case ch <- frame:
				default:
					// Drop frame if channel full
				}
			}
		}
	}
}

func (s *TestPatternSource) generatePattern(frameNum uint64) {
	switch s.config.Pattern {
	case PatternSolidColor:
		s.generateSolidColor(s.config.SolidR, s.config.SolidG, s.config.SolidB)
	case PatternMovingBox:
		s.generateMovingBox(frameNum)
	default:
		s.generateColorBars()
	}
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (s *TestPatternSource) generateColorBars() {
	w, h := s.config.Width, s.config.Height
	barWidth := w / 8

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}

			rgb := colorBarsRGB[barIdx]
			yVal, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])

			s.yPlane[y*w+x] = yVal

			// UV planes (subsampled 2x2)
			if x%2 == 0 && y%2 == 0 {
				uvIdx := (y/2)*(w/2) + (x / 2)
				s.uPlane[uvIdx] = u
				s.vPlane[uvIdx] = v
			}
		}
	}
}

func (s *TestPatternSource) generateSolidColor(r, g, b uint8) {
	yVal, u, v := rgbToYUV(r, g, b)

	for i := range s.yPlane {
		s.yPlane[i] = yVal
	}
	for i := range s.uPlane {
		s.uPlane[i] = u
		s.vPlane[i] = v
	}
}

func (s *TestPatternSource) generateMovingBox(frameNum uint64) {
	w, h := s.config.Width, s.config.Height

	// Gray background
	for i := range s.yPlane {
		s.yPlane[i] = 128
	}
	for i := range s.uPlane {
		s.uPlane[i] = 128
		s.vPlane[i] = 128
	}

	// White box bouncing horizontally
	boxSize := h / 4
	span := w - boxSize
	if span <= 0 {
		return
	}
	pos := int(frameNum*8) % (span * 2)
	if pos > span {
		pos = span*2 - pos
	}
	top := (h - boxSize) / 2

	for y := top; y < top+boxSize; y++ {
		for x := pos; x < pos+boxSize; x++ {
			s.yPlane[y*w+x] = 235
		}
	}
}

// rgbToYUV converts an RGB color to BT.601 limited-range YUV.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	yf := 0.257*rf + 0.504*gf + 0.098*bf + 16
	uf := -0.148*rf - 0.291*gf + 0.439*bf + 128
	vf := 0.439*rf - 0.368*gf - 0.071*bf + 128
	return clampByte(yf), clampByte(uf), clampByte(vf)
}

func clampByte(f float64) uint8 {
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}
