// Core video frame types shared by the engine and the bridge.

package roombridge

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGBA32:
		return "RGBA32"
	case PixelFormatBGRA32:
		return "BGRA32"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return 1 // Packed
	default:
		return 0
	}
}

// VideoFrame represents a raw decoded video frame.
// The Data slices may point to memory owned by the producer; receivers that
// keep a frame beyond the delivery call must Clone it first.
type VideoFrame struct {
	Data      [][]byte    // Plane data (1-3 planes depending on format)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// NewI420Frame allocates a zeroed I420 frame with tightly packed planes.
func NewI420Frame(width, height int) *VideoFrame {
	buf := make([]byte, I420Size(width, height))
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &VideoFrame{
		Data: [][]byte{
			buf[:ySize],
			buf[ySize : ySize+uvSize],
			buf[ySize+uvSize:],
		},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// FrameType indicates whether an encoded frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // Can be decoded independently
	FrameTypeDelta             // Requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds encoded video data on its way to or from a codec.
// The Data slice is owned by the producer and valid until the next call.
type EncodedFrame struct {
	Data      []byte    // Encoded bitstream data
	FrameType FrameType // Key or delta frame
	Timestamp uint32    // RTP timestamp (90kHz clock)
	Duration  uint32    // Duration in RTP timestamp units
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}
