package roombridge

import "testing"

func TestPixelFormatString(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   string
	}{
		{PixelFormatI420, "I420"},
		{PixelFormatNV12, "NV12"},
		{PixelFormatRGBA32, "RGBA32"},
		{PixelFormatBGRA32, "BGRA32"},
		{PixelFormat(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.format.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestPixelFormatPlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		want   int
	}{
		{PixelFormatI420, 3},
		{PixelFormatNV12, 2},
		{PixelFormatRGBA32, 1},
		{PixelFormatBGRA32, 1},
		{PixelFormat(99), 0},
	}
	for _, tt := range tests {
		if got := tt.format.PlaneCount(); got != tt.want {
			t.Errorf("%s.PlaneCount() = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestI420Size(t *testing.T) {
	// 1280*720 luma + 2 * 640*360 chroma
	if got := I420Size(1280, 720); got != 1382400 {
		t.Errorf("I420Size(1280, 720) = %d, want 1382400", got)
	}
}

func TestNewI420Frame(t *testing.T) {
	frame := NewI420Frame(320, 240)
	if frame.Format != PixelFormatI420 {
		t.Errorf("Format = %v", frame.Format)
	}
	if len(frame.Data) != 3 {
		t.Fatalf("planes = %d, want 3", len(frame.Data))
	}
	if len(frame.Data[0]) != 320*240 {
		t.Errorf("Y plane = %d bytes", len(frame.Data[0]))
	}
	if len(frame.Data[1]) != 160*120 || len(frame.Data[2]) != 160*120 {
		t.Errorf("chroma planes = %d/%d bytes", len(frame.Data[1]), len(frame.Data[2]))
	}
	if frame.Stride[0] != 320 || frame.Stride[1] != 160 || frame.Stride[2] != 160 {
		t.Errorf("strides = %v", frame.Stride)
	}
}

func TestVideoFrameClone(t *testing.T) {
	frame := NewI420Frame(64, 64)
	frame.Data[0][0] = 42
	frame.Timestamp = 12345

	clone := frame.Clone()
	if clone.Timestamp != 12345 || clone.Data[0][0] != 42 {
		t.Fatal("clone did not carry the frame contents")
	}

	// Mutating the original must not show through the clone.
	frame.Data[0][0] = 7
	if clone.Data[0][0] != 42 {
		t.Fatal("clone shares plane memory with the original")
	}
}

func TestEncodedFrameIsKeyframe(t *testing.T) {
	key := &EncodedFrame{FrameType: FrameTypeKey}
	delta := &EncodedFrame{FrameType: FrameTypeDelta}
	if !key.IsKeyframe() || delta.IsKeyframe() {
		t.Error("keyframe classification wrong")
	}
}
