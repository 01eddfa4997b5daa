package roombridge

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

// vp8Packet builds a minimal VP8 RTP payload: a one-byte payload
// descriptor (S bit set on the first packet of a frame) followed by
// bitstream data.
func vp8Packet(timestamp uint32, marker, start bool, data ...byte) *rtp.Packet {
	descriptor := byte(0x00)
	if start {
		descriptor = 0x10
	}
	return &rtp.Packet{
		Header:  rtp.Header{Timestamp: timestamp, Marker: marker},
		Payload: append([]byte{descriptor}, data...),
	}
}

func TestDepacketizeVP8AccessUnit(t *testing.T) {
	d, err := newVideoDepacketizer(VideoCodecVP8)
	if err != nil {
		t.Fatalf("newVideoDepacketizer: %v", err)
	}

	frame, err := d.Push(vp8Packet(9000, false, true, 0xAA, 0xBB))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if frame != nil {
		t.Fatal("unit completed before the tail packet")
	}

	frame, err = d.Push(vp8Packet(9000, true, false, 0xCC))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if frame == nil {
		t.Fatal("tail packet did not complete the unit")
	}
	if !bytes.Equal(frame.Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("Data = %x, want aabbcc", frame.Data)
	}
	if frame.Timestamp != 9000 {
		t.Fatalf("Timestamp = %d, want 9000", frame.Timestamp)
	}
}

func TestDepacketizeTimestampJumpDiscardsPartialUnit(t *testing.T) {
	d, err := newVideoDepacketizer(VideoCodecVP8)
	if err != nil {
		t.Fatalf("newVideoDepacketizer: %v", err)
	}

	// First unit loses its tail packet.
	if _, err := d.Push(vp8Packet(1000, false, true, 0x01, 0x02)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// The next unit must not carry the stale partial data.
	frame, err := d.Push(vp8Packet(4000, true, true, 0xDD))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if frame == nil {
		t.Fatal("single-packet unit did not complete")
	}
	if !bytes.Equal(frame.Data, []byte{0xDD}) {
		t.Fatalf("Data = %x, stale partial unit leaked", frame.Data)
	}
}

func TestDepacketizeConsecutiveUnits(t *testing.T) {
	d, err := newVideoDepacketizer(VideoCodecVP8)
	if err != nil {
		t.Fatalf("newVideoDepacketizer: %v", err)
	}

	for i, want := range [][]byte{{0x10}, {0x20}, {0x30}} {
		ts := uint32(3000 * (i + 1))
		frame, err := d.Push(vp8Packet(ts, true, true, want...))
		if err != nil {
			t.Fatalf("Push unit %d: %v", i, err)
		}
		if frame == nil || !bytes.Equal(frame.Data, want) {
			t.Fatalf("unit %d = %+v, want Data %x", i, frame, want)
		}
	}
}

func TestDepacketizerCodecSupport(t *testing.T) {
	for _, codec := range []VideoCodec{VideoCodecVP8, VideoCodecVP9, VideoCodecH264, VideoCodecAV1} {
		if _, err := newVideoDepacketizer(codec); err != nil {
			t.Errorf("%s: %v", codec, err)
		}
	}
	if _, err := newVideoDepacketizer(VideoCodecUnknown); err == nil {
		t.Error("unknown codec accepted")
	}
}

func TestDepacketizeAV1PartitionHead(t *testing.T) {
	d, err := newVideoDepacketizer(VideoCodecAV1)
	if err != nil {
		t.Fatalf("newVideoDepacketizer: %v", err)
	}

	cases := []struct {
		name    string
		payload []byte
		want    bool
	}{
		// W=1, one OBU element, Z clear: a fresh partition.
		{"fresh", []byte{0x10, 0x0a, 0x0b}, true},
		// Z set: continuation of a fragment from the previous packet.
		{"continuation", []byte{0x90, 0x0c}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		if got := d.depacketizer.IsPartitionHead(tc.payload); got != tc.want {
			t.Errorf("%s: IsPartitionHead = %v, want %v", tc.name, got, tc.want)
		}
	}
}
