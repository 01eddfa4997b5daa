package roombridge

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// videoDepacketizer reassembles encoded access units from an RTP packet
// stream using pion's per-codec depacketizers. One instance per track; not
// safe for concurrent use.
type videoDepacketizer struct {
	codec        VideoCodec
	depacketizer rtp.Depacketizer
	buf          []byte
	timestamp    uint32
	assembling   bool
}

// av1Depacketizer adapts codecs.AV1Packet to rtp.Depacketizer, which it
// does not satisfy on its own (no IsPartitionHead). A payload starts a new
// partition when the aggregation header's Z bit is clear: the first OBU
// element is not the continuation of a fragment from the previous packet.
type av1Depacketizer struct {
	codecs.AV1Packet
}

func (*av1Depacketizer) IsPartitionHead(payload []byte) bool {
	return len(payload) > 0 && payload[0]&0x80 == 0
}

func (*av1Depacketizer) IsPartitionTail(marker bool, _ []byte) bool {
	return marker
}

func newVideoDepacketizer(codec VideoCodec) (*videoDepacketizer, error) {
	var d rtp.Depacketizer
	switch codec {
	case VideoCodecVP8:
		d = &codecs.VP8Packet{}
	case VideoCodecVP9:
		d = &codecs.VP9Packet{}
	case VideoCodecH264:
		d = &codecs.H264Packet{}
	case VideoCodecAV1:
		d = &av1Depacketizer{}
	default:
		return nil, fmt.Errorf("no depacketizer for %s", codec)
	}
	return &videoDepacketizer{codec: codec, depacketizer: d}, nil
}

// Push adds one RTP packet and returns a completed access unit, or nil while
// a unit is still being assembled. A timestamp jump mid-unit discards the
// partial unit (the tail packet was lost).
func (d *videoDepacketizer) Push(pkt *rtp.Packet) (*EncodedFrame, error) {
	if d.assembling && pkt.Timestamp != d.timestamp {
		d.buf = d.buf[:0]
		d.assembling = false
	}

	payload, err := d.depacketizer.Unmarshal(pkt.Payload)
	if err != nil {
		return nil, fmt.Errorf("depacketize %s: %w", d.codec, err)
	}

	d.timestamp = pkt.Timestamp
	d.assembling = true
	d.buf = append(d.buf, payload...)

	if !d.depacketizer.IsPartitionTail(pkt.Marker, pkt.Payload) {
		return nil, nil
	}

	frame := &EncodedFrame{
		Data:      append([]byte(nil), d.buf...),
		Timestamp: pkt.Timestamp,
	}
	d.buf = d.buf[:0]
	d.assembling = false
	return frame, nil
}
