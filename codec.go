package roombridge

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecH264
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecH264:
		return "H264"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecAV1:
		return "video/AV1"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// CodecFromMimeType maps a MIME type back to a VideoCodec.
// Matching is case-insensitive on the subtype per RFC 4855 practice.
func CodecFromMimeType(mime string) VideoCodec {
	switch mime {
	case "video/VP8", "video/vp8":
		return VideoCodecVP8
	case "video/VP9", "video/vp9":
		return VideoCodecVP9
	case "video/H264", "video/h264":
		return VideoCodecH264
	case "video/AV1", "video/av1":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}
