package touchproto

import "errors"

var (
	// ErrTruncated is returned by ReadFrame when the stream ends mid-frame.
	ErrTruncated = errors.New("touchproto: truncated frame")
	// ErrOverLength is returned by ReadFrame when the length prefix exceeds MaxFrameLength.
	ErrOverLength = errors.New("touchproto: frame length exceeds maximum")
	// ErrDecode wraps any envelope/field parse failure.
	ErrDecode = errors.New("touchproto: decode error")
	// ErrUnknownVariant is returned when the envelope's oneof tag is not recognized.
	ErrUnknownVariant = errors.New("touchproto: unknown envelope variant")
)
