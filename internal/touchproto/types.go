// Package touchproto implements the wire framing and message envelope
// shared by the discovery admission handshake and every transport stream:
// a varint length prefix followed by a tagged-union envelope, built by hand
// on google.golang.org/protobuf/encoding/protowire rather than through a
// protoc-generated schema.
package touchproto

// EventType mirrors the pointer event type carried on a TouchPacket.
type EventType int32

const (
	EventUnspecified EventType = 0
	EventDown        EventType = 1
	EventMove        EventType = 2
	EventUp          EventType = 3
	EventCancel      EventType = 4
)

// RejectReason enumerates why an admission attempt was rejected.
type RejectReason int32

const (
	RejectProtocolViolation      RejectReason = 1
	RejectHelloCheckSumMismatch  RejectReason = 2
	RejectRepeatedlyAddingDevice RejectReason = 3
)

// Welcome is sent by the admission server on successful admission. It
// carries the host certificate so the client can pin it for the transport
// connection.
type Welcome struct {
	CertDER []byte
	TSMs    uint64
}

// Reject is sent by the admission server when it refuses an admission
// attempt: a protocol violation, a checksum mismatch, or a duplicate IP.
type Reject struct {
	Reason RejectReason
}

// HeartBeat carries no payload; it exists purely to keep a stream alive
// across its own keepalive policy independent of the transport's.
type HeartBeat struct{}

// DiscoverValidation is the client's single admission request.
type DiscoverValidation struct {
	Checksum   uint64
	SendTS     uint64
	DeviceName string
	RandomKey  string
	Width      uint32
	Height     uint32
}

// RegisterDevice is the first frame a client sends on a transport stream.
type RegisterDevice struct {
	DeviceName string
	IP         string
	Width      uint32
	Height     uint32
	SendTS     int64
}

// Pointer is one finger's sample within a TouchPacket.
type Pointer struct {
	ID        uint32
	EventType EventType
	AbsX      int32
	AbsY      int32
}

// TouchPacket carries one or more pointer samples for a single instant.
type TouchPacket struct {
	Seq      uint32
	TSMs     int64
	Pointers []Pointer
}

// TuneSetting adjusts emitter behavior; sensitivity/inversion only, no
// retroactive adjustment of already-touched slots.
type TuneSetting struct {
	Sensitivity float64
	InvertX     bool
	InvertY     bool
}

// SettingRequest wraps a TuneSetting as a protocol frame.
type SettingRequest struct {
	Value TuneSetting
}

// Exit tells the receiver to close the connection cleanly.
type Exit struct {
	TSMs int64
}

// Envelope is the tagged union of every message variant. Exactly one of
// the pointer fields is non-nil for a decoded message.
type Envelope struct {
	Welcome            *Welcome
	Reject             *Reject
	HeartBeat          *HeartBeat
	DiscoverValidation *DiscoverValidation
	RegisterDevice     *RegisterDevice
	TouchPacket        *TouchPacket
	SettingRequest     *SettingRequest
	Exit               *Exit
}

// Variant tags — the field number used for the oneof in the envelope.
const (
	tagWelcome            = 1
	tagReject             = 2
	tagHeartBeat          = 3
	tagDiscoverValidation = 4
	tagRegisterDevice     = 5
	tagTouchPacket        = 6
	tagSettingRequest     = 7
	tagExit               = 8
)
