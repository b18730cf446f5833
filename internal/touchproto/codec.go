package touchproto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameLength is the largest frame body ReadFrame will accept. A
// TouchPacket with up to 10 pointers fits well under 1 KiB; this bounds
// memory spent on a malformed or hostile peer.
const MaxFrameLength = 4096

// field numbers within each variant submessage.
const (
	fWelcomeCertDER = 1
	fWelcomeTSMs    = 2

	fRejectReason = 1

	fDVChecksum   = 1
	fDVSendTS     = 2
	fDVDeviceName = 3
	fDVRandomKey  = 4
	fDVWidth      = 5
	fDVHeight     = 6

	fRDDeviceName = 1
	fRDIP         = 2
	fRDWidth      = 3
	fRDHeight     = 4
	fRDSendTS     = 5

	fTPSeq      = 1
	fTPTSMs     = 2
	fTPPointers = 3

	fPtrID        = 1
	fPtrEventType = 2
	fPtrAbsX      = 3
	fPtrAbsY      = 4

	fSRValue = 1

	fTuneSensitivity = 1
	fTuneInvertX     = 2
	fTuneInvertY     = 3

	fExitTSMs = 1
)

// Encode serializes an envelope into its wire form. It never fails for an
// in-memory message: every field type encodes unconditionally.
func Encode(env *Envelope) []byte {
	var tag uint32
	var body []byte

	switch {
	case env.Welcome != nil:
		tag, body = tagWelcome, encodeWelcome(env.Welcome)
	case env.Reject != nil:
		tag, body = tagReject, encodeReject(env.Reject)
	case env.HeartBeat != nil:
		tag, body = tagHeartBeat, nil
	case env.DiscoverValidation != nil:
		tag, body = tagDiscoverValidation, encodeDiscoverValidation(env.DiscoverValidation)
	case env.RegisterDevice != nil:
		tag, body = tagRegisterDevice, encodeRegisterDevice(env.RegisterDevice)
	case env.TouchPacket != nil:
		tag, body = tagTouchPacket, encodeTouchPacket(env.TouchPacket)
	case env.SettingRequest != nil:
		tag, body = tagSettingRequest, encodeSettingRequest(env.SettingRequest)
	case env.Exit != nil:
		tag, body = tagExit, encodeExit(env.Exit)
	default:
		// Empty envelope encodes to nothing; decode will reject it.
		return nil
	}

	var out []byte
	out = protowire.AppendTag(out, protowire.Number(tag), protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	return out
}

// Decode parses an envelope from its wire form, failing on truncation,
// malformed fields, or an unrecognized oneof tag.
func Decode(b []byte) (*Envelope, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, fmt.Errorf("%w: envelope tag: %v", ErrDecode, protowire.ParseError(n))
	}
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: envelope wire type %v", ErrDecode, typ)
	}
	b = b[n:]

	body, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, fmt.Errorf("%w: envelope body: %v", ErrDecode, protowire.ParseError(n))
	}
	if n != len(b) {
		return nil, fmt.Errorf("%w: trailing bytes after envelope", ErrDecode)
	}

	env := &Envelope{}
	var err error
	switch protowire.Number(num) {
	case tagWelcome:
		env.Welcome, err = decodeWelcome(body)
	case tagReject:
		env.Reject, err = decodeReject(body)
	case tagHeartBeat:
		env.HeartBeat = &HeartBeat{}
	case tagDiscoverValidation:
		env.DiscoverValidation, err = decodeDiscoverValidation(body)
	case tagRegisterDevice:
		env.RegisterDevice, err = decodeRegisterDevice(body)
	case tagTouchPacket:
		env.TouchPacket, err = decodeTouchPacket(body)
	case tagSettingRequest:
		env.SettingRequest, err = decodeSettingRequest(body)
	case tagExit:
		env.Exit, err = decodeExit(body)
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownVariant, num)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// --- per-variant encode ---

func encodeWelcome(w *Welcome) []byte {
	var b []byte
	b = appendBytesField(b, fWelcomeCertDER, w.CertDER)
	b = appendVarintField(b, fWelcomeTSMs, w.TSMs)
	return b
}

func encodeReject(r *Reject) []byte {
	var b []byte
	b = appendVarintField(b, fRejectReason, uint64(r.Reason))
	return b
}

func encodeDiscoverValidation(d *DiscoverValidation) []byte {
	var b []byte
	b = appendVarintField(b, fDVChecksum, d.Checksum)
	b = appendVarintField(b, fDVSendTS, d.SendTS)
	b = appendStringField(b, fDVDeviceName, d.DeviceName)
	b = appendStringField(b, fDVRandomKey, d.RandomKey)
	b = appendVarintField(b, fDVWidth, uint64(d.Width))
	b = appendVarintField(b, fDVHeight, uint64(d.Height))
	return b
}

func encodeRegisterDevice(r *RegisterDevice) []byte {
	var b []byte
	b = appendStringField(b, fRDDeviceName, r.DeviceName)
	b = appendStringField(b, fRDIP, r.IP)
	b = appendVarintField(b, fRDWidth, uint64(r.Width))
	b = appendVarintField(b, fRDHeight, uint64(r.Height))
	b = appendZigzagField(b, fRDSendTS, r.SendTS)
	return b
}

func encodePointer(p Pointer) []byte {
	var b []byte
	b = appendVarintField(b, fPtrID, uint64(p.ID))
	b = appendVarintField(b, fPtrEventType, uint64(int32(p.EventType)))
	b = appendZigzagField(b, fPtrAbsX, int64(p.AbsX))
	b = appendZigzagField(b, fPtrAbsY, int64(p.AbsY))
	return b
}

func encodeTouchPacket(tp *TouchPacket) []byte {
	var b []byte
	b = appendVarintField(b, fTPSeq, uint64(tp.Seq))
	b = appendZigzagField(b, fTPTSMs, tp.TSMs)
	for _, p := range tp.Pointers {
		b = appendBytesField(b, fTPPointers, encodePointer(p))
	}
	return b
}

func encodeTuneSetting(t TuneSetting) []byte {
	var b []byte
	b = protowire.AppendTag(b, fTuneSensitivity, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(t.Sensitivity))
	b = appendBoolField(b, fTuneInvertX, t.InvertX)
	b = appendBoolField(b, fTuneInvertY, t.InvertY)
	return b
}

func encodeSettingRequest(s *SettingRequest) []byte {
	var b []byte
	b = appendBytesField(b, fSRValue, encodeTuneSetting(s.Value))
	return b
}

func encodeExit(e *Exit) []byte {
	var b []byte
	b = appendZigzagField(b, fExitTSMs, e.TSMs)
	return b
}

// --- per-variant decode ---

func decodeWelcome(body []byte) (*Welcome, error) {
	w := &Welcome{}
	return w, walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fWelcomeCertDER:
			v, n, err := consumeBytes(b)
			w.CertDER, b = v, b[n:]
			return b, err
		case fWelcomeTSMs:
			v, n, err := consumeVarint(b)
			w.TSMs, b = v, b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
}

func decodeReject(body []byte) (*Reject, error) {
	r := &Reject{}
	return r, walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fRejectReason:
			v, n, err := consumeVarint(b)
			r.Reason, b = RejectReason(int32(v)), b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
}

func decodeDiscoverValidation(body []byte) (*DiscoverValidation, error) {
	d := &DiscoverValidation{}
	return d, walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fDVChecksum:
			v, n, err := consumeVarint(b)
			d.Checksum, b = v, b[n:]
			return b, err
		case fDVSendTS:
			v, n, err := consumeVarint(b)
			d.SendTS, b = v, b[n:]
			return b, err
		case fDVDeviceName:
			v, n, err := consumeString(b)
			d.DeviceName, b = v, b[n:]
			return b, err
		case fDVRandomKey:
			v, n, err := consumeString(b)
			d.RandomKey, b = v, b[n:]
			return b, err
		case fDVWidth:
			v, n, err := consumeVarint(b)
			d.Width, b = uint32(v), b[n:]
			return b, err
		case fDVHeight:
			v, n, err := consumeVarint(b)
			d.Height, b = uint32(v), b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
}

func decodeRegisterDevice(body []byte) (*RegisterDevice, error) {
	r := &RegisterDevice{}
	return r, walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fRDDeviceName:
			v, n, err := consumeString(b)
			r.DeviceName, b = v, b[n:]
			return b, err
		case fRDIP:
			v, n, err := consumeString(b)
			r.IP, b = v, b[n:]
			return b, err
		case fRDWidth:
			v, n, err := consumeVarint(b)
			r.Width, b = uint32(v), b[n:]
			return b, err
		case fRDHeight:
			v, n, err := consumeVarint(b)
			r.Height, b = uint32(v), b[n:]
			return b, err
		case fRDSendTS:
			v, n, err := consumeZigzag(b)
			r.SendTS, b = v, b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
}

func decodePointer(body []byte) (Pointer, error) {
	p := Pointer{}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fPtrID:
			v, n, err := consumeVarint(b)
			p.ID, b = uint32(v), b[n:]
			return b, err
		case fPtrEventType:
			v, n, err := consumeVarint(b)
			p.EventType, b = EventType(int32(v)), b[n:]
			return b, err
		case fPtrAbsX:
			v, n, err := consumeZigzag(b)
			p.AbsX, b = int32(v), b[n:]
			return b, err
		case fPtrAbsY:
			v, n, err := consumeZigzag(b)
			p.AbsY, b = int32(v), b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
	return p, err
}

func decodeTouchPacket(body []byte) (*TouchPacket, error) {
	tp := &TouchPacket{}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fTPSeq:
			v, n, err := consumeVarint(b)
			tp.Seq, b = uint32(v), b[n:]
			return b, err
		case fTPTSMs:
			v, n, err := consumeZigzag(b)
			tp.TSMs, b = v, b[n:]
			return b, err
		case fTPPointers:
			v, n, err := consumeBytes(b)
			if err != nil {
				return b, err
			}
			ptr, perr := decodePointer(v)
			if perr != nil {
				return b, perr
			}
			tp.Pointers = append(tp.Pointers, ptr)
			return b[n:], nil
		default:
			return skipField(b, typ)
		}
	})
	return tp, err
}

func decodeTuneSetting(body []byte) (TuneSetting, error) {
	t := TuneSetting{}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fTuneSensitivity:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return b, fmt.Errorf("%w: sensitivity: %v", ErrDecode, protowire.ParseError(n))
			}
			t.Sensitivity = math.Float64frombits(v)
			return b[n:], nil
		case fTuneInvertX:
			v, n, err := consumeVarint(b)
			t.InvertX, b = v != 0, b[n:]
			return b, err
		case fTuneInvertY:
			v, n, err := consumeVarint(b)
			t.InvertY, b = v != 0, b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
	return t, err
}

func decodeSettingRequest(body []byte) (*SettingRequest, error) {
	s := &SettingRequest{}
	err := walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fSRValue:
			v, n, err := consumeBytes(b)
			if err != nil {
				return b, err
			}
			tune, terr := decodeTuneSetting(v)
			if terr != nil {
				return b, terr
			}
			s.Value = tune
			return b[n:], nil
		default:
			return skipField(b, typ)
		}
	})
	return s, err
}

func decodeExit(body []byte) (*Exit, error) {
	e := &Exit{}
	return e, walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
		switch num {
		case fExitTSMs:
			v, n, err := consumeZigzag(b)
			e.TSMs, b = v, b[n:]
			return b, err
		default:
			return skipField(b, typ)
		}
	})
}
