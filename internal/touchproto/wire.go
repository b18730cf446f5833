package touchproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

func appendZigzagField(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, protowire.EncodeZigZag(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return appendVarintField(b, num, u)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	return appendBytesField(b, num, []byte(v))
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: varint: %v", ErrDecode, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeZigzag(b []byte) (int64, int, error) {
	v, n, err := consumeVarint(b)
	if err != nil {
		return 0, 0, err
	}
	return protowire.DecodeZigZag(v), n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: bytes: %v", ErrDecode, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n, err := consumeBytes(b)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

// walkFields iterates every top-level field in body, dispatching each to fn.
// fn consumes the field's value from the slice it is given (which starts
// immediately after the tag) and returns the remaining, unconsumed bytes.
func walkFields(body []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error)) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("%w: field tag: %v", ErrDecode, protowire.ParseError(n))
		}
		body = body[n:]
		rest, err := fn(num, typ, body)
		if err != nil {
			return err
		}
		body = rest
	}
	return nil
}

// skipField discards a field whose number this package does not recognize,
// tolerating future additions to the envelope.
func skipField(b []byte, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return nil, fmt.Errorf("%w: skip field: %v", ErrDecode, protowire.ParseError(n))
	}
	return b[n:], nil
}
