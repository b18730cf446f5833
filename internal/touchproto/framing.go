package touchproto

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxVarintBytes bounds the length-prefix varint read per spec §4.1/§6:
// "reads the varint (max 5 bytes...)". A uint32-range length (MaxFrameLength
// is well under that) never needs more than 5 varint bytes.
const maxVarintBytes = 5

// WriteFrame writes env to w as a varint length prefix followed by its
// encoded envelope body. Both the admission handshake and every transport
// stream use this framing in both directions.
func WriteFrame(w io.Writer, env *Envelope) error {
	body := Encode(env)
	if body == nil {
		return fmt.Errorf("%w: empty envelope", ErrDecode)
	}
	if len(body) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrOverLength, len(body))
	}

	prefix := protowire.AppendVarint(nil, uint64(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one varint-length-prefixed envelope from r. It returns
// ErrOverLength if the declared length exceeds MaxFrameLength without
// reading the body, io.EOF if the stream ends before the first byte of a
// frame, and ErrTruncated if it ends partway through a frame.
func ReadFrame(r *bufio.Reader) (*Envelope, error) {
	length, err := readLengthPrefix(r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	if length > MaxFrameLength {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrOverLength, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrTruncated, err)
	}

	return Decode(body)
}

// readLengthPrefix decodes a varint from r one byte at a time, erroring as
// soon as the continuation bit is still set past maxVarintBytes instead of
// waiting for the full body read to discover an over-length frame.
func readLengthPrefix(r *bufio.Reader) (uint64, error) {
	var x uint64
	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i == 0 {
				return 0, err
			}
			return 0, fmt.Errorf("%w: length prefix: truncated varint", ErrTruncated)
		}
		x |= uint64(b&0x7f) << (7 * uint(i))
		if b < 0x80 {
			return x, nil
		}
	}
	return 0, fmt.Errorf("%w: length prefix exceeds %d bytes", ErrOverLength, maxVarintBytes)
}
