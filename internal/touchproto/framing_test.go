package touchproto

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &Envelope{RegisterDevice: &RegisterDevice{DeviceName: "pixel", IP: "10.0.0.2", Width: 1080, Height: 2400, SendTS: 99}}

	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.RegisterDevice.DeviceName != want.RegisterDevice.DeviceName {
		t.Errorf("DeviceName = %q, want %q", got.RegisterDevice.DeviceName, want.RegisterDevice.DeviceName)
	}
}

func TestWriteFrameRejectsOverLengthBody(t *testing.T) {
	huge := make([]byte, MaxFrameLength+1)
	env := &Envelope{Welcome: &Welcome{CertDER: huge}}

	var buf bytes.Buffer
	err := WriteFrame(&buf, env)
	if !errors.Is(err, ErrOverLength) {
		t.Fatalf("expected ErrOverLength, got %v", err)
	}
}

func TestReadFrameRejectsDeclaredOverLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(protowire.AppendVarint(nil, MaxFrameLength+1))

	_, err := ReadFrame(bufio.NewReader(&buf))
	if !errors.Is(err, ErrOverLength) {
		t.Fatalf("expected ErrOverLength, got %v", err)
	}
}

func TestReadFrameRejectsTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(protowire.AppendVarint(nil, 10))
	buf.Write([]byte{1, 2, 3}) // fewer than the declared 10 bytes

	_, err := ReadFrame(bufio.NewReader(&buf))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadFrameRejectsOverlongVarintPrefix(t *testing.T) {
	var buf bytes.Buffer
	// Six continuation-bit-set bytes: no terminator within maxVarintBytes.
	buf.Write([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})

	_, err := ReadFrame(bufio.NewReader(&buf))
	if !errors.Is(err, ErrOverLength) {
		t.Fatalf("expected ErrOverLength, got %v", err)
	}
}

func TestReadFrameReturnsEOFOnCleanClose(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(nil)))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
