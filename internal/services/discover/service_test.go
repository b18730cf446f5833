package discover

import (
	"bufio"
	"net"
	"testing"

	"github.com/zeebo/xxh3"

	"grimm.is/touchpad/internal/pki"
	"grimm.is/touchpad/internal/touchproto"
)

func newTestService(t *testing.T, seed string, onAdmit Callback) *Service {
	t.Helper()
	cert := &pki.LoadedCert{DER: []byte{0xde, 0xad, 0xbe, 0xef}}
	return New(Config{Seed: seed, Cert: cert, OnAdmit: onAdmit})
}

func roundTrip(t *testing.T, s *Service, dv *touchproto.DiscoverValidation) *touchproto.Envelope {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleAdmission(server)
		close(done)
	}()

	if err := touchproto.WriteFrame(client, &touchproto.Envelope{DiscoverValidation: dv}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	resp, err := touchproto.ReadFrame(bufio.NewReader(client))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	<-done
	return resp
}

func TestScenarioS1HappyAdmission(t *testing.T) {
	var gotDevice Device
	var gotAll []Device
	s := newTestService(t, "s3cret", func(added Device, all []Device) {
		gotDevice, gotAll = added, all
	})

	resp := roundTrip(t, s, &touchproto.DiscoverValidation{
		Checksum: xxh3.HashString("s3cret"), DeviceName: "phone", Width: 1080, Height: 2400,
	})

	if resp.Welcome == nil {
		t.Fatalf("expected Welcome, got %+v", resp)
	}
	if gotDevice.Name != "phone" || gotDevice.Width != 1080 || gotDevice.Height != 2400 {
		t.Errorf("callback device = %+v", gotDevice)
	}
	if len(gotAll) != 1 {
		t.Errorf("callback snapshot len = %d, want 1", len(gotAll))
	}
	if len(s.Devices()) != 1 {
		t.Errorf("admitted map len = %d, want 1", len(s.Devices()))
	}
}

func TestScenarioS2DuplicateIP(t *testing.T) {
	s := newTestService(t, "s3cret", nil)
	dv := &touchproto.DiscoverValidation{Checksum: xxh3.HashString("s3cret"), DeviceName: "phone"}

	first := roundTrip(t, s, dv)
	if first.Welcome == nil {
		t.Fatalf("expected first admission to succeed, got %+v", first)
	}

	second := roundTrip(t, s, dv)
	if second.Reject == nil || second.Reject.Reason != touchproto.RejectRepeatedlyAddingDevice {
		t.Fatalf("expected RejectRepeatedlyAddingDevice, got %+v", second)
	}
	if len(s.Devices()) != 1 {
		t.Errorf("map should be unchanged by the duplicate, len = %d", len(s.Devices()))
	}
}

func TestScenarioS3BadSecret(t *testing.T) {
	s := newTestService(t, "s3cret", nil)
	resp := roundTrip(t, s, &touchproto.DiscoverValidation{Checksum: 0, DeviceName: "phone"})

	if resp.Reject == nil || resp.Reject.Reason != touchproto.RejectHelloCheckSumMismatch {
		t.Fatalf("expected RejectHelloCheckSumMismatch, got %+v", resp)
	}
	if len(s.Devices()) != 0 {
		t.Errorf("map should be unchanged, len = %d", len(s.Devices()))
	}
}

func TestProtocolViolationOnWrongVariant(t *testing.T) {
	s := newTestService(t, "s3cret", nil)
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleAdmission(server)
		close(done)
	}()

	touchproto.WriteFrame(client, &touchproto.Envelope{HeartBeat: &touchproto.HeartBeat{}})
	resp, err := touchproto.ReadFrame(bufio.NewReader(client))
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	<-done
	if resp.Reject == nil || resp.Reject.Reason != touchproto.RejectProtocolViolation {
		t.Fatalf("expected RejectProtocolViolation, got %+v", resp)
	}
}

func TestRemoveDeviceAllowsReadmission(t *testing.T) {
	s := newTestService(t, "s3cret", nil)
	dv := &touchproto.DiscoverValidation{Checksum: xxh3.HashString("s3cret")}

	resp := roundTrip(t, s, dv)
	if resp.Welcome == nil {
		t.Fatalf("expected admission to succeed")
	}
	devices := s.Devices()
	if len(devices) != 1 {
		t.Fatalf("expected one admitted device")
	}
	s.RemoveDevice(devices[0].IP)

	resp2 := roundTrip(t, s, dv)
	if resp2.Welcome == nil {
		t.Fatalf("expected re-admission after removal to succeed, got %+v", resp2)
	}
}
