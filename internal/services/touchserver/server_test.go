package touchserver

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/quic-go"

	"grimm.is/touchpad/internal/emitter"
	"grimm.is/touchpad/internal/latency"
	"grimm.is/touchpad/internal/pki"
	"grimm.is/touchpad/internal/touchproto"
)

type fakeRegistry struct {
	mu       sync.Mutex
	upserts  int
	removals int
	lastIP   string
}

func (f *fakeRegistry) UpsertDevice(ip, name string, width, height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.lastIP = ip
}

func (f *fakeRegistry) RemoveDevice(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals++
}

func newTestServer(t *testing.T) (*Server, *fakeRegistry, chan emitter.Event) {
	t.Helper()
	cm := pki.NewCertManager(t.TempDir())
	cert, err := cm.Load("", "")
	if err != nil {
		t.Fatalf("load cert: %v", err)
	}

	reg := &fakeRegistry{}
	events := make(chan emitter.Event, 16)
	s := New(Config{
		Addr:     "127.0.0.1:0",
		Cert:     cert,
		Registry: reg,
		Events:   events,
		Latency:  latency.NewTracker(latency.DefaultWindowSize),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s, reg, events
}

func dialClient(t *testing.T, addr string) *quic.Conn {
	t.Helper()
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpnProto}}
	conn, err := quic.DialAddr(context.Background(), addr, tlsConf, &quic.Config{MaxIdleTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("DialAddr failed: %v", err)
	}
	return conn
}

func TestRegisterDeviceUpsertsIntoRegistry(t *testing.T) {
	s, reg, _ := newTestServer(t)
	addr := s.ln.Addr().String()

	conn := dialClient(t, addr)
	defer conn.CloseWithError(0, "done")

	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		t.Fatalf("OpenStreamSync failed: %v", err)
	}

	if err := touchproto.WriteFrame(stream, &touchproto.Envelope{RegisterDevice: &touchproto.RegisterDevice{
		DeviceName: "phone", IP: "10.0.0.5", Width: 1080, Height: 2400, SendTS: 1000,
	}}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		got := reg.upserts
		reg.mu.Unlock()
		if got == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.upserts != 1 {
		t.Fatalf("expected exactly one upsert, got %d", reg.upserts)
	}
	if reg.lastIP != "10.0.0.5" {
		t.Errorf("upserted IP = %q, want 10.0.0.5", reg.lastIP)
	}
}

func TestTouchPacketRoutesPointersToEventsChannel(t *testing.T) {
	s, _, events := newTestServer(t)
	addr := s.ln.Addr().String()

	conn := dialClient(t, addr)
	defer conn.CloseWithError(0, "done")
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		t.Fatalf("OpenStreamSync failed: %v", err)
	}

	pkt := &touchproto.Envelope{TouchPacket: &touchproto.TouchPacket{
		Seq:  1,
		TSMs: time.Now().UnixMilli(),
		Pointers: []touchproto.Pointer{
			{ID: 0, EventType: touchproto.EventDown, AbsX: 5, AbsY: 5},
		},
	}}
	if err := touchproto.WriteFrame(stream, pkt); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Point == nil || ev.Point.Status != emitter.Down {
			t.Errorf("got event %+v, want a Down point", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed touch event")
	}
}

func TestSettingRequestRoutesTuneToEventsChannel(t *testing.T) {
	s, _, events := newTestServer(t)
	addr := s.ln.Addr().String()

	conn := dialClient(t, addr)
	defer conn.CloseWithError(0, "done")
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		t.Fatalf("OpenStreamSync failed: %v", err)
	}

	req := &touchproto.Envelope{SettingRequest: &touchproto.SettingRequest{
		Value: touchproto.TuneSetting{Sensitivity: 2.5, InvertX: true},
	}}
	if err := touchproto.WriteFrame(stream, req); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Tune == nil || ev.Tune.Sensitivity != 2.5 || !ev.Tune.InvertX {
			t.Errorf("got event %+v, want tune sensitivity=2.5 invertX=true", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed tune event")
	}
}

func TestExitClosesTheWholeConnection(t *testing.T) {
	s, _, _ := newTestServer(t)
	addr := s.ln.Addr().String()

	conn := dialClient(t, addr)
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		t.Fatalf("OpenStreamSync failed: %v", err)
	}
	if err := touchproto.WriteFrame(stream, &touchproto.Envelope{Exit: &touchproto.Exit{}}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	// The server should close the connection out from under us; opening
	// a second stream (or any further activity) must fail rather than hang.
	errCh := make(chan error, 1)
	go func() {
		_, err := conn.OpenStreamSync(context.Background())
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected OpenStreamSync to fail after server-initiated close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to close the connection after Exit")
	}
}

func TestShutdownClosesListenerAndConnections(t *testing.T) {
	s, _, _ := newTestServer(t)
	addr := s.ln.Addr().String()
	conn := dialClient(t, addr)
	defer conn.CloseWithError(0, "done")

	// Give the accept loop a moment to register the connection.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s.mu.Lock()
	n := len(s.connections)
	s.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no tracked connections after Close, got %d", n)
	}
}
