// Package discover implements the mDNS advertiser and TCP admission
// server: the host announces itself, and a single round-trip handshake
// validates a shared-secret checksum before handing the client the
// transport certificate.
//
// Grounded on original_source/server/backend/src/discover_service.rs for
// the admission state machine and original_source/shared-utils/src/
// interface.rs (via internal/netiface) for bind-address selection.
package discover

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"grimm.is/touchpad/internal/clock"
	"grimm.is/touchpad/internal/logging"
	"grimm.is/touchpad/internal/metrics"
	"grimm.is/touchpad/internal/pki"
	"grimm.is/touchpad/internal/touchproto"
)

// Device is one admitted client, keyed by source IP in Service's map.
type Device struct {
	Name   string
	IP     string
	Width  uint32
	Height uint32
}

// Callback fires once per successful admission, with the newly admitted
// device and a snapshot of every currently admitted device. Expressed as
// a constructor-supplied handle rather than a global/event bus, per
// spec §9's callback-ownership note.
type Callback func(added Device, all []Device)

// Config configures one Service instance.
type Config struct {
	ServiceType  string // e.g. "_touchpad._tcp"
	ComputerName string
	IP           net.IP
	DiscoverPort uint16
	LoginPort    uint16
	BackendPort  uint16
	Seed         string
	Cert         *pki.LoadedCert
	OnAdmit      Callback
}

// Service owns the mDNS advertiser and the admission TCP listener. The
// admitted-devices map is the one piece of state shared with the touch
// server: both read it, and it is mutated only by Service's admission
// path and by the touch server (UpsertDevice on RegisterDevice,
// RemoveDevice on connection close).
type Service struct {
	cfg Config
	adv *advertiser
	ln  net.Listener

	mu      sync.Mutex
	devices map[string]Device

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Service without starting it.
func New(cfg Config) *Service {
	return &Service{
		cfg:     cfg,
		devices: make(map[string]Device),
		stopCh:  make(chan struct{}),
	}
}

// Start registers the mDNS advertisement and spawns the admission TCP
// accept loop. It returns once both are listening.
func (s *Service) Start() error {
	adv, err := newAdvertiser(s.cfg.ServiceType, s.cfg.ComputerName, s.cfg.IP, s.cfg.DiscoverPort, s.cfg.LoginPort, s.cfg.BackendPort)
	if err != nil {
		return fmt.Errorf("discover: start mdns: %w", err)
	}
	s.adv = adv

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.IP.String(), s.cfg.LoginPort))
	if err != nil {
		adv.close()
		return fmt.Errorf("discover: listen admission port: %w", err)
	}
	s.ln = ln

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.adv.serve(func(err error) { logging.Error("mdns advertiser error", "error", err) })
	}()
	go s.acceptLoop()

	logging.Info("discovery service started", "discover_port", s.cfg.DiscoverPort, "login_port", s.cfg.LoginPort)
	return nil
}

func (s *Service) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				logging.Error("admission accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleAdmission(conn)
		}()
	}
}

// handleAdmission implements the one-round-trip AwaitHello -> {Accepted |
// Rejected} -> Closed state machine from spec §4.2.
func (s *Service) handleAdmission(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(clock.Now().Add(10 * time.Second))

	env, err := touchproto.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		logging.Warn("admission read failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	dv := env.DiscoverValidation
	if dv == nil {
		s.reject(conn, touchproto.RejectProtocolViolation)
		return
	}

	expected := xxh3.HashString(s.cfg.Seed)
	if dv.Checksum != expected {
		metrics.Get().AdmissionResults.WithLabelValues("checksum_mismatch").Inc()
		s.reject(conn, touchproto.RejectHelloCheckSumMismatch)
		return
	}

	ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		ip = conn.RemoteAddr().String()
	}

	s.mu.Lock()
	if _, exists := s.devices[ip]; exists {
		s.mu.Unlock()
		metrics.Get().AdmissionResults.WithLabelValues("duplicate_ip").Inc()
		s.reject(conn, touchproto.RejectRepeatedlyAddingDevice)
		return
	}
	device := Device{Name: dv.DeviceName, IP: ip, Width: dv.Width, Height: dv.Height}
	s.devices[ip] = device
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	welcome := &touchproto.Envelope{Welcome: &touchproto.Welcome{
		CertDER: s.cfg.Cert.DER,
		TSMs:    uint64(clock.Now().UnixMilli()),
	}}
	if err := touchproto.WriteFrame(conn, welcome); err != nil {
		logging.Warn("admission write welcome failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	metrics.Get().AdmissionResults.WithLabelValues("accepted").Inc()
	metrics.Get().AdmittedDevices.Set(float64(len(snapshot)))
	if s.cfg.OnAdmit != nil {
		s.cfg.OnAdmit(device, snapshot)
	}
}

func (s *Service) reject(conn net.Conn, reason touchproto.RejectReason) {
	env := &touchproto.Envelope{Reject: &touchproto.Reject{Reason: reason}}
	if err := touchproto.WriteFrame(conn, env); err != nil {
		logging.Warn("admission write reject failed", "remote", conn.RemoteAddr(), "error", err)
	}
}

func (s *Service) snapshotLocked() []Device {
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// Devices returns a snapshot of every currently admitted device.
func (s *Service) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UpsertDevice inserts or updates ip's entry in the admitted map. Called
// by the touch server when a transport stream's RegisterDevice frame
// names a device that never went through (or has since fallen out of)
// the admission handshake's map, so the two stay in sync per spec §4.3's
// first frame-routing row. Satisfies touchserver.DeviceRegistry.
func (s *Service) UpsertDevice(ip, name string, width, height uint32) {
	s.mu.Lock()
	s.devices[ip] = Device{Name: name, IP: ip, Width: width, Height: height}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	metrics.Get().AdmittedDevices.Set(float64(len(snapshot)))
}

// RemoveDevice removes ip from the admitted map. Called by the touch
// server when a connection's worker exits, so the map and live
// connections never drift out of sync (spec §7 propagation policy).
func (s *Service) RemoveDevice(ip string) {
	s.mu.Lock()
	delete(s.devices, ip)
	s.mu.Unlock()
}

// Close stops the admission accept loop and the mDNS advertiser,
// retrying the (logical) mDNS teardown up to 5 times with a 100ms
// backoff on a transient-busy condition, per spec §4.2's failure
// semantics.
func (s *Service) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.ln != nil {
		_ = s.ln.Close()
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if s.adv == nil {
			lastErr = nil
			break
		}
		if err := s.adv.close(); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		lastErr = nil
		break
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return lastErr
}
