// Package touchserver accepts encrypted multi-stream transport
// connections and routes decoded frames to the touch-event and
// latency-tracking consumers.
//
// Grounded structurally on original_source/server/backend/src/
// touch_server.rs (TouchServer{endpoint, shutdown, connections}, the
// wait_connect accept loop, per-connection close) — its handle_stream is
// a toy echo stub in that source and is not reused; the frame-routing
// table in handleStream is authored fresh from spec §4.3.
package touchserver

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"grimm.is/touchpad/internal/clock"
	"grimm.is/touchpad/internal/emitter"
	"grimm.is/touchpad/internal/latency"
	"grimm.is/touchpad/internal/logging"
	"grimm.is/touchpad/internal/metrics"
	"grimm.is/touchpad/internal/pki"
	"grimm.is/touchpad/internal/touchproto"
)

const (
	maxIncomingStreams = 100
	maxIdleTimeout     = 24 * time.Hour
	keepAlivePeriod    = 25 * time.Second
)

// DeviceRegistry is the subset of discover.Service the touch server
// needs: upsert on RegisterDevice, remove on worker exit. Expressed as
// an interface (spec §9's cyclic-lifetime-risk note: the server never
// holds a reference back to Discovery, only to this narrow seam).
type DeviceRegistry interface {
	UpsertDevice(ip, name string, width, height uint32)
	RemoveDevice(ip string)
}

// Config configures one Server.
type Config struct {
	Addr     string
	Cert     *pki.LoadedCert
	Registry DeviceRegistry
	Events   chan<- emitter.Event
	Latency  *latency.Tracker
}

// Server owns the QUIC listener and the live connection set. Per spec
// §9, the connections map holds only what a worker needs to be closed
// from the outside — a connection handle and its done channel — never a
// reference back to the Server itself.
type Server struct {
	cfg Config
	ln  *quic.Listener

	mu          sync.Mutex
	connections map[string]*connEntry

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

type connEntry struct {
	conn *quic.Conn
	done chan struct{}
}

func New(cfg Config) *Server {
	return &Server{
		cfg:         cfg,
		connections: make(map[string]*connEntry),
		stopCh:      make(chan struct{}),
	}
}

// Start opens the QUIC listener and spawns the connection acceptor
// worker. The touch-event consumer is a separate long-lived worker that
// the pipeline orchestrator runs against this server's Events channel.
// Latency samples are recorded into the Latency tracker and exported as
// metrics directly by the stream handlers; no separate latency
// broadcaster worker runs.
func (s *Server) Start() error {
	tlsConf := tlsConfigFromCert(s.cfg.Cert)
	quicConf := &quic.Config{
		MaxIncomingStreams: maxIncomingStreams,
		MaxIdleTimeout:     maxIdleTimeout,
		KeepAlivePeriod:    keepAlivePeriod,
	}

	ln, err := quic.ListenAddr(s.cfg.Addr, tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("touchserver: listen: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	logging.Info("touch server started", "addr", s.cfg.Addr)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		conn, err := s.ln.Accept(ctx)
		cancel()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				logging.Error("touch server accept error", "error", err)
				continue
			}
		}

		id := s.register(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(id, conn)
		}()
	}
}

func (s *Server) register(conn *quic.Conn) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.connections[id] = &connEntry{conn: conn, done: make(chan struct{})}
	metrics.Get().ActiveConnections.Set(float64(len(s.connections)))
	s.mu.Unlock()
	return id
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	entry, ok := s.connections[id]
	delete(s.connections, id)
	metrics.Get().ActiveConnections.Set(float64(len(s.connections)))
	s.mu.Unlock()
	if ok {
		close(entry.done)
	}
}

// connState is the mutable state shared by every stream on one
// connection: the clock offset is set exactly once (first RegisterDevice
// wins, per spec's data-model invariant), and the device IP is recorded
// for removal from the registry when the connection ends. A mutex
// guards both fields since concurrent streams on one connection may
// each carry a RegisterDevice frame.
type connState struct {
	conn *quic.Conn

	mu             sync.Mutex
	clockOffsetSet bool
	deviceIP       string
}

func (c *connState) claimOffset() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clockOffsetSet {
		return false
	}
	c.clockOffsetSet = true
	return true
}

func (c *connState) setDeviceIP(ip string) {
	c.mu.Lock()
	c.deviceIP = ip
	c.mu.Unlock()
}

func (c *connState) getDeviceIP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceIP
}

// handleConnection accepts bidirectional streams on one connection,
// each handled by its own frame-routing loop, until the connection
// closes or shutdown is signaled.
func (s *Server) handleConnection(id string, conn *quic.Conn) {
	state := &connState{conn: conn}

	defer func() {
		if ip := state.getDeviceIP(); ip != "" && s.cfg.Registry != nil {
			s.cfg.Registry.RemoveDevice(ip)
		}
		s.unregister(id)
	}()

	var streamWG sync.WaitGroup
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			streamWG.Wait()
			return
		}
		streamWG.Add(1)
		s.wg.Add(1)
		go func() {
			defer streamWG.Done()
			defer s.wg.Done()
			s.handleStream(stream, state)
		}()
	}
}

// handleStream decodes frames from one bidirectional stream and routes
// them per the table in spec §4.3, mutating the connection-wide state
// shared across all of this connection's streams.
func (s *Server) handleStream(stream *quic.Stream, state *connState) {
	r := bufio.NewReader(stream)
	for {
		env, err := touchproto.ReadFrame(r)
		if err != nil {
			return
		}

		switch {
		case env.RegisterDevice != nil:
			rd := env.RegisterDevice
			state.setDeviceIP(rd.IP)
			if s.cfg.Registry != nil {
				s.cfg.Registry.UpsertDevice(rd.IP, rd.DeviceName, rd.Width, rd.Height)
			}
			if state.claimOffset() {
				nowMs := clock.Now().UnixMilli()
				s.cfg.Latency.SetClockOffset(rd.SendTS - nowMs)
			}

		case env.TouchPacket != nil:
			tp := env.TouchPacket
			nowUs := clock.Now().UnixMicro()
			if sample, ok := s.cfg.Latency.RecordPacket(tp.Seq, tp.TSMs, nowUs); ok {
				metrics.Get().LatencyMicros.Observe(float64(sample.CurrentUs))
				metrics.Get().PacketLoss.Set(sample.LossPct)
			}
			for _, p := range tp.Pointers {
				point, ok := pointerToTouchPoint(p)
				if !ok {
					continue
				}
				metrics.Get().TouchEvents.WithLabelValues(point.Status.String()).Inc()
				select {
				case s.cfg.Events <- emitter.Event{Point: &point}:
				default:
					metrics.Get().TouchEventsDropped.Inc()
				}
			}

		case env.SettingRequest != nil:
			tune := emitter.TuneSetting{
				Sensitivity: env.SettingRequest.Value.Sensitivity,
				InvertX:     env.SettingRequest.Value.InvertX,
				InvertY:     env.SettingRequest.Value.InvertY,
			}
			select {
			case s.cfg.Events <- emitter.Event{Tune: &tune}:
			default:
				metrics.Get().TouchEventsDropped.Inc()
			}

		case env.Exit != nil:
			stream.Close()
			state.conn.CloseWithError(0, "client exit")
			return

		default:
			// Ignore any other variant on a transport stream.
		}
	}
}

// pointerToTouchPoint implements the Pointer -> TouchPoint mapping from
// spec §4.3: Unspecified/unknown event types are skipped.
func pointerToTouchPoint(p touchproto.Pointer) (emitter.TouchPoint, bool) {
	switch p.EventType {
	case touchproto.EventDown:
		return emitter.TouchPoint{Slot: p.ID, TrackingID: int32(p.ID), X: p.AbsX, Y: p.AbsY, Status: emitter.Down}, true
	case touchproto.EventMove:
		return emitter.TouchPoint{Slot: p.ID, TrackingID: int32(p.ID), X: p.AbsX, Y: p.AbsY, Status: emitter.Move}, true
	case touchproto.EventUp, touchproto.EventCancel:
		return emitter.TouchPoint{Slot: p.ID, TrackingID: -1, Status: emitter.Up}, true
	default:
		return emitter.TouchPoint{}, false
	}
}

// Close broadcasts the shutdown signal, closes every live connection
// with reason "shutdown", and awaits every worker's completion — the
// ConnectionAcceptor/TouchConsumer/LatencyBroadcaster/ConnectionClose(id)
// tagged-stop scheme from spec §4.3 collapses here to a single stop
// channel plus an explicit close of each tracked connection, since Go's
// per-goroutine cancellation makes a broadcast enum unnecessary.
func (s *Server) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	entries := make([]*connEntry, 0, len(s.connections))
	for _, e := range s.connections {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.conn.CloseWithError(0, "shutdown")
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
