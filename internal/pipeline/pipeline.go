// Package pipeline wires the discovery service, transport server, touch
// emitter, and latency tracker into one running daemon: load config,
// pick a bind address, load a certificate, start both services, drain
// touch events into the emitter in batches, and shut everything down
// cleanly on signal. Grounded on the teacher's own daemon-assembly step
// (cmd.RunCtl in the deleted cmd package) for the shape of this wiring,
// though every concrete collaborator here is this module's own.
package pipeline

import (
	"context"
	"fmt"
	"net"
	"time"

	"grimm.is/touchpad/internal/config"
	"grimm.is/touchpad/internal/emitter"
	"grimm.is/touchpad/internal/latency"
	"grimm.is/touchpad/internal/logging"
	"grimm.is/touchpad/internal/metrics"
	"grimm.is/touchpad/internal/netiface"
	"grimm.is/touchpad/internal/pki"
	"grimm.is/touchpad/internal/services/discover"
	"grimm.is/touchpad/internal/services/touchserver"
)

// eventBatchSize bounds how many queued emitter.Events are drained and
// applied per Emitter.ApplyBatch call, per spec §4.4.
const eventBatchSize = 64

// serviceType is the mDNS service this host advertises itself under.
const serviceType = "_touchpad._tcp"

// Pipeline owns every long-lived component of one running touchpadd
// instance.
type Pipeline struct {
	cfg config.Config

	discovery *discover.Service
	transport *touchserver.Server
	emitter   *emitter.Emitter
	latency   *latency.Tracker
	certs     *pki.CertManager

	events chan emitter.Event

	stopConsumer context.CancelFunc
}

// New assembles a Pipeline from a loaded Config. It does not start
// anything; call Start for that.
func New(cfg config.Config) (*Pipeline, error) {
	bindIP, err := resolveBindIP(cfg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve bind ip: %w", err)
	}

	certDir := cfg.CertDir
	cm := pki.NewCertManager(certDir)
	cert, err := cm.Load(cfg.CertPEM, cfg.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load certificate: %w", err)
	}

	dev, err := emitter.OpenTouchpad("touchpadd-virtual-trackpad", 0xFFFF, 0xFFFF)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open uinput device: %w", err)
	}
	em := emitter.New(dev)
	em.SetSensitivity(cfg.Sensitivity)
	em.SetInvertX(cfg.InvertX)
	em.SetInvertY(cfg.InvertY)

	lat := latency.NewTracker(cfg.LatencyWindow)
	events := make(chan emitter.Event, cfg.EventQueueSize)

	p := &Pipeline{cfg: cfg, emitter: em, latency: lat, certs: cm, events: events}

	discovery := discover.New(discover.Config{
		ServiceType:  serviceType,
		ComputerName: cfg.ComputerName,
		IP:           bindIP,
		DiscoverPort: cfg.DiscoverPort,
		LoginPort:    cfg.LoginPort,
		BackendPort:  cfg.BackendPort,
		Seed:         cfg.Seed,
		Cert:         cert,
		OnAdmit: func(added discover.Device, all []discover.Device) {
			logging.Info("device admitted", "device", added.Name, "ip", added.IP, "total_admitted", len(all))
		},
	})

	transport := touchserver.New(touchserver.Config{
		Addr:     fmt.Sprintf("%s:%d", bindIP.String(), cfg.BackendPort),
		Cert:     cert,
		Registry: discovery,
		Events:   events,
		Latency:  lat,
	})

	p.discovery = discovery
	p.transport = transport
	return p, nil
}

// resolveBindIP honors an explicit cfg.IP, falling back to the first
// mDNS-capable interface's address (internal/netiface) per spec §4.1.
func resolveBindIP(cfg config.Config) (net.IP, error) {
	if cfg.IP != "" {
		ip := net.ParseIP(cfg.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip %q in config", cfg.IP)
		}
		return ip, nil
	}
	return netiface.FirstBindIP()
}

// Start brings up the certificate auto-renewal loop, both network
// services, and the touch-event consumer worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.certs.StartAutoRenew(ctx, 24*time.Hour)

	if err := p.discovery.Start(); err != nil {
		return fmt.Errorf("pipeline: start discovery: %w", err)
	}
	if err := p.transport.Start(); err != nil {
		_ = p.discovery.Close(context.Background())
		return fmt.Errorf("pipeline: start transport: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	p.stopConsumer = cancel
	go p.consumeEvents(consumerCtx)

	logging.Info("touchpadd pipeline started",
		"discover_port", p.cfg.DiscoverPort, "login_port", p.cfg.LoginPort, "backend_port", p.cfg.BackendPort)
	return nil
}

// consumeEvents drains queued touch/tune events in batches of up to
// eventBatchSize and applies them to the emitter, per spec §4.4. A
// short idle timer flushes a partial batch so a slow trickle of events
// isn't held indefinitely waiting to fill a batch.
func (p *Pipeline) consumeEvents(ctx context.Context) {
	batch := make([]emitter.Event, 0, eventBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.emitter.ApplyBatch(batch); err != nil {
			metrics.Get().EmitErrors.Inc()
			logging.Error("emit batch failed", "error", err)
		}
		batch = batch[:0]
	}

	idle := time.NewTicker(10 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-p.events:
			batch = append(batch, ev)
			if len(batch) >= eventBatchSize {
				flush()
			}
		case <-idle.C:
			flush()
		}
	}
}

// Close stops the touch-event consumer and shuts down the transport and
// discovery services, transport first so no new device admission can
// race an in-progress teardown.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.stopConsumer != nil {
		p.stopConsumer()
	}

	var firstErr error
	if err := p.transport.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.discovery.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.emitter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
