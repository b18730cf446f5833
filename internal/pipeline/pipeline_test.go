package pipeline

import (
	"context"
	"testing"
	"time"

	"grimm.is/touchpad/internal/config"
	"grimm.is/touchpad/internal/emitter"
)

func TestResolveBindIPHonorsExplicitConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.IP = "192.168.1.50"
	ip, err := resolveBindIP(cfg)
	if err != nil {
		t.Fatalf("resolveBindIP failed: %v", err)
	}
	if ip.String() != "192.168.1.50" {
		t.Errorf("got %v, want 192.168.1.50", ip)
	}
}

func TestResolveBindIPRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.IP = "not-an-ip"
	if _, err := resolveBindIP(cfg); err == nil {
		t.Error("expected error for invalid configured ip")
	}
}

type fakeDevice struct {
	closed bool
	syncs  int
}

func (f *fakeDevice) Emit(evType, code uint16, value int32) error { return nil }
func (f *fakeDevice) SyncReport() error                           { f.syncs++; return nil }
func (f *fakeDevice) Close() error                                { f.closed = true; return nil }

// TestConsumerFlushesOnIdleWithoutFillingBatch exercises the batching
// consumer directly against a fake device, without any network or
// uinput dependency, covering the "partial batch flushed by the idle
// ticker" path distinct from the "batch filled to eventBatchSize" path.
func TestConsumerFlushesOnIdleWithoutFillingBatch(t *testing.T) {
	dev := &fakeDevice{}
	p := &Pipeline{
		emitter: emitter.New(dev),
		events:  make(chan emitter.Event, 4),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.consumeEvents(ctx)
		close(done)
	}()

	p.events <- emitter.Event{Point: &emitter.TouchPoint{Slot: 0, TrackingID: 0, X: 1, Y: 1, Status: emitter.Down}}

	time.Sleep(50 * time.Millisecond)
	if dev.syncs == 0 {
		t.Error("expected the single queued event to have been applied via the idle flush")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumeEvents did not exit after cancel")
	}
}
