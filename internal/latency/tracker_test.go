package latency

import (
	"math"
	"testing"
)

func TestRecordPacketNegativeLatencyReturnsFalse(t *testing.T) {
	tr := NewTracker(10)
	tr.SetClockOffset(0)
	_, ok := tr.RecordPacket(1, 1000, 500_000) // server_us - client_us(1_000_000) < 0
	if ok {
		t.Fatal("expected ok=false for negative latency")
	}
}

func TestScenarioS6LatencyWithOffset(t *testing.T) {
	tr := NewTracker(100)
	tr.SetClockOffset(100)
	s, ok := tr.RecordPacket(1, 1000, 1_200_000)
	if !ok {
		t.Fatal("expected a sample")
	}
	if s.CurrentUs != 300000 {
		t.Errorf("CurrentUs = %d, want 300000", s.CurrentUs)
	}
}

func TestLossAccounting(t *testing.T) {
	tr := NewTracker(100)
	seqs := []uint32{0, 1, 2, 5, 6, 10}
	var lastLoss uint64
	for _, seq := range seqs {
		s, ok := tr.RecordPacket(seq, 0, 1000)
		if !ok {
			t.Fatalf("unexpected negative latency for seq %d", seq)
		}
		lastLoss = uint64(math.Round(s.LossPct / 100 * float64(s.Total)))
	}
	// expected sequence after seq=2 is 3; seq=5 skips 3,4 (+2 lost), expected
	// becomes 6; seq=10 skips 7,8,9 (+3 lost) => lost=5, total=6
	wantLoss := float64(5) / float64(6) * 100
	s := tr.Snapshot()
	if math.Abs(s.LossPct-wantLoss) > 0.01 {
		t.Errorf("LossPct = %v, want %v", s.LossPct, wantLoss)
	}
	_ = lastLoss
}

func TestWindowedAverageEvictsOldest(t *testing.T) {
	tr := NewTracker(2)
	tr.SetClockOffset(0)
	tr.RecordPacket(1, 0, 1000)
	tr.RecordPacket(2, 0, 3000)
	s, _ := tr.RecordPacket(3, 0, 5000) // evicts the 1000 sample
	if s.AvgUs != 4000 {
		t.Errorf("AvgUs = %d, want 4000 (mean of 3000,5000)", s.AvgUs)
	}
	if s.MinUs != 1000 {
		t.Errorf("MinUs = %d, want 1000 (lifetime running min)", s.MinUs)
	}
	if s.MaxUs != 5000 {
		t.Errorf("MaxUs = %d, want 5000", s.MaxUs)
	}
}

func TestResetClearsState(t *testing.T) {
	tr := NewTracker(10)
	tr.SetClockOffset(0)
	tr.RecordPacket(5, 0, 1000)
	tr.Reset()
	s := tr.Snapshot()
	if s.Total != 0 || s.CurrentUs != 0 || s.LastSeq != 0 {
		t.Errorf("expected zeroed sample after Reset, got %+v", s)
	}
}
