package stats

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorRecordAndShowStats(t *testing.T) {
	c := NewCollector()
	defer c.Stop()

	c.RecordExplore(1, time.Millisecond, 0)
	c.RecordDig(3, time.Millisecond, true, 0)
	c.RecordDig(3, time.Millisecond, false, 0)
	c.RecordCash(3, 50, time.Millisecond, 0)
	c.RecordLicense(time.Millisecond, 0)

	report := c.ShowStats()
	if !strings.Contains(report, "total: 5") {
		t.Errorf("report missing total: %q", report)
	}
	if !strings.Contains(report, "found rate") {
		t.Errorf("report missing found rate: %q", report)
	}
}

func TestCollectorSnapshotFoundRate(t *testing.T) {
	c := NewCollector()
	defer c.Stop()

	c.RecordDig(5, time.Millisecond, true, 0)
	c.RecordDig(5, time.Millisecond, true, 0)
	c.RecordDig(5, time.Millisecond, false, 0)

	snap := c.Snapshot()
	if snap.Dig.Total != 3 {
		t.Fatalf("Dig.Total = %v, want 3", snap.Dig.Total)
	}
	if snap.DigFound != 2 {
		t.Fatalf("DigFound = %v, want 2", snap.DigFound)
	}
	entry := snap.DigFoundPerDepth[5]
	if entry[0] != 3 || entry[1] != 2 {
		t.Fatalf("DigFoundPerDepth[5] = %v, want [3 2]", entry)
	}
}

func TestCollectorTracksErrorCodes(t *testing.T) {
	c := NewCollector()
	defer c.Stop()

	c.RecordCash(1, 0, time.Millisecond, 500)
	c.RecordCash(1, 0, time.Millisecond, 500)
	c.RecordCash(1, 0, time.Millisecond, 400)

	snap := c.Snapshot()
	if snap.Cash.Err != 3 {
		t.Fatalf("Cash.Err = %v, want 3", snap.Cash.Err)
	}
	if len(snap.Cash.ErrCodes) != 2 {
		t.Fatalf("Cash.ErrCodes = %v, want 2 distinct codes", snap.Cash.ErrCodes)
	}
}

func TestCollectorTracksTotalCoins(t *testing.T) {
	c := NewCollector()
	defer c.Stop()

	c.RecordCash(3, 50, time.Millisecond, 0)
	c.RecordCash(4, 75, time.Millisecond, 0)
	c.RecordCash(2, 999, time.Millisecond, 500) // failed cash, must not count

	snap := c.Snapshot()
	if snap.TotalCoins != 125 {
		t.Fatalf("TotalCoins = %d, want 125", snap.TotalCoins)
	}
}

func TestCollectorStopAndSendAfterStopAreSafe(t *testing.T) {
	c := NewCollector()
	c.RecordExplore(1, time.Millisecond, 0)
	c.Stop()
	// Stop must not panic or hang; sending after stop is a no-op.
	c.RecordExplore(1, time.Millisecond, 0)
}
