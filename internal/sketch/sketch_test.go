package sketch

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"segflow/pkg/models"
)

func testFlow(endpoint, peer string, port uint16, ts time.Time) *models.FlowObservation {
	return &models.FlowObservation{
		Timestamp:  ts,
		EndpointID: endpoint,
		SourceID:   "edge-1",
		PeerID:     peer,
		Protocol:   "tcp",
		Port:       port,
		BytesIn:    100,
		BytesOut:   50,
		PacketsIn:  4,
		PacketsOut: 2,
	}
}

func TestSketchUpdateAccumulatesCountersAndTimestamps(t *testing.T) {
	sk, err := New("aa:bb:cc:00:00:01", "edge-1", DefaultConfig())
	if err != nil {
		t.Fatalf("new sketch: %v", err)
	}

	t0 := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	sk.Update(testFlow("aa:bb:cc:00:00:01", "10.0.0.2", 443, t0))
	sk.Update(testFlow("aa:bb:cc:00:00:01", "10.0.0.3", 443, t0.Add(time.Hour)))
	sk.Update(testFlow("aa:bb:cc:00:00:01", "10.0.0.2", 80, t0.Add(2*time.Hour)))

	snap := sk.Snapshot()
	if snap.FlowCount != 3 {
		t.Fatalf("flow count = %d, want 3", snap.FlowCount)
	}
	if snap.BytesIn != 300 || snap.BytesOut != 150 {
		t.Fatalf("bytes = %d/%d, want 300/150", snap.BytesIn, snap.BytesOut)
	}
	if !snap.FirstSeen.Equal(t0) {
		t.Fatalf("first seen = %v, want %v", snap.FirstSeen, t0)
	}
	if !snap.LastSeen.Equal(t0.Add(2 * time.Hour)) {
		t.Fatalf("last seen = %v", snap.LastSeen)
	}
	if snap.ActiveHourCount != 3 {
		t.Fatalf("active hours = %d, want 3 (9, 10, 11)", snap.ActiveHourCount)
	}
	if snap.UniquePeers < 1.5 || snap.UniquePeers > 2.5 {
		t.Fatalf("unique peers estimate = %.2f, want ~2", snap.UniquePeers)
	}
}

func TestSketchSyncVersionAdvancesOnEveryMutation(t *testing.T) {
	sk, _ := New("ep-1", "edge-1", DefaultConfig())
	if sk.SyncVersion() != 0 {
		t.Fatalf("fresh sketch version = %d, want 0", sk.SyncVersion())
	}
	sk.Update(testFlow("ep-1", "p1", 443, time.Now()))
	sk.Update(testFlow("ep-1", "p2", 443, time.Now()))
	if sk.SyncVersion() != 2 {
		t.Fatalf("version = %d after two updates, want 2", sk.SyncVersion())
	}
	sk.SetLocalCluster(4)
	if sk.SyncVersion() != 3 {
		t.Fatalf("version = %d after cluster hint, want 3", sk.SyncVersion())
	}
}

func TestSketchMergeRejectsDifferentEndpoint(t *testing.T) {
	a, _ := New("ep-a", "edge-1", DefaultConfig())
	b, _ := New("ep-b", "edge-2", DefaultConfig())
	if err := a.Merge(b); err == nil {
		t.Fatalf("expected endpoint mismatch error")
	}
}

func TestSketchMergeUnionsComponents(t *testing.T) {
	cfg := DefaultConfig()
	a, _ := New("ep-1", "edge-1", cfg)
	b, _ := New("ep-1", "edge-2", cfg)

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		a.Update(testFlow("ep-1", fmt.Sprintf("a-%d", i), 443, t0.Add(time.Duration(i)*time.Minute)))
		b.Update(testFlow("ep-1", fmt.Sprintf("b-%d", i), 80, t0.Add(-time.Duration(i)*time.Minute)))
	}

	if err := a.Merge(b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap := a.Snapshot()

	if snap.FlowCount != 100 {
		t.Fatalf("merged flow count = %d, want 100", snap.FlowCount)
	}
	if snap.UniquePeers < 90 || snap.UniquePeers > 110 {
		t.Fatalf("merged peer estimate = %.1f, want ~100", snap.UniquePeers)
	}
	if !snap.FirstSeen.Equal(t0.Add(-49 * time.Minute)) {
		t.Fatalf("merged first seen = %v", snap.FirstSeen)
	}
	if !snap.LastSeen.Equal(t0.Add(49 * time.Minute)) {
		t.Fatalf("merged last seen = %v", snap.LastSeen)
	}
}

func TestRegistryConcurrentUpdatesStayConsistent(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ep := fmt.Sprintf("ep-%d", i%10)
				if err := r.Apply(testFlow(ep, fmt.Sprintf("peer-%d-%d", w, i), 443, time.Now())); err != nil {
					t.Errorf("apply: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if r.Len() != 10 {
		t.Fatalf("registry tracks %d endpoints, want 10", r.Len())
	}
	snaps, errs := r.SnapshotAll()
	if len(errs) != 0 {
		t.Fatalf("unexpected snapshot errors: %v", errs)
	}
	var total uint64
	for _, s := range snaps {
		total += s.FlowCount
	}
	if total != 8*200 {
		t.Fatalf("total flows across snapshots = %d, want %d", total, 8*200)
	}
}

func TestRegistryRejectsEmptyEndpointID(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	if err := r.Apply(&models.FlowObservation{PeerID: "p"}); err == nil {
		t.Fatalf("expected error for empty endpoint id")
	}
}
