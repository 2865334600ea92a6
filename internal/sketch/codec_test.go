package sketch

import (
	"fmt"
	"testing"
	"time"

	"segflow/pkg/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sk, err := New("host-1", "site-a", DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ts := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 200; i++ {
		sk.Update(&models.FlowObservation{
			Timestamp:  ts.Add(time.Duration(i) * time.Minute),
			EndpointID: "host-1",
			PeerID:     fmt.Sprintf("peer-%d", i%40),
			Protocol:   "tcp",
			Port:       443,
			BytesIn:    100,
			BytesOut:   50,
		})
	}

	data, err := sk.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	a, b := sk.Snapshot(), got.Snapshot()
	if a.UniquePeers != b.UniquePeers || a.FlowCount != b.FlowCount {
		t.Fatalf("round trip changed state: %+v vs %+v", a, b)
	}
	if a.ActiveHours != b.ActiveHours || a.SyncVersion != b.SyncVersion {
		t.Fatalf("round trip lost metadata: %+v vs %+v", a, b)
	}
	if got.PortFrequency("tcp", 443) != sk.PortFrequency("tcp", 443) {
		t.Fatalf("round trip changed frequency estimate")
	}
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	cases := []string{
		`not json`,
		`{"peers":{"p":12,"r":""}}`, // empty endpoint id
		`{"endpoint_id":"h","peers":{"p":12,"r":"AAA="}}`, // register count mismatch
	}
	for _, data := range cases {
		if _, err := Decode([]byte(data)); err == nil {
			t.Errorf("Decode accepted corrupt payload %q", data)
		}
	}
}

func TestExportSinceAndRemoteMerge(t *testing.T) {
	local := NewRegistry(DefaultConfig())
	remote := NewRegistry(DefaultConfig())

	flow := func(endpoint, peer string) *models.FlowObservation {
		return &models.FlowObservation{
			Timestamp:  time.Now().UTC(),
			EndpointID: endpoint,
			PeerID:     peer,
			Protocol:   "tcp",
			Port:       22,
			BytesIn:    10,
		}
	}

	pull := func() {
		t.Helper()
		deltas, err := remote.ExportSince(0)
		if err != nil {
			t.Fatalf("ExportSince failed: %v", err)
		}
		if len(deltas) != 1 {
			t.Fatalf("exported %d deltas, want 1", len(deltas))
		}
		for _, payload := range deltas {
			sk, err := Decode(payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if err := local.MergeRemote("site-b", sk); err != nil {
				t.Fatalf("MergeRemote failed: %v", err)
			}
		}
	}

	for i := 0; i < 50; i++ {
		if err := remote.Apply(flow("host-1", fmt.Sprintf("peer-%d", i))); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	// Pull the same cumulative payload twice; the slot replacement keeps
	// both the estimators and the exact counters at their true values.
	pull()
	pull()

	snap := local.Snapshot("host-1")
	if snap == nil {
		t.Fatalf("merged endpoint missing from local registry")
	}
	if snap.UniquePeers < 45 || snap.UniquePeers > 55 {
		t.Fatalf("peer estimate %f far from 50 after double pull", snap.UniquePeers)
	}
	if snap.FlowCount != 50 || snap.BytesIn != 500 {
		t.Fatalf("counters inflated by double pull: flows=%d bytes_in=%d, want 50/500",
			snap.FlowCount, snap.BytesIn)
	}

	// A newer cumulative payload from the same source replaces the slot
	// rather than stacking on top of the previous pull.
	for i := 50; i < 60; i++ {
		if err := remote.Apply(flow("host-1", fmt.Sprintf("peer-%d", i))); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	pull()

	snap = local.Snapshot("host-1")
	if snap.FlowCount != 60 || snap.BytesIn != 600 {
		t.Fatalf("counters inflated by cumulative re-pull: flows=%d bytes_in=%d, want 60/600",
			snap.FlowCount, snap.BytesIn)
	}

	// Nothing newer than the current max version remains to export.
	floor := remote.MaxSyncVersion()
	again, err := remote.ExportSince(floor)
	if err != nil {
		t.Fatalf("ExportSince failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("export floor ignored: %d deltas", len(again))
	}
}

func TestLocalAndRemoteStateCombine(t *testing.T) {
	local := NewRegistry(DefaultConfig())
	ts := time.Now().UTC()

	for i := 0; i < 5; i++ {
		err := local.Apply(&models.FlowObservation{
			Timestamp:  ts,
			EndpointID: "host-1",
			PeerID:     fmt.Sprintf("local-peer-%d", i),
			Protocol:   "tcp",
			Port:       443,
			BytesIn:    100,
		})
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}

	remote, err := New("host-1", "site-b", DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		remote.Update(&models.FlowObservation{
			Timestamp:  ts,
			EndpointID: "host-1",
			PeerID:     fmt.Sprintf("remote-peer-%d", i),
			Protocol:   "tcp",
			Port:       443,
			BytesOut:   100,
		})
	}
	if err := local.MergeRemote("site-b", remote); err != nil {
		t.Fatalf("MergeRemote failed: %v", err)
	}

	snap := local.Snapshot("host-1")
	if snap.FlowCount != 10 || snap.BytesIn != 500 || snap.BytesOut != 500 {
		t.Fatalf("combined view = flows %d in %d out %d, want 10/500/500",
			snap.FlowCount, snap.BytesIn, snap.BytesOut)
	}

	// The export surface carries local observations only; the remote
	// slot is never re-published under this node's identity.
	deltas, err := local.ExportSince(0)
	if err != nil {
		t.Fatalf("ExportSince failed: %v", err)
	}
	sk, err := Decode(deltas["host-1"])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := sk.Snapshot(); got.FlowCount != 5 || got.BytesOut != 0 {
		t.Fatalf("export leaked remote state: flows=%d bytes_out=%d", got.FlowCount, got.BytesOut)
	}
}
