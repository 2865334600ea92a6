package cluster

import (
	"context"
	"fmt"
	"testing"

	"segflow/internal/features"
)

func TestReconcileKeepsNearestMatchAndAllocatesNew(t *testing.T) {
	prev := map[int][]float64{
		3: {0.1, 0.1},
		7: {0.9, 0.9},
	}
	curr := map[int]*ClusterStat{
		0: {ClusterID: 0, Centroid: []float64{0.88, 0.91}},
		1: {ClusterID: 1, Centroid: []float64{0.12, 0.09}},
		2: {ClusterID: 2, Centroid: []float64{0.5, 0.5}},
	}

	next := 100
	remap := Reconcile(prev, curr, 0.15, func() int {
		id := next
		next++
		return id
	})

	if remap[0] != 7 {
		t.Fatalf("cluster 0 remapped to %d, want previous id 7", remap[0])
	}
	if remap[1] != 3 {
		t.Fatalf("cluster 1 remapped to %d, want previous id 3", remap[1])
	}
	if remap[2] != 100 {
		t.Fatalf("unmatched cluster remapped to %d, want fresh id 100", remap[2])
	}
}

func TestReconcileRespectsDistanceThreshold(t *testing.T) {
	prev := map[int][]float64{1: {0, 0}}
	curr := map[int]*ClusterStat{0: {ClusterID: 0, Centroid: []float64{0.5, 0.5}}}

	remap := Reconcile(prev, curr, 0.1, func() int { return 42 })
	if remap[0] != 42 {
		t.Fatalf("distant cluster should get a fresh id, got %d", remap[0])
	}
}

func TestReconcileNeverDoubleClaimsAPreviousID(t *testing.T) {
	prev := map[int][]float64{5: {0.5, 0.5}}
	curr := map[int]*ClusterStat{
		0: {ClusterID: 0, Centroid: []float64{0.5, 0.52}},
		1: {ClusterID: 1, Centroid: []float64{0.5, 0.55}},
	}

	next := 200
	remap := Reconcile(prev, curr, 0.2, func() int {
		id := next
		next++
		return id
	})
	if remap[0] != 5 {
		t.Fatalf("nearest cluster should claim id 5, got %d", remap[0])
	}
	if remap[1] != 200 {
		t.Fatalf("second cluster must not reuse id 5, got %d", remap[1])
	}
}

func TestEngineClusterIDContinuityAcrossRuns(t *testing.T) {
	engine := NewEngine(Config{Eps: 0.2, MinSamples: 4, MinClusterSize: 10}, DefaultAssignConfig(), 0.5)

	base := twoBlobVectors(40, 0)
	first, err := engine.RunBatch(context.Background(), base)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(first.Clusters) != 2 {
		t.Fatalf("first batch found %d clusters, want 2", len(first.Clusters))
	}

	firstIDFor := make(map[byte]int)
	for i, v := range base {
		if first.Labels[i] >= 0 {
			firstIDFor[v.EndpointID[0]] = first.Labels[i]
		}
	}

	// Same population plus 5% new endpoints matching blob a's behavior.
	grown := append([]features.Vector{}, base...)
	extra := twoBlobVectors(2, 0)
	for i, v := range extra {
		if v.EndpointID[0] == 'a' {
			v.EndpointID = fmt.Sprintf("new-a-%d", i)
			grown = append(grown, v)
		}
	}

	second, err := engine.RunBatch(context.Background(), grown)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(second.Clusters) != 2 {
		t.Fatalf("second batch found %d clusters, want 2", len(second.Clusters))
	}

	secondIDFor := make(map[byte]int)
	for i, v := range grown {
		if second.Labels[i] >= 0 && v.EndpointID[0] != 'n' {
			secondIDFor[v.EndpointID[0]] = second.Labels[i]
		}
	}

	for _, group := range []byte{'a', 'b'} {
		if firstIDFor[group] != secondIDFor[group] {
			t.Fatalf("group %c cluster id changed across runs: %d -> %d",
				group, firstIDFor[group], secondIDFor[group])
		}
	}
}
