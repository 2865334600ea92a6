package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"segflow/internal/features"
	"segflow/pkg/models"
)

// twoBlobVectors builds two tight groups in feature space plus a few
// far-away stragglers.
func twoBlobVectors(perGroup, stragglers int) []features.Vector {
	rng := rand.New(rand.NewSource(7))
	var out []features.Vector
	add := func(name string, base []float64, jitter float64) {
		values := make([]float64, len(base))
		for d, v := range base {
			values[d] = v + (rng.Float64()-0.5)*jitter
		}
		out = append(out, features.Vector{EndpointID: name, Values: values})
	}

	a := []float64{0.1, 0.1, 0.1, 0.2, 0.3, 0.4, 0.5, 0, 0, 0}
	b := []float64{0.9, 0.8, 0.7, 0.8, 0.7, 0.6, 0.5, 0, 0, 0}
	for i := 0; i < perGroup; i++ {
		add(fmt.Sprintf("a-%d", i), a, 0.04)
		add(fmt.Sprintf("b-%d", i), b, 0.04)
	}
	for i := 0; i < stragglers; i++ {
		add(fmt.Sprintf("s-%d", i), []float64{float64(i) * 0.13, 0.5, 0.9, 0.1, 0.05, 0.9, 0.2, 1, 0.5, 0.4}, 0)
	}
	return out
}

func TestRunFindsTwoClustersAndNoise(t *testing.T) {
	vectors := twoBlobVectors(40, 3)
	cfg := Config{Eps: 0.2, MinSamples: 4, MinClusterSize: 10}

	result, err := Run(context.Background(), vectors, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.AllNoise {
		t.Fatalf("unexpected all-noise result")
	}
	if len(result.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(result.Clusters))
	}

	noiseCount := 0
	for _, a := range result.Assignments {
		switch a.Status {
		case models.StatusNoise:
			if a.ClusterID != models.NoiseClusterID {
				t.Fatalf("noise assignment has cluster id %d", a.ClusterID)
			}
			if a.Confidence != 0 {
				t.Fatalf("noise assignment has confidence %f", a.Confidence)
			}
			noiseCount++
		case models.StatusAssigned:
			if a.Confidence <= 0 || a.Confidence > 1 {
				t.Fatalf("assignment confidence %f outside (0,1]", a.Confidence)
			}
		default:
			t.Fatalf("unexpected status %s from batch clusterer", a.Status)
		}
	}
	if noiseCount != 3 {
		t.Fatalf("noise count = %d, want 3 stragglers", noiseCount)
	}
}

func TestRunDeterministicOnFixedInput(t *testing.T) {
	vectors := twoBlobVectors(30, 5)
	cfg := Config{Eps: 0.2, MinSamples: 4, MinClusterSize: 8}

	first, err := Run(context.Background(), vectors, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for rerun := 0; rerun < 3; rerun++ {
		again, err := Run(context.Background(), vectors, cfg)
		if err != nil {
			t.Fatalf("rerun %d: %v", rerun, err)
		}
		if len(again.Labels) != len(first.Labels) {
			t.Fatalf("label count changed across reruns")
		}
		for i := range first.Labels {
			if first.Labels[i] != again.Labels[i] {
				t.Fatalf("label for %s changed: %d != %d",
					vectors[i].EndpointID, first.Labels[i], again.Labels[i])
			}
		}
	}
}

func TestRunTooFewPointsIsValidAllNoise(t *testing.T) {
	vectors := twoBlobVectors(2, 0) // 4 points
	cfg := Config{Eps: 0.2, MinSamples: 3, MinClusterSize: 10}

	result, err := Run(context.Background(), vectors, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.AllNoise {
		t.Fatalf("expected all-noise terminal state")
	}
	for _, a := range result.Assignments {
		if a.Status != models.StatusNoise || a.ClusterID != models.NoiseClusterID {
			t.Fatalf("expected every point noise, got %+v", a)
		}
	}
}

func TestRunDemotesUndersizedClusters(t *testing.T) {
	// One big blob and one tiny blob below MinClusterSize.
	vectors := twoBlobVectors(4, 0)
	big := twoBlobVectors(30, 0)
	for _, v := range big {
		if v.EndpointID[0] == 'a' {
			vectors = append(vectors, v)
		}
	}

	cfg := Config{Eps: 0.2, MinSamples: 3, MinClusterSize: 12}
	result, err := Run(context.Background(), vectors, cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Clusters) != 1 {
		t.Fatalf("got %d clusters, want 1 after demotion", len(result.Clusters))
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	vectors := twoBlobVectors(50, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, vectors, Config{Eps: 0.2, MinSamples: 4, MinClusterSize: 8}); err == nil {
		t.Fatalf("expected context error from cancelled run")
	}
}
