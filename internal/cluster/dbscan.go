// Package cluster groups endpoint feature vectors into behaviorally
// coherent clusters and keeps cluster identity stable across runs.
package cluster

import (
	"context"
	"math"

	"segflow/internal/features"
	"segflow/pkg/models"
)

// Config controls the batch clusterer.
type Config struct {
	// Eps is the neighborhood radius in feature space.
	Eps float64
	// MinSamples is the neighbor count that makes a point a core point.
	MinSamples int
	// MinClusterSize demotes smaller clusters to noise after expansion.
	MinClusterSize int
}

// DefaultConfig returns clustering parameters suited to populations of a
// few hundred to a few thousand endpoints.
func DefaultConfig() Config {
	return Config{
		Eps:            0.3,
		MinSamples:     5,
		MinClusterSize: 10,
	}
}

// BatchResult is the outcome of one full clustering pass over a feature
// matrix. An all-noise result is a valid terminal state, not an error.
type BatchResult struct {
	RunID       string
	Labels      []int // parallel to the input vectors; NoiseClusterID for noise
	Clusters    map[int]*ClusterStat
	Assignments []*models.Assignment
	AllNoise    bool
}

// ClusterStat carries the geometry of one discovered cluster.
type ClusterStat struct {
	ClusterID int
	Members   []int // input indexes
	Centroid  []float64
	Quality   float64 // 1/(1+mean distance to centroid)
}

const (
	unvisited = -2
	noise     = models.NoiseClusterID
)

// Run performs deterministic density-based clustering over the vectors:
// identical input in identical order always yields identical assignments.
// The context is consulted between seed points so a superseded run can
// stop early.
func Run(ctx context.Context, vectors []features.Vector, cfg Config) (*BatchResult, error) {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	if n < cfg.MinClusterSize {
		// Too few eligible points to form any cluster.
		return allNoiseResult(vectors), nil
	}

	nextLabel := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		neighbors := regionQuery(vectors, i, cfg.Eps)
		if len(neighbors) < cfg.MinSamples {
			labels[i] = noise
			continue
		}

		labels[i] = nextLabel
		expand(vectors, labels, neighbors, nextLabel, cfg)
		nextLabel++
	}

	// Demote undersized clusters to noise.
	sizes := make(map[int]int)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	for i, l := range labels {
		if l >= 0 && sizes[l] < cfg.MinClusterSize {
			labels[i] = noise
		}
	}

	return buildResult(vectors, labels), nil
}

func expand(vectors []features.Vector, labels []int, seeds []int, label int, cfg Config) {
	for k := 0; k < len(seeds); k++ {
		j := seeds[k]
		if labels[j] == noise {
			labels[j] = label
			continue
		}
		if labels[j] != unvisited {
			continue
		}
		labels[j] = label

		neighbors := regionQuery(vectors, j, cfg.Eps)
		if len(neighbors) >= cfg.MinSamples {
			seeds = append(seeds, neighbors...)
		}
	}
}

func regionQuery(vectors []features.Vector, i int, eps float64) []int {
	var out []int
	for j := range vectors {
		if euclidean(vectors[i].Values, vectors[j].Values) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func buildResult(vectors []features.Vector, labels []int) *BatchResult {
	clusters := make(map[int]*ClusterStat)
	for i, l := range labels {
		if l < 0 {
			continue
		}
		cs := clusters[l]
		if cs == nil {
			cs = &ClusterStat{ClusterID: l}
			clusters[l] = cs
		}
		cs.Members = append(cs.Members, i)
	}

	for _, cs := range clusters {
		cs.Centroid = centroid(vectors, cs.Members)
		var sum float64
		for _, idx := range cs.Members {
			sum += euclidean(vectors[idx].Values, cs.Centroid)
		}
		mean := sum / float64(len(cs.Members))
		cs.Quality = 1.0 / (1.0 + mean)
	}

	assignments := make([]*models.Assignment, len(vectors))
	for i, v := range vectors {
		l := labels[i]
		if l < 0 {
			assignments[i] = &models.Assignment{
				EndpointID: v.EndpointID,
				ClusterID:  models.NoiseClusterID,
				Confidence: 0,
				Status:     models.StatusNoise,
			}
			continue
		}
		d := euclidean(v.Values, clusters[l].Centroid)
		assignments[i] = &models.Assignment{
			EndpointID: v.EndpointID,
			ClusterID:  l,
			Confidence: 1.0 / (1.0 + d),
			Status:     models.StatusAssigned,
		}
	}

	return &BatchResult{
		Labels:      labels,
		Clusters:    clusters,
		Assignments: assignments,
		AllNoise:    len(clusters) == 0,
	}
}

func allNoiseResult(vectors []features.Vector) *BatchResult {
	labels := make([]int, len(vectors))
	assignments := make([]*models.Assignment, len(vectors))
	for i, v := range vectors {
		labels[i] = noise
		assignments[i] = &models.Assignment{
			EndpointID: v.EndpointID,
			ClusterID:  models.NoiseClusterID,
			Confidence: 0,
			Status:     models.StatusNoise,
		}
	}
	return &BatchResult{
		Labels:      labels,
		Clusters:    map[int]*ClusterStat{},
		Assignments: assignments,
		AllNoise:    true,
	}
}

func centroid(vectors []features.Vector, members []int) []float64 {
	if len(members) == 0 {
		return nil
	}
	dims := len(vectors[members[0]].Values)
	out := make([]float64, dims)
	for _, idx := range members {
		for d, v := range vectors[idx].Values {
			out[d] += v
		}
	}
	for d := range out {
		out[d] /= float64(len(members))
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
