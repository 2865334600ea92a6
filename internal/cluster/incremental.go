package cluster

import (
	"errors"
	"sort"
	"time"

	"segflow/pkg/models"
)

// ErrNoCentroids is returned when no completed batch run has published a
// centroid set yet.
var ErrNoCentroids = errors.New("no published centroid set")

// CentroidSet is the immutable product of one completed batch run,
// published atomically for the incremental path.
type CentroidSet struct {
	RunID       string
	GeneratedAt time.Time
	Centroids   map[int][]float64
}

// AssignConfig controls the incremental assigner's edge-case policy.
type AssignConfig struct {
	// ClosenessGap: when the two nearest centroids are within this
	// distance of each other the outcome is pending_review.
	ClosenessGap float64
	// LowConfidence: assignments below this confidence are committed but
	// flagged low_confidence.
	LowConfidence float64
}

// DefaultAssignConfig returns the operator-tunable defaults.
func DefaultAssignConfig() AssignConfig {
	return AssignConfig{
		ClosenessGap:  0.1,
		LowConfidence: 0.5,
	}
}

// Assign places one feature vector against the published centroids by
// nearest-centroid distance. Confidence is 1/(1+distance). An ambiguous
// placement between two near-equidistant centroids returns pending_review
// and is never silently resolved; a low-confidence placement is committed
// but flagged.
func Assign(endpointID string, values []float64, cs *CentroidSet, cfg AssignConfig) (*models.Assignment, error) {
	if cs == nil || len(cs.Centroids) == 0 {
		return nil, ErrNoCentroids
	}

	type candidate struct {
		clusterID int
		dist      float64
	}
	candidates := make([]candidate, 0, len(cs.Centroids))
	for id, centroid := range cs.Centroids {
		candidates = append(candidates, candidate{clusterID: id, dist: euclidean(values, centroid)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].clusterID < candidates[j].clusterID
	})

	nearest := candidates[0]
	if len(candidates) > 1 {
		second := candidates[1]
		if second.dist-nearest.dist <= cfg.ClosenessGap {
			return &models.Assignment{
				EndpointID: endpointID,
				ClusterID:  models.NoiseClusterID,
				Confidence: 0,
				Status:     models.StatusPendingReview,
				Candidates: []int{nearest.clusterID, second.clusterID},
			}, nil
		}
	}

	confidence := 1.0 / (1.0 + nearest.dist)
	status := models.StatusAssigned
	if confidence < cfg.LowConfidence {
		status = models.StatusLowConfidence
	}
	return &models.Assignment{
		EndpointID: endpointID,
		ClusterID:  nearest.clusterID,
		Confidence: confidence,
		Status:     status,
	}, nil
}
