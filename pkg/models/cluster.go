package models

import "time"

// NoiseClusterID is the reserved id for endpoints that fit no stable
// behavioral grouping.
const NoiseClusterID = -1

// AssignmentStatus describes how an endpoint-to-cluster assignment was
// reached and how much it can be trusted.
type AssignmentStatus string

const (
	// StatusAssigned is a committed, confident assignment.
	StatusAssigned AssignmentStatus = "assigned"
	// StatusNoise marks an endpoint that fits no cluster.
	StatusNoise AssignmentStatus = "noise"
	// StatusPendingReview marks an ambiguous assignment between two
	// near-equidistant clusters; it is not committed.
	StatusPendingReview AssignmentStatus = "pending_review"
	// StatusLowConfidence is a committed assignment flagged for review.
	StatusLowConfidence AssignmentStatus = "low_confidence"
	// StatusManual marks an operator-supplied reassignment.
	StatusManual AssignmentStatus = "manual"
)

// Cluster is one behaviorally coherent endpoint group produced by a
// clustering run. The noise cluster has id NoiseClusterID and no centroid.
type Cluster struct {
	ClusterID          int       `json:"cluster_id"`
	RunID              string    `json:"run_id"`
	Members            []string  `json:"members"`
	Centroid           []float64 `json:"centroid,omitempty"`
	Size               int       `json:"size"`
	Quality            float64   `json:"quality"`
	Label              string    `json:"label,omitempty"`
	LabelConfidence    float64   `json:"label_confidence,omitempty"`
	LabelJustification string    `json:"label_justification,omitempty"`
}

// Assignment binds one endpoint to at most one cluster.
type Assignment struct {
	EndpointID string           `json:"endpoint_id"`
	ClusterID  int              `json:"cluster_id"`
	Confidence float64          `json:"confidence"`
	Status     AssignmentStatus `json:"status"`
	// Candidates lists the contending cluster ids for pending_review
	// outcomes, nearest first.
	Candidates []int `json:"candidates,omitempty"`
}

// ClusterSnapshot is the export envelope for one completed clustering run.
type ClusterSnapshot struct {
	RunID       string           `json:"run_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Clusters    []*Cluster       `json:"clusters"`
	Assignments []*Assignment    `json:"assignments"`
	Tags        []*TagAssignment `json:"tags,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
}
