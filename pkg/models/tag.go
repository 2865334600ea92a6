package models

import "time"

// Tag categories, ordered by mapping precedence.
const (
	CategoryIdentity = "identity"
	CategoryDevice   = "device"
	CategoryBehavior = "behavior"
)

// TagAssignment binds a cluster to a security-tag value in the active
// taxonomy. Manual assignments always take precedence over automated ones
// and are never overwritten by a later automated run.
type TagAssignment struct {
	ClusterID  int       `json:"cluster_id"`
	TagValue   int       `json:"tag_value"`
	TagName    string    `json:"tag_name"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Manual     bool      `json:"manual,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}
