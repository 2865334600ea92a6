// Package labeling attaches human-meaningful labels to clusters using an
// ordered chain of strategies, with a behavioral fallback that always
// succeeds.
package labeling

import (
	"segflow/internal/sketch"
	"segflow/pkg/models"
)

// Member is one cluster member with whatever identity context is known
// for it. Identity may be nil.
type Member struct {
	EndpointID string
	Identity   *models.IdentityContext
	Snapshot   *sketch.Snapshot
}

// ClusterProfile is the labeler's view of one cluster.
type ClusterProfile struct {
	ClusterID int
	Members   []Member
}

// Label is a strategy's verdict for a cluster. Category feeds the tag
// mapper's range selection.
type Label struct {
	Name          string
	Category      string
	Confidence    float64
	Justification string
}

// Strategy attempts to label a cluster; ok reports whether the strategy's
// rule matched. Strategies are evaluated in priority order, first match
// wins. Additional strategies (including model-backed ones) plug in behind
// this interface without changing the fallback guarantee.
type Strategy interface {
	Name() string
	Attempt(p *ClusterProfile) (*Label, bool)
}
