package labeling

import "segflow/pkg/models"

// Labeler evaluates its strategies in order and returns the first match.
// With the default chain the behavioral fallback guarantees a non-nil
// label for every cluster.
type Labeler struct {
	strategies []Strategy
}

// NewLabeler builds the default priority chain: shared profile, shared
// device type, shared directory group, then the behavioral fallback.
func NewLabeler(majorityThreshold float64) *Labeler {
	return &Labeler{
		strategies: []Strategy{
			&ProfileMajority{Threshold: majorityThreshold},
			&DeviceTypeMajority{Threshold: majorityThreshold},
			&GroupMajority{Threshold: majorityThreshold},
			&BehavioralFallback{},
		},
	}
}

// NewLabelerWithStrategies builds a labeler with an explicit chain, for
// inserting or replacing strategies. Callers keeping the fallback
// guarantee should end the chain with BehavioralFallback.
func NewLabelerWithStrategies(strategies ...Strategy) *Labeler {
	return &Labeler{strategies: strategies}
}

// Label returns the first matching strategy's verdict.
func (l *Labeler) Label(p *ClusterProfile) *Label {
	for _, s := range l.strategies {
		if label, ok := s.Attempt(p); ok {
			return label
		}
	}
	// Unreachable with the default chain; a custom chain without a
	// catch-all gets an explicit empty verdict instead of nil.
	return &Label{Name: "unlabeled", Category: models.CategoryBehavior, Confidence: 0, Justification: "no strategy matched"}
}
