// Package tags maps labeled clusters onto the security-tag taxonomy.
package tags

import (
	"fmt"
	"sort"
	"time"

	"segflow/internal/labeling"
	"segflow/pkg/models"
)

// Range is one administrator-configured numeric tag band.
type Range struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Config maps label categories to tag value ranges.
type Config struct {
	Identity Range `yaml:"identity"`
	Device   Range `yaml:"device"`
	Behavior Range `yaml:"behavior"`
}

// DefaultConfig returns the default tag bands: identity-derived clusters
// get the lowest band, behavior-derived the highest.
func DefaultConfig() Config {
	return Config{
		Identity: Range{Start: 100, End: 199},
		Device:   Range{Start: 200, End: 299},
		Behavior: Range{Start: 300, End: 399},
	}
}

// Overrides exposes operator-supplied manual tag bindings. Manual records
// always win over computed mappings.
type Overrides interface {
	TagFor(clusterID int) (*models.TagAssignment, bool)
}

// Mapper deterministically assigns tag values from category ranges while
// avoiding collisions with still-active assignments.
type Mapper struct {
	cfg Config
}

// NewMapper creates a tag mapper.
func NewMapper(cfg Config) *Mapper {
	return &Mapper{cfg: cfg}
}

// Map assigns a tag to one labeled cluster. Precedence follows the
// labeler's own priority order via the label category: identity-derived
// ranges over device-derived over behavior-derived. A tag value bound to
// a different active cluster is never reused; an existing assignment for
// the same cluster in the same category keeps its value so the taxonomy
// stays stable across runs. Manual overrides are returned as-is, flagged
// manual.
func (m *Mapper) Map(clusterID int, label *labeling.Label, existing []*models.TagAssignment, overrides Overrides) (*models.TagAssignment, error) {
	if overrides != nil {
		if manual, ok := overrides.TagFor(clusterID); ok {
			out := *manual
			out.Manual = true
			return &out, nil
		}
	}

	rng, err := m.rangeFor(label.Category)
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool, len(existing))
	for _, t := range existing {
		if t.ClusterID != clusterID {
			used[t.TagValue] = true
		}
	}

	// Keep the previous value when this cluster already holds one inside
	// the selected range.
	for _, t := range existing {
		if t.ClusterID == clusterID && t.TagValue >= rng.Start && t.TagValue <= rng.End && !used[t.TagValue] {
			return &models.TagAssignment{
				ClusterID:  clusterID,
				TagValue:   t.TagValue,
				TagName:    tagName(label.Name, t.TagValue),
				Category:   label.Category,
				Confidence: label.Confidence,
				AssignedAt: time.Now(),
			}, nil
		}
	}

	for v := rng.Start; v <= rng.End; v++ {
		if used[v] {
			continue
		}
		return &models.TagAssignment{
			ClusterID:  clusterID,
			TagValue:   v,
			TagName:    tagName(label.Name, v),
			Category:   label.Category,
			Confidence: label.Confidence,
			AssignedAt: time.Now(),
		}, nil
	}
	return nil, fmt.Errorf("tag range for category %s exhausted (%d-%d)", label.Category, rng.Start, rng.End)
}

// MapAll assigns tags to every labeled cluster in ascending cluster-id
// order so a fixed input always yields the same taxonomy.
func (m *Mapper) MapAll(labels map[int]*labeling.Label, existing []*models.TagAssignment, overrides Overrides) ([]*models.TagAssignment, []error) {
	ids := make([]int, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	assigned := append([]*models.TagAssignment{}, existing...)
	out := make([]*models.TagAssignment, 0, len(ids))
	var errs []error
	for _, id := range ids {
		ta, err := m.Map(id, labels[id], assigned, overrides)
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %d: %w", id, err))
			continue
		}
		out = append(out, ta)
		assigned = append(assigned, ta)
	}
	return out, errs
}

func (m *Mapper) rangeFor(category string) (Range, error) {
	switch category {
	case models.CategoryIdentity:
		return m.cfg.Identity, nil
	case models.CategoryDevice:
		return m.cfg.Device, nil
	case models.CategoryBehavior:
		return m.cfg.Behavior, nil
	default:
		return Range{}, fmt.Errorf("unknown tag category %q", category)
	}
}

func tagName(labelName string, value int) string {
	return fmt.Sprintf("%s-%d", labelName, value)
}
