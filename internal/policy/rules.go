package policy

import (
	"fmt"

	"segflow/pkg/models"
)

// RuleOverrides exposes operator-edited rule lists per cell; an edited
// cell keeps its manual rules untouched by automated regeneration.
type RuleOverrides interface {
	RulesFor(cellKey string) ([]*models.Rule, bool)
}

// GenerateRules derives the recommended rule list for one matrix cell:
// a permit per (protocol, port) whose flow-count-weighted confidence
// meets minConfidence, ordered highest flow count first, always closed by
// an explicit default-deny. Cells whose traffic never reaches the
// confidence bar get a monitor recommendation instead of permits.
func GenerateRules(cell *models.PolicyCell, minConfidence float64) []*models.Rule {
	var rules []*models.Rule
	for _, ps := range cell.Ports {
		if ps.Confidence < minConfidence {
			continue
		}
		rules = append(rules, &models.Rule{
			Action:      models.ActionPermit,
			Protocol:    ps.Protocol,
			Port:        ps.Port,
			Confidence:  ps.Confidence,
			FlowCount:   ps.FlowCount,
			Description: fmt.Sprintf("permit %s/%d (%d flows, confidence %.2f)", ps.Protocol, ps.Port, ps.FlowCount, ps.Confidence),
		})
	}

	rules = append(rules, &models.Rule{
		Action:      models.ActionDeny,
		Description: "default deny",
	})
	return rules
}

// Recommend fills a cell's recommendation fields: rule list, action and
// cell-level confidence. Operator-edited rule lists are preserved as-is
// and the cell is marked accordingly.
func Recommend(cell *models.PolicyCell, minConfidence float64, overrides RuleOverrides) {
	if overrides != nil {
		if manual, ok := overrides.RulesFor(cell.CellKey()); ok {
			cell.Rules = manual
			cell.Action = actionOf(manual)
			cell.Confidence = 1.0
			return
		}
	}

	cell.Rules = GenerateRules(cell, minConfidence)
	cell.Action = actionOf(cell.Rules)
	cell.Confidence = topConfidence(cell.Rules)
}

// RecommendAll applies Recommend to every cell of the matrix.
func RecommendAll(m *Matrix, minConfidence float64, overrides RuleOverrides) {
	for _, cell := range m.Cells {
		Recommend(cell, minConfidence, overrides)
	}
}

func actionOf(rules []*models.Rule) string {
	for _, r := range rules {
		if r.Action == models.ActionPermit {
			return models.ActionPermit
		}
	}
	// Observed traffic with no confident permit: recommend monitoring
	// before enforcement.
	return models.ActionMonitor
}

func topConfidence(rules []*models.Rule) float64 {
	best := 0.0
	for _, r := range rules {
		if r.Action == models.ActionPermit && r.Confidence > best {
			best = r.Confidence
		}
	}
	return best
}
