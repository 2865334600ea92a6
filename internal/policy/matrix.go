// Package policy aggregates tagged inter-cluster traffic into an access
// policy matrix and derives recommended rules per cell.
package policy

import (
	"sort"

	"segflow/pkg/models"
)

// Matrix is the set of materialized policy cells keyed by ordered tag
// pair. Pairs with no observed traffic are implicitly default-deny and
// are not materialized.
type Matrix struct {
	Cells map[string]*models.PolicyCell
}

// BuildMatrix aggregates tagged flows into matrix cells: per-cell
// port/protocol tallies, byte totals, distinct endpoint-pair counts and
// observation window bounds. Flows between endpoints of the same tag are
// aggregated like any other ordered pair.
func BuildMatrix(flows []*models.TaggedFlow) *Matrix {
	cells := make(map[string]*models.PolicyCell)
	pairs := make(map[string]map[string]bool)
	endpoints := make(map[string]map[string]bool)
	users := make(map[string]map[string]bool)
	ports := make(map[string]map[portKey]*models.PortStat)

	for _, f := range flows {
		key := models.CellKey(f.SrcTag, f.DstTag)
		cell := cells[key]
		if cell == nil {
			cell = &models.PolicyCell{SrcTag: f.SrcTag, DstTag: f.DstTag}
			cells[key] = cell
			pairs[key] = make(map[string]bool)
			endpoints[key] = make(map[string]bool)
			users[key] = make(map[string]bool)
			ports[key] = make(map[portKey]*models.PortStat)
		}

		cell.TotalBytes += f.Bytes
		cell.FlowCount++
		if cell.FirstSeen.IsZero() || f.Timestamp.Before(cell.FirstSeen) {
			cell.FirstSeen = f.Timestamp
		}
		if f.Timestamp.After(cell.LastSeen) {
			cell.LastSeen = f.Timestamp
		}

		pairs[key][f.SrcEndpoint+"|"+f.DstEndpoint] = true
		endpoints[key][f.SrcEndpoint] = true
		endpoints[key][f.DstEndpoint] = true
		if f.User != "" {
			users[key][f.User] = true
		}

		pk := portKey{protocol: f.Protocol, port: f.Port}
		ps := ports[key][pk]
		if ps == nil {
			ps = &models.PortStat{Protocol: f.Protocol, Port: f.Port}
			ports[key][pk] = ps
		}
		ps.FlowCount++
		ps.Bytes += f.Bytes
	}

	for key, cell := range cells {
		cell.PairCount = len(pairs[key])
		cell.ImpactEndpoints = len(endpoints[key])
		cell.ImpactUsers = len(users[key])

		stats := make([]*models.PortStat, 0, len(ports[key]))
		for _, ps := range ports[key] {
			// Flow-count-weighted confidence per port.
			ps.Confidence = float64(ps.FlowCount) / float64(cell.FlowCount)
			stats = append(stats, ps)
		}
		sort.Slice(stats, func(i, j int) bool {
			if stats[i].FlowCount != stats[j].FlowCount {
				return stats[i].FlowCount > stats[j].FlowCount
			}
			if stats[i].Protocol != stats[j].Protocol {
				return stats[i].Protocol < stats[j].Protocol
			}
			return stats[i].Port < stats[j].Port
		})
		cell.Ports = stats
	}

	return &Matrix{Cells: cells}
}

type portKey struct {
	protocol string
	port     uint16
}

// SortedCells returns the cells in stable (src, dst) order for export.
func (m *Matrix) SortedCells() []*models.PolicyCell {
	out := make([]*models.PolicyCell, 0, len(m.Cells))
	for _, c := range m.Cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SrcTag != out[j].SrcTag {
			return out[i].SrcTag < out[j].SrcTag
		}
		return out[i].DstTag < out[j].DstTag
	})
	return out
}
