package models

import (
	"strconv"
	"time"
)

// Recommended actions for policy cells and rules.
const (
	ActionPermit  = "permit"
	ActionDeny    = "deny"
	ActionMonitor = "monitor"
)

// TaggedFlow is one observed inter-endpoint flow after both sides have
// been resolved to security tags.
type TaggedFlow struct {
	Timestamp   time.Time `json:"ts"`
	SrcTag      int       `json:"src_tag"`
	DstTag      int       `json:"dst_tag"`
	SrcEndpoint string    `json:"src_endpoint"`
	DstEndpoint string    `json:"dst_endpoint"`
	Protocol    string    `json:"protocol"`
	Port        uint16    `json:"port"`
	Bytes       uint64    `json:"bytes"`
	User        string    `json:"user,omitempty"`
}

// PortStat aggregates observations of one (protocol, port) pair inside a
// policy matrix cell.
type PortStat struct {
	Protocol   string  `json:"protocol"`
	Port       uint16  `json:"port"`
	FlowCount  int     `json:"flow_count"`
	Bytes      uint64  `json:"bytes"`
	Confidence float64 `json:"confidence"`
}

// Rule is one recommended access-control entry. Every generated rule list
// terminates with an explicit default-deny.
type Rule struct {
	Action      string  `json:"action"`
	Protocol    string  `json:"protocol,omitempty"`
	Port        uint16  `json:"port,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	FlowCount   int     `json:"flow_count,omitempty"`
	Manual      bool    `json:"manual,omitempty"`
	Description string  `json:"description,omitempty"`
}

// PolicyCell aggregates observed traffic between an ordered pair of
// security tags and carries the recommended rules for that pair.
type PolicyCell struct {
	SrcTag          int         `json:"src_tag"`
	DstTag          int         `json:"dst_tag"`
	Ports           []*PortStat `json:"ports"`
	TotalBytes      uint64      `json:"total_bytes"`
	FlowCount       int         `json:"flow_count"`
	PairCount       int         `json:"pair_count"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`
	Action          string      `json:"action"`
	Rules           []*Rule     `json:"rules"`
	Confidence      float64     `json:"confidence"`
	ImpactEndpoints int         `json:"impact_endpoints"`
	ImpactUsers     int         `json:"impact_users"`
}

// CellKey identifies a policy matrix cell by its ordered tag pair.
func (c *PolicyCell) CellKey() string {
	return CellKey(c.SrcTag, c.DstTag)
}

// CellKey builds the canonical ordered-pair key for a policy cell.
func CellKey(srcTag, dstTag int) string {
	return strconv.Itoa(srcTag) + "->" + strconv.Itoa(dstTag)
}

// PolicySnapshot is the export envelope for one policy matrix build.
type PolicySnapshot struct {
	RunID       string        `json:"run_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Cells       []*PolicyCell `json:"cells"`
}
