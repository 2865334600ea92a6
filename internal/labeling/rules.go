package labeling

import (
	"fmt"

	"segflow/pkg/models"
)

// majorityOf returns the most common non-empty value of an attribute
// across members along with its fraction of the membership.
func majorityOf(members []Member, attr func(Member) string) (string, float64) {
	if len(members) == 0 {
		return "", 0
	}
	counts := make(map[string]int)
	for _, m := range members {
		if v := attr(m); v != "" {
			counts[v]++
		}
	}
	best := ""
	bestCount := 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best = v
			bestCount = c
		}
	}
	return best, float64(bestCount) / float64(len(members))
}

// ProfileMajority labels a cluster from a shared endpoint profile when a
// super-majority of members carry the same one.
type ProfileMajority struct {
	Threshold float64
}

// Name identifies the strategy.
func (s *ProfileMajority) Name() string { return "profile-majority" }

// Attempt applies the profile super-majority rule.
func (s *ProfileMajority) Attempt(p *ClusterProfile) (*Label, bool) {
	value, fraction := majorityOf(p.Members, func(m Member) string {
		if m.Identity == nil {
			return ""
		}
		return m.Identity.Profile
	})
	if value == "" || fraction < s.Threshold {
		return nil, false
	}
	return &Label{
		Name:          value,
		Category:      models.CategoryIdentity,
		Confidence:    fraction,
		Justification: fmt.Sprintf("%.0f%% of members share endpoint profile %q", fraction*100, value),
	}, true
}

// DeviceTypeMajority labels a cluster from a shared device-type
// classification.
type DeviceTypeMajority struct {
	Threshold float64
}

// Name identifies the strategy.
func (s *DeviceTypeMajority) Name() string { return "device-type-majority" }

// Attempt applies the device-type super-majority rule.
func (s *DeviceTypeMajority) Attempt(p *ClusterProfile) (*Label, bool) {
	value, fraction := majorityOf(p.Members, func(m Member) string {
		if m.Identity == nil {
			return ""
		}
		return m.Identity.DeviceType
	})
	if value == "" || fraction < s.Threshold {
		return nil, false
	}
	return &Label{
		Name:          value,
		Category:      models.CategoryDevice,
		Confidence:    fraction,
		Justification: fmt.Sprintf("%.0f%% of members classified as device type %q", fraction*100, value),
	}, true
}

// GroupMajority labels a cluster from a shared directory-group membership.
type GroupMajority struct {
	Threshold float64
}

// Name identifies the strategy.
func (s *GroupMajority) Name() string { return "group-majority" }

// Attempt applies the directory-group super-majority rule. A member
// counts toward every group it belongs to; the best group must still
// cover the threshold fraction of all members.
func (s *GroupMajority) Attempt(p *ClusterProfile) (*Label, bool) {
	if len(p.Members) == 0 {
		return nil, false
	}
	counts := make(map[string]int)
	for _, m := range p.Members {
		if m.Identity == nil {
			continue
		}
		for _, g := range m.Identity.Groups {
			counts[g]++
		}
	}
	best := ""
	bestCount := 0
	for g, c := range counts {
		if c > bestCount || (c == bestCount && g < best) {
			best = g
			bestCount = c
		}
	}
	fraction := float64(bestCount) / float64(len(p.Members))
	if best == "" || fraction < s.Threshold {
		return nil, false
	}
	return &Label{
		Name:          best,
		Category:      models.CategoryIdentity,
		Confidence:    fraction,
		Justification: fmt.Sprintf("%.0f%% of members belong to directory group %q", fraction*100, best),
	}, true
}

// Behavioral traffic signatures.
const (
	SignatureReceiver = "predominant-receiver"
	SignatureSender   = "predominant-sender"
	SignatureBalanced = "balanced-talker"
)

// BehavioralFallback labels a cluster purely from traffic direction and
// volume signatures. It always succeeds, so every cluster gets a label
// even with zero identity data.
type BehavioralFallback struct{}

// Name identifies the strategy.
func (s *BehavioralFallback) Name() string { return "behavioral-fallback" }

// Attempt classifies each member by its direction ratio and labels the
// cluster with the predominant signature; confidence is that signature's
// fraction of the membership.
func (s *BehavioralFallback) Attempt(p *ClusterProfile) (*Label, bool) {
	if len(p.Members) == 0 {
		return &Label{
			Name:          SignatureBalanced,
			Category:      models.CategoryBehavior,
			Confidence:    0,
			Justification: "empty cluster, no traffic to characterize",
		}, true
	}

	counts := map[string]int{}
	for _, m := range p.Members {
		counts[memberSignature(m)]++
	}
	best := SignatureBalanced
	bestCount := 0
	for sig, c := range counts {
		if c > bestCount || (c == bestCount && sig < best) {
			best = sig
			bestCount = c
		}
	}
	fraction := float64(bestCount) / float64(len(p.Members))
	return &Label{
		Name:          best,
		Category:      models.CategoryBehavior,
		Confidence:    fraction,
		Justification: fmt.Sprintf("%.0f%% of members show a %s traffic signature", fraction*100, best),
	}, true
}

func memberSignature(m Member) string {
	if m.Snapshot == nil {
		return SignatureBalanced
	}
	total := m.Snapshot.BytesIn + m.Snapshot.BytesOut
	if total == 0 {
		return SignatureBalanced
	}
	ratio := float64(m.Snapshot.BytesIn) / float64(total)
	switch {
	case ratio >= 0.6:
		return SignatureReceiver
	case ratio <= 0.4:
		return SignatureSender
	default:
		return SignatureBalanced
	}
}
