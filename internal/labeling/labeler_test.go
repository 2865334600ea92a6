package labeling

import (
	"fmt"
	"strings"
	"testing"

	"segflow/internal/sketch"
	"segflow/pkg/models"
)

func membersWithIdentity(n int, identity func(i int) *models.IdentityContext) []Member {
	out := make([]Member, n)
	for i := range out {
		out[i] = Member{
			EndpointID: fmt.Sprintf("ep-%d", i),
			Identity:   identity(i),
			Snapshot:   &sketch.Snapshot{BytesIn: 100, BytesOut: 100},
		}
	}
	return out
}

func TestProfileMajorityWinsOverLowerPriorityRules(t *testing.T) {
	labeler := NewLabeler(0.7)
	p := &ClusterProfile{
		ClusterID: 1,
		Members: membersWithIdentity(10, func(i int) *models.IdentityContext {
			ctx := &models.IdentityContext{DeviceType: "camera", Groups: []string{"iot"}}
			if i < 8 {
				ctx.Profile = "ip-camera"
			}
			return ctx
		}),
	}

	label := labeler.Label(p)
	if label.Name != "ip-camera" || label.Category != models.CategoryIdentity {
		t.Fatalf("label = %+v, want profile-derived ip-camera", label)
	}
	if label.Confidence != 0.8 {
		t.Fatalf("confidence = %f, want the 0.8 majority fraction", label.Confidence)
	}
	if !strings.Contains(label.Justification, "80%") || !strings.Contains(label.Justification, "ip-camera") {
		t.Fatalf("justification should cite fraction and attribute: %q", label.Justification)
	}
}

func TestDeviceTypeUsedWhenProfileMajorityMissing(t *testing.T) {
	labeler := NewLabeler(0.7)
	p := &ClusterProfile{
		Members: membersWithIdentity(10, func(i int) *models.IdentityContext {
			// Profiles split 50/50, device type unanimous.
			profile := "printer-a"
			if i%2 == 0 {
				profile = "printer-b"
			}
			return &models.IdentityContext{Profile: profile, DeviceType: "printer"}
		}),
	}

	label := labeler.Label(p)
	if label.Name != "printer" || label.Category != models.CategoryDevice {
		t.Fatalf("label = %+v, want device-type printer", label)
	}
	if label.Confidence != 1.0 {
		t.Fatalf("confidence = %f, want 1.0", label.Confidence)
	}
}

func TestGroupMajorityUsedWhenHigherRulesMiss(t *testing.T) {
	labeler := NewLabeler(0.7)
	p := &ClusterProfile{
		Members: membersWithIdentity(10, func(i int) *models.IdentityContext {
			return &models.IdentityContext{Groups: []string{"engineering", fmt.Sprintf("team-%d", i)}}
		}),
	}

	label := labeler.Label(p)
	if label.Name != "engineering" || label.Category != models.CategoryIdentity {
		t.Fatalf("label = %+v, want group engineering", label)
	}
}

func TestBehavioralFallbackCoversZeroIdentityClusters(t *testing.T) {
	labeler := NewLabeler(0.7)
	members := make([]Member, 20)
	for i := range members {
		members[i] = Member{
			EndpointID: fmt.Sprintf("ep-%d", i),
			Snapshot:   &sketch.Snapshot{BytesIn: 8000, BytesOut: 2000},
		}
	}

	label := labeler.Label(&ClusterProfile{Members: members})
	if label == nil {
		t.Fatalf("labeler must always return a label")
	}
	if label.Name != SignatureReceiver {
		t.Fatalf("label = %s, want %s for 0.8 direction ratio", label.Name, SignatureReceiver)
	}
	if label.Category != models.CategoryBehavior {
		t.Fatalf("category = %s, want behavior", label.Category)
	}
	if label.Confidence < 0 || label.Confidence > 1 {
		t.Fatalf("confidence %f outside [0,1]", label.Confidence)
	}
}

func TestBehavioralSignatures(t *testing.T) {
	cases := []struct {
		bytesIn, bytesOut uint64
		want              string
	}{
		{8000, 2000, SignatureReceiver},
		{2000, 8000, SignatureSender},
		{5000, 5000, SignatureBalanced},
		{0, 0, SignatureBalanced},
	}
	for _, tc := range cases {
		m := Member{Snapshot: &sketch.Snapshot{BytesIn: tc.bytesIn, BytesOut: tc.bytesOut}}
		if got := memberSignature(m); got != tc.want {
			t.Fatalf("signature(%d,%d) = %s, want %s", tc.bytesIn, tc.bytesOut, got, tc.want)
		}
	}
}

func TestSubThresholdMajorityFallsThrough(t *testing.T) {
	labeler := NewLabeler(0.7)
	p := &ClusterProfile{
		Members: membersWithIdentity(10, func(i int) *models.IdentityContext {
			if i < 6 { // 60%, below the 0.7 threshold
				return &models.IdentityContext{Profile: "laptop", DeviceType: "laptop", Groups: []string{"staff"}}
			}
			return nil
		}),
	}

	label := labeler.Label(p)
	if label.Category != models.CategoryBehavior {
		t.Fatalf("sub-threshold identity data must fall through to behavior, got %+v", label)
	}
}

func TestCustomStrategyChainIsPluggable(t *testing.T) {
	fixed := strategyFunc{name: "fixed", attempt: func(p *ClusterProfile) (*Label, bool) {
		return &Label{Name: "external-model", Category: models.CategoryIdentity, Confidence: 0.9}, true
	}}
	labeler := NewLabelerWithStrategies(fixed, &BehavioralFallback{})

	label := labeler.Label(&ClusterProfile{Members: membersWithIdentity(3, func(int) *models.IdentityContext { return nil })})
	if label.Name != "external-model" {
		t.Fatalf("pluggable strategy was not consulted first: %+v", label)
	}
}

type strategyFunc struct {
	name    string
	attempt func(p *ClusterProfile) (*Label, bool)
}

func (s strategyFunc) Name() string                             { return s.name }
func (s strategyFunc) Attempt(p *ClusterProfile) (*Label, bool) { return s.attempt(p) }
