package sketch

import (
	"fmt"
	"testing"
)

func TestCMSNeverUnderCounts(t *testing.T) {
	c, err := NewCMS(64, 4)
	if err != nil {
		t.Fatalf("new cms: %v", err)
	}

	truth := make(map[string]uint64)
	for i := 0; i < 500; i++ {
		item := fmt.Sprintf("port-%d", i%40)
		c.IncrementString(item, 1)
		truth[item]++
	}

	for item, want := range truth {
		if got := c.EstimateString(item); got < want {
			t.Fatalf("item %s under-counted: got %d, true %d", item, got, want)
		}
	}
}

func TestCMSOneSidedUnderAdversarialCollisions(t *testing.T) {
	// A 2-wide sketch forces every item into colliding counters; estimates
	// may inflate but must never drop below the true frequency.
	c, _ := NewCMS(2, 2)
	truth := make(map[string]uint64)
	for i := 0; i < 200; i++ {
		item := fmt.Sprintf("svc-%d", i%7)
		c.IncrementString(item, uint64(1+i%3))
		truth[item] += uint64(1 + i%3)
	}
	for item, want := range truth {
		if got := c.EstimateString(item); got < want {
			t.Fatalf("colliding item %s under-counted: got %d, true %d", item, got, want)
		}
	}
}

func TestCMSUnseenItemIsZeroOnSparseSketch(t *testing.T) {
	c, _ := NewCMS(1024, 4)
	c.IncrementString("tcp/443", 10)
	if got := c.EstimateString("udp/53"); got != 0 {
		t.Fatalf("unseen item estimate = %d on sparse sketch, want 0", got)
	}
}

func TestCMSMergeIdempotent(t *testing.T) {
	a, _ := NewCMS(128, 4)
	for i := 0; i < 300; i++ {
		a.IncrementString(fmt.Sprintf("p-%d", i%20), 1)
	}
	aa, err := a.Merge(a)
	if err != nil {
		t.Fatalf("merge a,a: %v", err)
	}
	for i := 0; i < 20; i++ {
		item := fmt.Sprintf("p-%d", i)
		if aa.EstimateString(item) != a.EstimateString(item) {
			t.Fatalf("self-merge changed estimate for %s: %d != %d",
				item, aa.EstimateString(item), a.EstimateString(item))
		}
	}
}

func TestCMSMergeCommutative(t *testing.T) {
	a, _ := NewCMS(128, 4)
	b, _ := NewCMS(128, 4)
	for i := 0; i < 100; i++ {
		a.IncrementString(fmt.Sprintf("a-%d", i%10), 2)
		b.IncrementString(fmt.Sprintf("b-%d", i%10), 3)
	}
	ab, _ := a.Merge(b)
	ba, _ := b.Merge(a)
	for i := 0; i < 10; i++ {
		for _, item := range []string{fmt.Sprintf("a-%d", i), fmt.Sprintf("b-%d", i)} {
			if ab.EstimateString(item) != ba.EstimateString(item) {
				t.Fatalf("merge not commutative for %s", item)
			}
		}
	}
}

func TestCMSMergeRejectsDimensionMismatch(t *testing.T) {
	a, _ := NewCMS(128, 4)
	b, _ := NewCMS(64, 4)
	if _, err := a.Merge(b); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestCMSRejectsInvalidDimensions(t *testing.T) {
	if _, err := NewCMS(0, 4); err == nil {
		t.Fatalf("expected error for zero width")
	}
	if _, err := NewCMS(16, -1); err == nil {
		t.Fatalf("expected error for negative depth")
	}
}
