package sketch

import "fmt"

// CMS is a count-min sketch. Estimates never under-count the true
// frequency of an inserted item; over-counts are bounded by the total
// inserted weight divided by width, with failure probability shrinking
// exponentially in depth. Memory is fixed at width*depth counters.
type CMS struct {
	width    int
	depth    int
	counters [][]uint64
}

// NewCMS creates a sketch with depth rows of width counters each.
func NewCMS(width, depth int) (*CMS, error) {
	if width <= 0 || depth <= 0 {
		return nil, fmt.Errorf("cms dimensions %dx%d must be positive", width, depth)
	}
	counters := make([][]uint64, depth)
	for i := range counters {
		counters[i] = make([]uint64, width)
	}
	return &CMS{width: width, depth: depth, counters: counters}, nil
}

// rowIndex derives the counter index for one row by double hashing.
func (c *CMS) rowIndex(itemHash uint64, row int) int {
	h2 := itemHash>>17 | itemHash<<47
	h2 |= 1 // odd stride so rows decorrelate
	return int((itemHash + uint64(row)*h2) % uint64(c.width))
}

// Increment adds weight to an item's counters.
func (c *CMS) Increment(itemHash uint64, amount uint64) {
	for row := 0; row < c.depth; row++ {
		c.counters[row][c.rowIndex(itemHash, row)] += amount
	}
}

// IncrementString adds weight keyed by a string item.
func (c *CMS) IncrementString(s string, amount uint64) {
	c.Increment(HashString(s), amount)
}

// Estimate returns the one-sided frequency upper bound for an item.
func (c *CMS) Estimate(itemHash uint64) uint64 {
	min := c.counters[0][c.rowIndex(itemHash, 0)]
	for row := 1; row < c.depth; row++ {
		v := c.counters[row][c.rowIndex(itemHash, row)]
		if v < min {
			min = v
		}
	}
	return min
}

// EstimateString returns the frequency upper bound for a string item.
func (c *CMS) EstimateString(s string) uint64 {
	return c.Estimate(HashString(s))
}

// Merge returns a new sketch representing the set union of both inputs.
// Counters combine by element-wise max, which keeps the operation
// idempotent for overlapping observation windows.
func (c *CMS) Merge(other *CMS) (*CMS, error) {
	if other == nil {
		return nil, fmt.Errorf("merge with nil cms")
	}
	if c.width != other.width || c.depth != other.depth {
		return nil, fmt.Errorf("cms dimension mismatch: %dx%d != %dx%d", c.width, c.depth, other.width, other.depth)
	}
	out, _ := NewCMS(c.width, c.depth)
	for row := 0; row < c.depth; row++ {
		for i := 0; i < c.width; i++ {
			v := c.counters[row][i]
			if other.counters[row][i] > v {
				v = other.counters[row][i]
			}
			out.counters[row][i] = v
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (c *CMS) Clone() *CMS {
	out, _ := NewCMS(c.width, c.depth)
	for row := range c.counters {
		copy(out.counters[row], c.counters[row])
	}
	return out
}

// Validate checks the structure for corruption.
func (c *CMS) Validate() error {
	if len(c.counters) != c.depth {
		return fmt.Errorf("cms row count %d does not match depth %d", len(c.counters), c.depth)
	}
	for row := range c.counters {
		if len(c.counters[row]) != c.width {
			return fmt.Errorf("cms row %d width %d does not match %d", row, len(c.counters[row]), c.width)
		}
	}
	return nil
}
