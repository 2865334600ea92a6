package cluster

import "sort"

// Reconcile matches a run's raw cluster ids against the previous run's
// centroids so a behaviorally stable group keeps its id across runs. The
// matching is greedy bipartite: candidate pairs are ranked by centroid
// distance and matched nearest-first while both sides are unclaimed and
// the distance stays within maxDistance. Unmatched clusters receive fresh
// ids from alloc. The returned table maps raw id to stable id.
func Reconcile(prev map[int][]float64, curr map[int]*ClusterStat, maxDistance float64, alloc func() int) map[int]int {
	remap := make(map[int]int, len(curr))

	type pair struct {
		prevID int
		currID int
		dist   float64
	}
	var pairs []pair
	for prevID, prevCentroid := range prev {
		for currID, cs := range curr {
			if len(cs.Centroid) != len(prevCentroid) {
				continue
			}
			d := euclidean(prevCentroid, cs.Centroid)
			if d <= maxDistance {
				pairs = append(pairs, pair{prevID: prevID, currID: currID, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].prevID != pairs[j].prevID {
			return pairs[i].prevID < pairs[j].prevID
		}
		return pairs[i].currID < pairs[j].currID
	})

	usedPrev := make(map[int]bool, len(prev))
	for _, p := range pairs {
		if usedPrev[p.prevID] {
			continue
		}
		if _, done := remap[p.currID]; done {
			continue
		}
		remap[p.currID] = p.prevID
		usedPrev[p.prevID] = true
	}

	// Deterministic allocation order for new clusters.
	var unmatched []int
	for currID := range curr {
		if _, done := remap[currID]; !done {
			unmatched = append(unmatched, currID)
		}
	}
	sort.Ints(unmatched)
	for _, currID := range unmatched {
		remap[currID] = alloc()
	}

	return remap
}
