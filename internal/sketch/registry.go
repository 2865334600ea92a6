package sketch

import (
	"fmt"
	"sort"
	"sync"

	"segflow/pkg/models"
)

// Registry owns all endpoint sketches on the update path. Updates for a
// single endpoint are serialized by a per-endpoint lock, while distinct
// endpoints update concurrently. Reads for the clustering path go through
// Snapshot, which copies under the same lock so a pass never observes a
// sketch mid-mutation.
//
// Remote state is kept in one slot per peer source: a pulled sketch
// replaces its source's previous slot instead of folding into the local
// counters, so re-pulling the same payload, or a newer cumulative payload
// from the same source, never inflates the combined view.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	sketches map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	local   *EndpointSketch            // this node's own observations; nil when remote-only
	remotes map[string]*EndpointSketch // latest full state per peer source
}

// NewRegistry creates an empty sketch registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		sketches: make(map[string]*entry),
	}
}

func (r *Registry) entryFor(endpointID string) *entry {
	r.mu.RLock()
	e := r.sketches[endpointID]
	r.mu.RUnlock()
	if e != nil {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.sketches[endpointID]; existing != nil {
		return existing
	}
	e = &entry{}
	r.sketches[endpointID] = e
	return e
}

// Apply routes one flow observation to its endpoint sketch, creating the
// sketch on first observation.
func (r *Registry) Apply(flow *models.FlowObservation) error {
	if flow.EndpointID == "" {
		return fmt.Errorf("flow observation has empty endpoint id")
	}

	e := r.entryFor(flow.EndpointID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		sk, err := New(flow.EndpointID, flow.SourceID, r.cfg)
		if err != nil {
			return fmt.Errorf("create sketch for %s: %w", flow.EndpointID, err)
		}
		e.local = sk
	}
	e.local.Update(flow)
	return nil
}

// MergeRemote installs a sketch received from a peer collection point,
// replacing whatever that source pushed before. The source must come from
// the transport, not the payload, so a mislabeled payload cannot shadow
// another source's slot.
func (r *Registry) MergeRemote(source string, remote *EndpointSketch) error {
	if remote == nil {
		return fmt.Errorf("merge nil remote sketch")
	}
	if source == "" {
		return fmt.Errorf("remote sketch for %s has no source id", remote.endpointID)
	}

	e := r.entryFor(remote.endpointID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remotes == nil {
		e.remotes = make(map[string]*EndpointSketch)
	}
	e.remotes[source] = remote
	return nil
}

// view builds the combined sketch across the local state and every remote
// slot. Each slot is merged exactly once, so counters add without
// double-counting. Returns nil for an empty entry.
func (e *entry) view() (*EndpointSketch, error) {
	var out *EndpointSketch
	if e.local != nil {
		out = e.local.clone()
	}

	sources := make([]string, 0, len(e.remotes))
	for src := range e.remotes {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		rem := e.remotes[src]
		if out == nil {
			out = rem.clone()
			continue
		}
		if err := out.Merge(rem); err != nil {
			return nil, err
		}
	}
	if out != nil {
		out.syncVersion = e.version()
	}
	return out, nil
}

// version sums the local and per-slot sync versions. The sum is monotone
// under local updates and slot replacements, and unchanged when a slot is
// replaced with an identical payload.
func (e *entry) version() uint64 {
	var v uint64
	if e.local != nil {
		v = e.local.syncVersion
	}
	for _, rem := range e.remotes {
		v += rem.syncVersion
	}
	return v
}

// Snapshot returns a consistent combined view of one endpoint, or nil
// when the endpoint is unknown.
func (r *Registry) Snapshot(endpointID string) *Snapshot {
	r.mu.RLock()
	e := r.sketches[endpointID]
	r.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sk, err := e.view()
	if err != nil || sk == nil {
		return nil
	}
	return sk.Snapshot()
}

// SnapshotAll returns consistent snapshots for every tracked endpoint in
// stable endpoint-id order. Sketches failing the consistency check are
// dropped for rebuild and reported in the error list; one corrupt sketch
// never aborts the pass.
func (r *Registry) SnapshotAll() ([]*Snapshot, []error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sketches))
	for id := range r.sketches {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	snaps := make([]*Snapshot, 0, len(ids))
	var errs []error
	for _, id := range ids {
		r.mu.RLock()
		e := r.sketches[id]
		r.mu.RUnlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		sk, err := e.view()
		if err == nil && sk != nil {
			err = sk.Validate()
		}
		e.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			r.drop(id)
			continue
		}
		if sk == nil {
			continue
		}
		snaps = append(snaps, sk.Snapshot())
	}
	return snaps, errs
}

// Versions returns the current combined version of every tracked
// endpoint, for detecting which sketches changed between passes.
func (r *Registry) Versions() map[string]uint64 {
	r.mu.RLock()
	entries := make(map[string]*entry, len(r.sketches))
	for id, e := range r.sketches {
		entries[id] = e
	}
	r.mu.RUnlock()

	out := make(map[string]uint64, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		out[id] = e.version()
		e.mu.Unlock()
	}
	return out
}

// ExportSince encodes the full local state of every sketch whose sync
// version is strictly greater than the floor, keyed by endpoint id. Only
// locally observed state is exported; remote slots are never re-published
// under this node's source id.
func (r *Registry) ExportSince(floor uint64) (map[string][]byte, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sketches))
	for id := range r.sketches {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make(map[string][]byte)
	for _, id := range ids {
		r.mu.RLock()
		e := r.sketches[id]
		r.mu.RUnlock()
		if e == nil {
			continue
		}

		e.mu.Lock()
		if e.local == nil || e.local.syncVersion <= floor {
			e.mu.Unlock()
			continue
		}
		data, err := e.local.Encode()
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		out[id] = data
	}
	return out, nil
}

// MaxSyncVersion returns the highest local sync version across all
// tracked sketches, the floor for the next delta export.
func (r *Registry) MaxSyncVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max uint64
	for _, e := range r.sketches {
		e.mu.Lock()
		if e.local != nil && e.local.syncVersion > max {
			max = e.local.syncVersion
		}
		e.mu.Unlock()
	}
	return max
}

// SetLocalCluster records a grouping hint on one endpoint's sketch.
func (r *Registry) SetLocalCluster(endpointID string, clusterID int) {
	r.mu.RLock()
	e := r.sketches[endpointID]
	r.mu.RUnlock()
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.local != nil {
		e.local.SetLocalCluster(clusterID)
	}
	e.mu.Unlock()
}

// Len returns the number of tracked endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sketches)
}

func (r *Registry) drop(endpointID string) {
	r.mu.Lock()
	delete(r.sketches, endpointID)
	r.mu.Unlock()
}
