package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"segflow/internal/features"
	"segflow/pkg/models"
)

// ErrSuperseded is returned when a newer batch trigger arrived while a run
// was in flight; the superseded run's result is discarded wholesale.
var ErrSuperseded = errors.New("batch run superseded")

// Engine coordinates batch clustering runs and publishes their centroid
// sets atomically for the incremental path. Cluster ids allocated by the
// engine are monotone so a retired id is never reused within a process.
type Engine struct {
	batchCfg          Config
	assignCfg         AssignConfig
	continuityMaxDist float64

	published atomic.Pointer[CentroidSet]

	mu         sync.Mutex
	prev       map[int][]float64
	nextID     int
	generation uint64
}

// NewEngine creates a clustering engine.
func NewEngine(batchCfg Config, assignCfg AssignConfig, continuityMaxDist float64) *Engine {
	return &Engine{
		batchCfg:          batchCfg,
		assignCfg:         assignCfg,
		continuityMaxDist: continuityMaxDist,
	}
}

// RunBatch clusters the feature matrix, reconciles cluster ids against the
// previous run and publishes the new centroid set. If another RunBatch
// call starts before this one publishes, this run returns ErrSuperseded
// and leaves the published state untouched.
func (e *Engine) RunBatch(ctx context.Context, vectors []features.Vector) (*BatchResult, error) {
	gen, prev := e.beginRun()

	result, err := Run(ctx, vectors, e.batchCfg)
	if err != nil {
		return nil, err
	}
	result.RunID = uuid.New().String()

	if err := e.publish(ctx, gen, prev, result); err != nil {
		return nil, err
	}
	return result, nil
}

// beginRun claims a run generation and snapshots the previous centroids.
func (e *Engine) beginRun() (uint64, map[int][]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	return e.generation, e.prev
}

// publish reconciles cluster ids and atomically exposes the new centroid
// set, unless the run was superseded or cancelled in the meantime.
func (e *Engine) publish(ctx context.Context, gen uint64, prev map[int][]float64, result *BatchResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	remap := Reconcile(prev, result.Clusters, e.continuityMaxDist, func() int {
		id := e.nextID
		e.nextID++
		return id
	})
	applyRemap(result, remap)

	centroids := make(map[int][]float64, len(result.Clusters))
	for id, cs := range result.Clusters {
		centroids[id] = cs.Centroid
	}
	e.prev = centroids
	e.published.Store(&CentroidSet{
		RunID:       result.RunID,
		GeneratedAt: time.Now(),
		Centroids:   centroids,
	})
	return nil
}

// Assign runs the incremental fast path against the most recently
// completed batch's centroids.
func (e *Engine) Assign(endpointID string, values []float64) (*models.Assignment, error) {
	return Assign(endpointID, values, e.published.Load(), e.assignCfg)
}

// Centroids returns the most recently published centroid set, or nil when
// no batch has completed.
func (e *Engine) Centroids() *CentroidSet {
	return e.published.Load()
}

func applyRemap(result *BatchResult, remap map[int]int) {
	for i, l := range result.Labels {
		if l >= 0 {
			result.Labels[i] = remap[l]
		}
	}
	clusters := make(map[int]*ClusterStat, len(result.Clusters))
	for raw, cs := range result.Clusters {
		stable := remap[raw]
		cs.ClusterID = stable
		clusters[stable] = cs
	}
	result.Clusters = clusters
	for _, a := range result.Assignments {
		if a.ClusterID >= 0 {
			a.ClusterID = remap[a.ClusterID]
		}
	}
}
