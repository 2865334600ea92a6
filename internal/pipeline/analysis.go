package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"segflow/internal/cluster"
	"segflow/internal/features"
	"segflow/internal/identity"
	"segflow/internal/labeling"
	"segflow/internal/logger"
	"segflow/internal/metrics"
	"segflow/internal/overrides"
	"segflow/internal/policy"
	"segflow/internal/sketch"
	"segflow/internal/syncstate"
	"segflow/internal/tags"
	"segflow/pkg/models"
)

// AnalyzerConfig controls the periodic analysis path.
type AnalyzerConfig struct {
	Interval time.Duration
	// AssignInterval is the sub-interval tick for the incremental fast
	// path over new and changed endpoints.
	AssignInterval    time.Duration
	MinRuleConfidence float64
	Features          features.Config
}

// Analyzer runs the full batch path on a schedule: snapshot sketches,
// extract features, cluster, label, map tags, build the policy matrix
// and export both snapshots.
type Analyzer struct {
	cfg      AnalyzerConfig
	registry *sketch.Registry
	engine   *cluster.Engine
	provider identity.Provider
	labeler  *labeling.Labeler
	mapper   *tags.Mapper
	store    *overrides.Store
	window   *FlowWindow

	clusterWriters []ClusterWriter
	policyWriters  []PolicyWriter
	sync           *syncstate.Store
	met            *metrics.Metrics

	prevTags  []*models.TagAssignment
	syncFloor uint64
	lastPull  time.Time

	// seenVersion records each endpoint's combined sketch version as of
	// the last pass, so the fast path only touches new or changed ones.
	seenVersion map[string]uint64
}

// NewAnalyzer wires the analysis path. The overrides store, sync store
// and metrics set may be nil; writers may be empty.
func NewAnalyzer(cfg AnalyzerConfig, registry *sketch.Registry, engine *cluster.Engine, provider identity.Provider, labeler *labeling.Labeler, mapper *tags.Mapper, store *overrides.Store, window *FlowWindow) *Analyzer {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.AssignInterval <= 0 {
		cfg.AssignInterval = cfg.Interval / 5
	}
	if cfg.AssignInterval < 30*time.Second {
		cfg.AssignInterval = 30 * time.Second
	}
	if cfg.MinRuleConfidence <= 0 {
		cfg.MinRuleConfidence = 0.1
	}
	if provider == nil {
		provider = identity.NoopProvider{}
	}
	return &Analyzer{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		provider: provider,
		labeler:  labeler,
		mapper:   mapper,
		store:    store,
		window:   window,
	}
}

// AddClusterWriter attaches a cluster snapshot sink.
func (a *Analyzer) AddClusterWriter(w ClusterWriter) { a.clusterWriters = append(a.clusterWriters, w) }

// AddPolicyWriter attaches a policy snapshot sink.
func (a *Analyzer) AddPolicyWriter(w PolicyWriter) { a.policyWriters = append(a.policyWriters, w) }

// SetSyncStore attaches the sketch-delta sync store.
func (a *Analyzer) SetSyncStore(s *syncstate.Store) { a.sync = s }

// SetMetrics attaches the instrument set.
func (a *Analyzer) SetMetrics(m *metrics.Metrics) { a.met = m }

// Run triggers RunOnce on the configured interval until ctx is
// cancelled, with the incremental assignment fast path ticking on the
// shorter sub-interval in between. A superseded run is skipped quietly;
// the next tick starts over from fresh snapshots.
func (a *Analyzer) Run(ctx context.Context) error {
	batch := time.NewTicker(a.cfg.Interval)
	defer batch.Stop()
	assign := time.NewTicker(a.cfg.AssignInterval)
	defer assign.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-batch.C:
			if _, _, err := a.RunOnce(ctx); err != nil {
				if errors.Is(err, cluster.ErrSuperseded) {
					logger.Debugf("Analysis run superseded, skipping")
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Errorf("Analysis run failed: %v", err)
			}
		case <-assign.C:
			snap, err := a.AssignPending(ctx)
			if err != nil {
				logger.Warnf("Incremental assignment failed: %v", err)
				continue
			}
			if snap != nil {
				logger.Debugf("Incremental assignment covered %d endpoints", len(snap.Assignments))
			}
		}
	}
}

// RunOnce executes one complete analysis pass and writes the resulting
// snapshots to every attached sink.
func (a *Analyzer) RunOnce(ctx context.Context) (*models.ClusterSnapshot, *models.PolicySnapshot, error) {
	started := time.Now()

	if a.sync != nil {
		if merged, err := a.sync.PullSince(ctx, a.lastPull, 0, a.registry); err != nil {
			logger.Warnf("Sketch sync pull failed: %v", err)
		} else if merged > 0 {
			logger.Infof("Merged %d remote sketch deltas", merged)
		}
		a.lastPull = started
	}

	snaps, snapErrs := a.registry.SnapshotAll()
	for _, err := range snapErrs {
		logger.Warnf("Dropped corrupt sketch: %v", err)
		if a.met != nil {
			a.met.SketchesDropped.Inc()
		}
	}

	ids := make([]string, len(snaps))
	snapByID := make(map[string]*sketch.Snapshot, len(snaps))
	for i, s := range snaps {
		ids[i] = s.EndpointID
		snapByID[s.EndpointID] = s
	}
	identities := identity.ResolveAll(a.provider, ids)

	vectors := features.ExtractAll(snaps, identities, a.cfg.Features)

	result, err := a.engine.RunBatch(ctx, vectors)
	if err != nil {
		if a.met != nil {
			outcome := "error"
			if errors.Is(err, cluster.ErrSuperseded) {
				outcome = "superseded"
			}
			a.met.AnalysisRuns.WithLabelValues(outcome).Inc()
		}
		return nil, nil, err
	}

	clusterSnap := a.buildClusterSnapshot(result, vectors, snapByID, identities, snapErrs)
	policySnap := a.buildPolicySnapshot(result.RunID, clusterSnap)

	a.export(clusterSnap, policySnap)

	if a.sync != nil {
		deltas, err := a.registry.ExportSince(a.syncFloor)
		if err != nil {
			logger.Warnf("Sketch delta export failed: %v", err)
		} else if err := a.sync.Push(ctx, deltas); err != nil {
			logger.Warnf("Sketch sync push failed: %v", err)
		} else {
			a.syncFloor = a.registry.MaxSyncVersion()
		}
	}

	a.observe(clusterSnap, policySnap, time.Since(started))
	logger.Infof("Analysis run %s: %d clusters, %d assignments, %d policy cells",
		result.RunID, len(clusterSnap.Clusters), len(clusterSnap.Assignments), len(policySnap.Cells))
	return clusterSnap, policySnap, nil
}

// AssignPending runs the incremental fast path: endpoints whose sketches
// are new or changed since the last pass are placed against the latest
// published centroids and the resulting assignments written to the
// cluster sinks. Returns nil without error when no batch has completed
// yet or nothing changed.
func (a *Analyzer) AssignPending(ctx context.Context) (*models.ClusterSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cs := a.engine.Centroids()
	if cs == nil {
		return nil, nil
	}

	snaps, snapErrs := a.registry.SnapshotAll()
	for _, err := range snapErrs {
		logger.Warnf("Dropped corrupt sketch: %v", err)
		if a.met != nil {
			a.met.SketchesDropped.Inc()
		}
	}

	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.EndpointID
	}
	identities := identity.ResolveAll(a.provider, ids)
	vectors := features.ExtractAll(snaps, identities, a.cfg.Features)

	var assignments []*models.Assignment
	pending := 0
	for _, v := range vectors {
		if seen, ok := a.seenVersion[v.EndpointID]; ok && v.SyncVersion <= seen {
			continue
		}
		asg, err := a.engine.Assign(v.EndpointID, v.Values)
		if err != nil {
			return nil, err
		}
		if a.store != nil {
			asg = a.store.ApplyReassignment(asg)
		}
		if committed(asg.Status) {
			a.registry.SetLocalCluster(asg.EndpointID, asg.ClusterID)
		}
		if asg.Status == models.StatusPendingReview {
			pending++
		}
		assignments = append(assignments, asg)
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	versions := a.registry.Versions()
	if a.seenVersion == nil {
		a.seenVersion = make(map[string]uint64, len(assignments))
	}
	for _, asg := range assignments {
		a.seenVersion[asg.EndpointID] = versions[asg.EndpointID]
	}

	snap := &models.ClusterSnapshot{
		RunID:       cs.RunID,
		GeneratedAt: time.Now().UTC(),
		Assignments: assignments,
	}
	for _, w := range a.clusterWriters {
		if err := w.WriteSnapshot(snap); err != nil {
			logger.Errorf("Failed to write assignment snapshot: %v", err)
		} else if a.met != nil {
			a.met.SnapshotsExported.WithLabelValues("cluster", "writer").Inc()
		}
	}
	if a.met != nil && pending > 0 {
		a.met.PendingReview.Add(float64(pending))
	}
	return snap, nil
}

func (a *Analyzer) buildClusterSnapshot(result *cluster.BatchResult, vectors []features.Vector, snapByID map[string]*sketch.Snapshot, identities map[string]*models.IdentityContext, snapErrs []error) *models.ClusterSnapshot {
	clusterIDs := make([]int, 0, len(result.Clusters))
	for id := range result.Clusters {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	labels := make(map[int]*labeling.Label, len(clusterIDs))
	clusters := make([]*models.Cluster, 0, len(clusterIDs))
	for _, id := range clusterIDs {
		cs := result.Clusters[id]
		members := make([]labeling.Member, 0, len(cs.Members))
		memberIDs := make([]string, 0, len(cs.Members))
		for _, idx := range cs.Members {
			eid := vectors[idx].EndpointID
			memberIDs = append(memberIDs, eid)
			members = append(members, labeling.Member{
				EndpointID: eid,
				Identity:   identities[eid],
				Snapshot:   snapByID[eid],
			})
		}

		label := a.labeler.Label(&labeling.ClusterProfile{ClusterID: id, Members: members})
		labels[id] = label
		clusters = append(clusters, &models.Cluster{
			ClusterID:          id,
			RunID:              result.RunID,
			Members:            memberIDs,
			Centroid:           cs.Centroid,
			Size:               len(cs.Members),
			Quality:            cs.Quality,
			Label:              label.Name,
			LabelConfidence:    label.Confidence,
			LabelJustification: label.Justification,
		})
	}

	var tagOv tags.Overrides
	if a.store != nil {
		tagOv = a.store
	}
	tagsOut, tagErrs := a.mapper.MapAll(labels, a.prevTags, tagOv)
	a.prevTags = tagsOut

	assignments := result.Assignments
	if a.store != nil {
		for i, asg := range assignments {
			assignments[i] = a.store.ApplyReassignment(asg)
		}
	}
	for _, asg := range assignments {
		if committed(asg.Status) {
			a.registry.SetLocalCluster(asg.EndpointID, asg.ClusterID)
		}
	}
	// The batch evaluated every endpoint; the fast path only has to
	// look at sketches that move past these versions.
	a.seenVersion = a.registry.Versions()

	errs := make([]string, 0, len(snapErrs)+len(tagErrs))
	for _, err := range snapErrs {
		errs = append(errs, err.Error())
	}
	for _, err := range tagErrs {
		errs = append(errs, err.Error())
	}

	return &models.ClusterSnapshot{
		RunID:       result.RunID,
		GeneratedAt: time.Now().UTC(),
		Clusters:    clusters,
		Assignments: assignments,
		Tags:        tagsOut,
		Errors:      errs,
	}
}

func (a *Analyzer) buildPolicySnapshot(runID string, clusterSnap *models.ClusterSnapshot) *models.PolicySnapshot {
	tagByCluster := make(map[int]int, len(clusterSnap.Tags))
	for _, ta := range clusterSnap.Tags {
		tagByCluster[ta.ClusterID] = ta.TagValue
	}
	tagByEndpoint := make(map[string]int, len(clusterSnap.Assignments))
	for _, asg := range clusterSnap.Assignments {
		if !committed(asg.Status) {
			continue
		}
		if tag, ok := tagByCluster[asg.ClusterID]; ok {
			tagByEndpoint[asg.EndpointID] = tag
		}
	}

	var tagged []*models.TaggedFlow
	if a.window != nil {
		for _, flow := range a.window.Snapshot() {
			srcTag, ok := tagByEndpoint[flow.EndpointID]
			if !ok {
				continue
			}
			dstTag, ok := tagByEndpoint[flow.PeerID]
			if !ok {
				continue
			}
			tagged = append(tagged, &models.TaggedFlow{
				Timestamp:   flow.Timestamp,
				SrcTag:      srcTag,
				DstTag:      dstTag,
				SrcEndpoint: flow.EndpointID,
				DstEndpoint: flow.PeerID,
				Protocol:    flow.Protocol,
				Port:        flow.Port,
				Bytes:       flow.BytesIn + flow.BytesOut,
				User:        flow.User,
			})
		}
	}

	matrix := policy.BuildMatrix(tagged)
	var ruleOv policy.RuleOverrides
	if a.store != nil {
		ruleOv = a.store
	}
	policy.RecommendAll(matrix, a.cfg.MinRuleConfidence, ruleOv)

	return &models.PolicySnapshot{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Cells:       matrix.SortedCells(),
	}
}

func (a *Analyzer) export(clusterSnap *models.ClusterSnapshot, policySnap *models.PolicySnapshot) {
	for _, w := range a.clusterWriters {
		if err := w.WriteSnapshot(clusterSnap); err != nil {
			logger.Errorf("Failed to write cluster snapshot: %v", err)
		} else if a.met != nil {
			a.met.SnapshotsExported.WithLabelValues("cluster", "writer").Inc()
		}
	}
	for _, w := range a.policyWriters {
		if err := w.WriteSnapshot(policySnap); err != nil {
			logger.Errorf("Failed to write policy snapshot: %v", err)
		} else if a.met != nil {
			a.met.SnapshotsExported.WithLabelValues("policy", "writer").Inc()
		}
	}
}

func (a *Analyzer) observe(clusterSnap *models.ClusterSnapshot, policySnap *models.PolicySnapshot, elapsed time.Duration) {
	if a.met == nil {
		return
	}
	noise, pending := 0, 0
	for _, asg := range clusterSnap.Assignments {
		switch asg.Status {
		case models.StatusNoise:
			noise++
		case models.StatusPendingReview:
			pending++
		}
	}
	a.met.AnalysisRuns.WithLabelValues("ok").Inc()
	a.met.AnalysisDuration.Observe(elapsed.Seconds())
	a.met.ClustersFound.Set(float64(len(clusterSnap.Clusters)))
	a.met.NoiseEndpoints.Set(float64(noise))
	a.met.PendingReview.Set(float64(pending))
	a.met.PolicyCells.Set(float64(len(policySnap.Cells)))
}

func committed(status models.AssignmentStatus) bool {
	switch status {
	case models.StatusAssigned, models.StatusLowConfidence, models.StatusManual:
		return true
	}
	return false
}
