package sketch

import (
	"fmt"
	"math/bits"
	"time"

	"segflow/pkg/models"
)

// Config sizes the probabilistic components of an endpoint sketch.
type Config struct {
	PeerPrecision    int
	ServicePrecision int
	PortPrecision    int
	CMSWidth         int
	CMSDepth         int
}

// DefaultConfig returns the sketch sizing used when the config file leaves
// the section empty. The resulting per-endpoint footprint is a few KB.
func DefaultConfig() Config {
	return Config{
		PeerPrecision:    12,
		ServicePrecision: 12,
		PortPrecision:    10,
		CMSWidth:         512,
		CMSDepth:         4,
	}
}

// EndpointSketch is the fixed-memory behavioral fingerprint of one
// endpoint: cardinality estimators for unique peers/services/ports,
// frequency estimators for port and service usage, exact traffic counters,
// first/last-seen timestamps and an active-hour bitmap.
//
// The struct is not safe for concurrent mutation; the Registry serializes
// writers per endpoint.
type EndpointSketch struct {
	endpointID string
	sourceID   string

	peers    *HLL
	services *HLL
	ports    *HLL

	portUse    *CMS
	serviceUse *CMS

	bytesIn    uint64
	bytesOut   uint64
	packetsIn  uint64
	packetsOut uint64
	flowCount  uint64

	firstSeen time.Time
	lastSeen  time.Time

	activeHours uint32 // one bit per hour-of-day

	localClusterID int
	syncVersion    uint64
}

// New creates an empty sketch for an endpoint.
func New(endpointID, sourceID string, cfg Config) (*EndpointSketch, error) {
	peers, err := NewHLL(cfg.PeerPrecision)
	if err != nil {
		return nil, fmt.Errorf("peer estimator: %w", err)
	}
	services, err := NewHLL(cfg.ServicePrecision)
	if err != nil {
		return nil, fmt.Errorf("service estimator: %w", err)
	}
	ports, err := NewHLL(cfg.PortPrecision)
	if err != nil {
		return nil, fmt.Errorf("port estimator: %w", err)
	}
	portUse, err := NewCMS(cfg.CMSWidth, cfg.CMSDepth)
	if err != nil {
		return nil, fmt.Errorf("port frequency estimator: %w", err)
	}
	serviceUse, err := NewCMS(cfg.CMSWidth, cfg.CMSDepth)
	if err != nil {
		return nil, fmt.Errorf("service frequency estimator: %w", err)
	}
	return &EndpointSketch{
		endpointID:     endpointID,
		sourceID:       sourceID,
		peers:          peers,
		services:       services,
		ports:          ports,
		portUse:        portUse,
		serviceUse:     serviceUse,
		localClusterID: models.NoiseClusterID,
	}, nil
}

// EndpointID returns the stable device identifier.
func (s *EndpointSketch) EndpointID() string { return s.endpointID }

// SourceID returns the collection point that built this sketch.
func (s *EndpointSketch) SourceID() string { return s.sourceID }

// SyncVersion returns the monotonic mutation counter.
func (s *EndpointSketch) SyncVersion() uint64 { return s.syncVersion }

// Update feeds one flow observation into the sketch. Every component
// folds commutatively, so the result does not depend on arrival order.
func (s *EndpointSketch) Update(flow *models.FlowObservation) {
	s.peers.AddString(flow.PeerID)
	svc := flow.ServiceKey()
	s.services.AddString(svc)
	portKey := uint64(flow.Port)
	s.ports.Add(HashString(flow.Protocol) ^ portKey)
	s.portUse.Increment(HashString(flow.Protocol)^portKey, 1)
	s.serviceUse.IncrementString(svc, 1)

	s.bytesIn += flow.BytesIn
	s.bytesOut += flow.BytesOut
	s.packetsIn += flow.PacketsIn
	s.packetsOut += flow.PacketsOut
	s.flowCount++

	ts := flow.Timestamp
	if !ts.IsZero() {
		if s.firstSeen.IsZero() || ts.Before(s.firstSeen) {
			s.firstSeen = ts
		}
		if ts.After(s.lastSeen) {
			s.lastSeen = ts
		}
		s.activeHours |= 1 << uint(ts.UTC().Hour())
	}

	s.syncVersion++
}

// Merge folds a peer source's sketch for the same endpoint into this one.
// Estimator components union, exact counters add, timestamps take min/max
// and the hour bitmap ORs. The counter addition is only correct when the
// two inputs cover disjoint observations; the Registry guarantees that by
// holding each source's state in its own slot and merging every slot
// exactly once per view.
func (s *EndpointSketch) Merge(other *EndpointSketch) error {
	if other == nil {
		return fmt.Errorf("merge with nil sketch")
	}
	if other.endpointID != s.endpointID {
		return fmt.Errorf("merge endpoint mismatch: %s != %s", other.endpointID, s.endpointID)
	}

	peers, err := s.peers.Merge(other.peers)
	if err != nil {
		return fmt.Errorf("merge peer estimator: %w", err)
	}
	services, err := s.services.Merge(other.services)
	if err != nil {
		return fmt.Errorf("merge service estimator: %w", err)
	}
	ports, err := s.ports.Merge(other.ports)
	if err != nil {
		return fmt.Errorf("merge port estimator: %w", err)
	}
	portUse, err := s.portUse.Merge(other.portUse)
	if err != nil {
		return fmt.Errorf("merge port frequency: %w", err)
	}
	serviceUse, err := s.serviceUse.Merge(other.serviceUse)
	if err != nil {
		return fmt.Errorf("merge service frequency: %w", err)
	}

	s.peers = peers
	s.services = services
	s.ports = ports
	s.portUse = portUse
	s.serviceUse = serviceUse

	s.bytesIn += other.bytesIn
	s.bytesOut += other.bytesOut
	s.packetsIn += other.packetsIn
	s.packetsOut += other.packetsOut
	s.flowCount += other.flowCount

	if !other.firstSeen.IsZero() && (s.firstSeen.IsZero() || other.firstSeen.Before(s.firstSeen)) {
		s.firstSeen = other.firstSeen
	}
	if other.lastSeen.After(s.lastSeen) {
		s.lastSeen = other.lastSeen
	}
	s.activeHours |= other.activeHours

	if other.syncVersion > s.syncVersion {
		s.syncVersion = other.syncVersion
	}
	s.syncVersion++
	return nil
}

// clone returns an independent copy sharing no mutable state.
func (s *EndpointSketch) clone() *EndpointSketch {
	c := *s
	c.peers = s.peers.Clone()
	c.services = s.services.Clone()
	c.ports = s.ports.Clone()
	c.portUse = s.portUse.Clone()
	c.serviceUse = s.serviceUse.Clone()
	return &c
}

// SetLocalCluster records a fast local grouping hint.
func (s *EndpointSketch) SetLocalCluster(id int) {
	s.localClusterID = id
	s.syncVersion++
}

// Validate checks the sketch for structural corruption. A failure is fatal
// for this sketch only; callers drop and rebuild it.
func (s *EndpointSketch) Validate() error {
	if s.endpointID == "" {
		return fmt.Errorf("sketch has empty endpoint id")
	}
	if !s.firstSeen.IsZero() && !s.lastSeen.IsZero() && s.lastSeen.Before(s.firstSeen) {
		return fmt.Errorf("sketch %s last_seen precedes first_seen", s.endpointID)
	}
	if s.flowCount == 0 && (s.bytesIn > 0 || s.bytesOut > 0) {
		return fmt.Errorf("sketch %s has traffic but zero flows", s.endpointID)
	}
	if err := s.peers.Validate(); err != nil {
		return fmt.Errorf("sketch %s: %w", s.endpointID, err)
	}
	if err := s.services.Validate(); err != nil {
		return fmt.Errorf("sketch %s: %w", s.endpointID, err)
	}
	if err := s.ports.Validate(); err != nil {
		return fmt.Errorf("sketch %s: %w", s.endpointID, err)
	}
	if err := s.portUse.Validate(); err != nil {
		return fmt.Errorf("sketch %s: %w", s.endpointID, err)
	}
	if err := s.serviceUse.Validate(); err != nil {
		return fmt.Errorf("sketch %s: %w", s.endpointID, err)
	}
	return nil
}

// Snapshot is a read-only, self-contained view of a sketch taken at one
// sync version, safe to hand to the clustering path while updates continue.
type Snapshot struct {
	EndpointID      string    `json:"endpoint_id"`
	SourceID        string    `json:"source_id,omitempty"`
	UniquePeers     float64   `json:"unique_peers"`
	UniqueServices  float64   `json:"unique_services"`
	UniquePorts     float64   `json:"unique_ports"`
	BytesIn         uint64    `json:"bytes_in"`
	BytesOut        uint64    `json:"bytes_out"`
	PacketsIn       uint64    `json:"packets_in"`
	PacketsOut      uint64    `json:"packets_out"`
	FlowCount       uint64    `json:"flow_count"`
	FirstSeen       time.Time `json:"first_seen,omitempty"`
	LastSeen        time.Time `json:"last_seen,omitempty"`
	ActiveHours     uint32    `json:"active_hours"`
	ActiveHourCount int       `json:"active_hour_count"`
	LocalClusterID  int       `json:"local_cluster_id"`
	SyncVersion     uint64    `json:"sync_version"`
}

// Snapshot captures the sketch's current state as plain values.
func (s *EndpointSketch) Snapshot() *Snapshot {
	return &Snapshot{
		EndpointID:      s.endpointID,
		SourceID:        s.sourceID,
		UniquePeers:     s.peers.Estimate(),
		UniqueServices:  s.services.Estimate(),
		UniquePorts:     s.ports.Estimate(),
		BytesIn:         s.bytesIn,
		BytesOut:        s.bytesOut,
		PacketsIn:       s.packetsIn,
		PacketsOut:      s.packetsOut,
		FlowCount:       s.flowCount,
		FirstSeen:       s.firstSeen,
		LastSeen:        s.lastSeen,
		ActiveHours:     s.activeHours,
		ActiveHourCount: bits.OnesCount32(s.activeHours),
		LocalClusterID:  s.localClusterID,
		SyncVersion:     s.syncVersion,
	}
}

// PortFrequency returns the estimated usage count for a protocol/port pair.
func (s *EndpointSketch) PortFrequency(protocol string, port uint16) uint64 {
	return s.portUse.Estimate(HashString(protocol) ^ uint64(port))
}

// ServiceFrequency returns the estimated usage count for a service key.
func (s *EndpointSketch) ServiceFrequency(service string) uint64 {
	return s.serviceUse.EstimateString(service)
}
