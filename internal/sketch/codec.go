package sketch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire forms carry full estimator state between enforcement points.
// HLL registers ride as base64 via the []byte JSON encoding.

type wireHLL struct {
	Precision uint8  `json:"p"`
	Registers []byte `json:"r"`
}

type wireCMS struct {
	Width int        `json:"w"`
	Depth int        `json:"d"`
	Rows  [][]uint64 `json:"rows"`
}

type wireSketch struct {
	EndpointID   string    `json:"endpoint_id"`
	SourceID     string    `json:"source_id,omitempty"`
	Peers        wireHLL   `json:"peers"`
	Services     wireHLL   `json:"services"`
	Ports        wireHLL   `json:"ports"`
	PortUse      wireCMS   `json:"port_use"`
	ServiceUse   wireCMS   `json:"service_use"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	PacketsIn    uint64    `json:"packets_in"`
	PacketsOut   uint64    `json:"packets_out"`
	FlowCount    uint64    `json:"flow_count"`
	FirstSeen    time.Time `json:"first_seen,omitempty"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
	ActiveHours  uint32    `json:"active_hours"`
	LocalCluster int       `json:"local_cluster"`
	SyncVersion  uint64    `json:"sync_version"`
}

func encodeHLL(h *HLL) wireHLL {
	return wireHLL{Precision: h.precision, Registers: append([]byte(nil), h.registers...)}
}

func decodeHLL(w wireHLL) (*HLL, error) {
	h := &HLL{precision: w.Precision, registers: append([]uint8(nil), w.Registers...)}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func encodeCMS(c *CMS) wireCMS {
	rows := make([][]uint64, c.depth)
	for i := range c.counters {
		rows[i] = append([]uint64(nil), c.counters[i]...)
	}
	return wireCMS{Width: c.width, Depth: c.depth, Rows: rows}
}

func decodeCMS(w wireCMS) (*CMS, error) {
	c := &CMS{width: w.Width, depth: w.Depth, counters: w.Rows}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serializes the full sketch state for sync transport.
func (s *EndpointSketch) Encode() ([]byte, error) {
	w := wireSketch{
		EndpointID:   s.endpointID,
		SourceID:     s.sourceID,
		Peers:        encodeHLL(s.peers),
		Services:     encodeHLL(s.services),
		Ports:        encodeHLL(s.ports),
		PortUse:      encodeCMS(s.portUse),
		ServiceUse:   encodeCMS(s.serviceUse),
		BytesIn:      s.bytesIn,
		BytesOut:     s.bytesOut,
		PacketsIn:    s.packetsIn,
		PacketsOut:   s.packetsOut,
		FlowCount:    s.flowCount,
		FirstSeen:    s.firstSeen,
		LastSeen:     s.lastSeen,
		ActiveHours:  s.activeHours,
		LocalCluster: s.localClusterID,
		SyncVersion:  s.syncVersion,
	}
	data, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("encode sketch %s: %w", s.endpointID, err)
	}
	return data, nil
}

// Decode rebuilds a sketch from its wire form, validating every
// component before the result is allowed near a registry.
func Decode(data []byte) (*EndpointSketch, error) {
	var w wireSketch
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode sketch payload: %w", err)
	}
	if w.EndpointID == "" {
		return nil, fmt.Errorf("decoded sketch has empty endpoint id")
	}

	peers, err := decodeHLL(w.Peers)
	if err != nil {
		return nil, fmt.Errorf("decode peer estimator for %s: %w", w.EndpointID, err)
	}
	services, err := decodeHLL(w.Services)
	if err != nil {
		return nil, fmt.Errorf("decode service estimator for %s: %w", w.EndpointID, err)
	}
	ports, err := decodeHLL(w.Ports)
	if err != nil {
		return nil, fmt.Errorf("decode port estimator for %s: %w", w.EndpointID, err)
	}
	portUse, err := decodeCMS(w.PortUse)
	if err != nil {
		return nil, fmt.Errorf("decode port frequency for %s: %w", w.EndpointID, err)
	}
	serviceUse, err := decodeCMS(w.ServiceUse)
	if err != nil {
		return nil, fmt.Errorf("decode service frequency for %s: %w", w.EndpointID, err)
	}

	s := &EndpointSketch{
		endpointID:     w.EndpointID,
		sourceID:       w.SourceID,
		peers:          peers,
		services:       services,
		ports:          ports,
		portUse:        portUse,
		serviceUse:     serviceUse,
		bytesIn:        w.BytesIn,
		bytesOut:       w.BytesOut,
		packetsIn:      w.PacketsIn,
		packetsOut:     w.PacketsOut,
		flowCount:      w.FlowCount,
		firstSeen:      w.FirstSeen,
		lastSeen:       w.LastSeen,
		activeHours:    w.ActiveHours,
		localClusterID: w.LocalCluster,
		syncVersion:    w.SyncVersion,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
