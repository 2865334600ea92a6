package models

import (
	"strconv"
	"time"
)

// FlowObservation is one observed traffic record for a single endpoint,
// as delivered by the upstream flow-parsing collaborator.
type FlowObservation struct {
	Timestamp  time.Time `json:"ts"`
	EndpointID string    `json:"endpoint_id"`
	SourceID   string    `json:"source_id,omitempty"`
	PeerID     string    `json:"peer_id"`
	Protocol   string    `json:"protocol"`
	Port       uint16    `json:"port"`
	Service    string    `json:"service,omitempty"`
	BytesIn    uint64    `json:"bytes_in"`
	BytesOut   uint64    `json:"bytes_out"`
	PacketsIn  uint64    `json:"packets_in"`
	PacketsOut uint64    `json:"packets_out"`
	User       string    `json:"user,omitempty"`
}

// ServiceKey returns the service identifier for the flow, deriving a
// protocol/port key when the feed did not name the service.
func (f *FlowObservation) ServiceKey() string {
	if f.Service != "" {
		return f.Service
	}
	return f.Protocol + "/" + strconv.Itoa(int(f.Port))
}
