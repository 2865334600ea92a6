// Package flowjson normalizes raw flow records from the upstream
// collector feed into FlowObservations.
package flowjson

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"segflow/pkg/models"
)

// Parse converts one raw feed record into a normalized FlowObservation.
// Records missing an endpoint or peer identifier are rejected: without
// both sides the flow cannot contribute to any sketch.
func Parse(data []byte) (*models.FlowObservation, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode flow record: %w", err)
	}

	flow := &models.FlowObservation{
		EndpointID: getString(raw, "endpoint_id", "src.id", "source_id"),
		PeerID:     getString(raw, "peer_id", "dst.id", "dest_id"),
		SourceID:   getString(raw, "source_id", "sensor_id"),
		Protocol:   strings.ToLower(getString(raw, "protocol", "proto", "network.transport")),
		Service:    getString(raw, "service", "app", "network.application"),
		User:       getString(raw, "user", "user.name"),
	}

	if flow.EndpointID == "" {
		return nil, fmt.Errorf("flow record missing endpoint id")
	}
	if flow.PeerID == "" {
		return nil, fmt.Errorf("flow record missing peer id (endpoint_id=%s)", flow.EndpointID)
	}
	if flow.Protocol == "" {
		return nil, fmt.Errorf("flow record missing protocol (endpoint_id=%s)", flow.EndpointID)
	}

	port := getUint(raw, "port", "dst.port", "destination.port")
	if port > 65535 {
		return nil, fmt.Errorf("flow record port %d out of range (endpoint_id=%s)", port, flow.EndpointID)
	}
	flow.Port = uint16(port)

	flow.BytesIn = getUint(raw, "bytes_in", "network.bytes_in")
	flow.BytesOut = getUint(raw, "bytes_out", "network.bytes_out")
	flow.PacketsIn = getUint(raw, "packets_in", "network.packets_in")
	flow.PacketsOut = getUint(raw, "packets_out", "network.packets_out")

	if ts, ok := parseTimestamp(getString(raw, "ts", "@timestamp", "timestamp")); ok {
		flow.Timestamp = ts
	} else {
		flow.Timestamp = time.Now().UTC()
	}

	return flow, nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getUint(root map[string]interface{}, paths ...string) uint64 {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case float64:
				if val < 0 {
					continue
				}
				return uint64(val)
			case int:
				if val < 0 {
					continue
				}
				return uint64(val)
			case string:
				if val == "" {
					continue
				}
				var parsed uint64
				if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
					return parsed
				}
			}
		}
	}
	return 0
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
