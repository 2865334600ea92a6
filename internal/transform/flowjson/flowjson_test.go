package flowjson

import (
	"testing"
	"time"
)

func TestParseFullRecord(t *testing.T) {
	data := []byte(`{
		"ts": "2026-04-01T12:30:00Z",
		"endpoint_id": "host-1",
		"peer_id": "host-2",
		"protocol": "TCP",
		"port": 443,
		"service": "https",
		"bytes_in": 1200,
		"bytes_out": 4800,
		"packets_in": 10,
		"packets_out": 12,
		"user": "alice"
	}`)

	flow, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if flow.EndpointID != "host-1" || flow.PeerID != "host-2" {
		t.Fatalf("identifiers wrong: %+v", flow)
	}
	if flow.Protocol != "tcp" {
		t.Fatalf("protocol not lowercased: %q", flow.Protocol)
	}
	if flow.Port != 443 || flow.BytesOut != 4800 || flow.User != "alice" {
		t.Fatalf("fields wrong: %+v", flow)
	}
	want := time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC)
	if !flow.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", flow.Timestamp, want)
	}
}

func TestParseNestedFieldFallbacks(t *testing.T) {
	data := []byte(`{
		"@timestamp": "2026-04-01T12:30:00.123456Z",
		"src": {"id": "host-3"},
		"dst": {"id": "host-4", "port": 53},
		"network": {"transport": "udp", "bytes_in": 90}
	}`)

	flow, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if flow.EndpointID != "host-3" || flow.PeerID != "host-4" {
		t.Fatalf("nested identifiers not resolved: %+v", flow)
	}
	if flow.Protocol != "udp" || flow.Port != 53 || flow.BytesIn != 90 {
		t.Fatalf("nested fields not resolved: %+v", flow)
	}
}

func TestParseRejectsIncompleteRecords(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{broken`},
		{"missing endpoint", `{"peer_id":"host-2","protocol":"tcp","port":80}`},
		{"missing peer", `{"endpoint_id":"host-1","protocol":"tcp","port":80}`},
		{"missing protocol", `{"endpoint_id":"host-1","peer_id":"host-2","port":80}`},
		{"port out of range", `{"endpoint_id":"host-1","peer_id":"host-2","protocol":"tcp","port":70000}`},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.data)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestParseMissingTimestampDefaultsToNow(t *testing.T) {
	data := []byte(`{"endpoint_id":"host-1","peer_id":"host-2","protocol":"tcp","port":80}`)
	flow, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if time.Since(flow.Timestamp) > time.Minute {
		t.Fatalf("timestamp not defaulted: %v", flow.Timestamp)
	}
}
