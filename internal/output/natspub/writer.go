// Package natspub publishes cluster and policy snapshots on NATS
// subjects for downstream consumers (enforcement points, dashboards).
package natspub

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"segflow/internal/logger"
	"segflow/pkg/models"
)

// Config configures the NATS publisher.
type Config struct {
	URL            string
	ClusterSubject string
	PolicySubject  string
}

// Writer publishes snapshots over a NATS connection.
type Writer struct {
	nc             *nats.Conn
	clusterSubject string
	policySubject  string
}

// NewWriter connects to NATS and prepares the publisher.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ClusterSubject == "" {
		cfg.ClusterSubject = "segflow.clusters"
	}
	if cfg.PolicySubject == "" {
		cfg.PolicySubject = "segflow.policy"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	logger.Infof("NATS publisher connected: %s", cfg.URL)
	return &Writer{
		nc:             nc,
		clusterSubject: cfg.ClusterSubject,
		policySubject:  cfg.PolicySubject,
	}, nil
}

// WriteClusterSnapshot publishes one cluster snapshot.
func (w *Writer) WriteClusterSnapshot(snap *models.ClusterSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode cluster snapshot: %w", err)
	}
	if err := w.nc.Publish(w.clusterSubject, data); err != nil {
		return fmt.Errorf("failed to publish cluster snapshot: %w", err)
	}
	return nil
}

// WritePolicySnapshot publishes one policy snapshot.
func (w *Writer) WritePolicySnapshot(snap *models.PolicySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode policy snapshot: %w", err)
	}
	if err := w.nc.Publish(w.policySubject, data); err != nil {
		return fmt.Errorf("failed to publish policy snapshot: %w", err)
	}
	return nil
}

// Close flushes and closes the connection.
func (w *Writer) Close() error {
	if w.nc != nil {
		if err := w.nc.Flush(); err != nil {
			logger.Errorf("Failed to flush NATS connection: %v", err)
		}
		w.nc.Close()
	}
	return nil
}
