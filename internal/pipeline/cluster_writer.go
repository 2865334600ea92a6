package pipeline

import "segflow/pkg/models"

// ClusterWriter persists cluster snapshots.
type ClusterWriter interface {
	WriteSnapshot(snap *models.ClusterSnapshot) error
	Close() error
}
