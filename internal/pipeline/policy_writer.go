package pipeline

import "segflow/pkg/models"

// PolicyWriter persists policy snapshots.
type PolicyWriter interface {
	WriteSnapshot(snap *models.PolicySnapshot) error
	Close() error
}
