// Package clusterjson writes cluster snapshots to a JSON lines file.
package clusterjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"segflow/internal/logger"
	"segflow/pkg/models"
)

// Writer outputs cluster snapshots to a JSON lines file, one snapshot
// per line.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer for cluster snapshots.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Cluster JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteSnapshot appends one cluster snapshot.
func (w *Writer) WriteSnapshot(snap *models.ClusterSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode cluster snapshot: %w", err)
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
