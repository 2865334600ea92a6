// Package overrides persists operator-supplied manual decisions: tag
// bindings, cluster reassignments and rule edits. Manual records take
// precedence over computed results and survive restarts through a JSON
// file.
package overrides

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"segflow/pkg/models"
)

type document struct {
	Tags          map[int]*models.TagAssignment `json:"tags,omitempty"`
	Reassignments map[string]int                `json:"reassignments,omitempty"`
	Rules         map[string][]*models.Rule     `json:"rules,omitempty"`
}

// Store is a file-backed collection of manual overrides. It satisfies
// the tag mapper's and rule generator's override interfaces.
type Store struct {
	path string

	mu  sync.RWMutex
	doc document
}

// NewStore creates an empty store persisted at path. The file is created
// on first Save.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		doc: document{
			Tags:          make(map[int]*models.TagAssignment),
			Reassignments: make(map[string]int),
			Rules:         make(map[string][]*models.Rule),
		},
	}
}

// Load reads overrides from the backing file. A missing file leaves the
// store empty and is not an error.
func Load(path string) (*Store, error) {
	s := NewStore(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read overrides file %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}
	if doc.Tags != nil {
		s.doc.Tags = doc.Tags
	}
	if doc.Reassignments != nil {
		s.doc.Reassignments = doc.Reassignments
	}
	if doc.Rules != nil {
		s.doc.Rules = doc.Rules
	}
	for _, ta := range s.doc.Tags {
		ta.Manual = true
	}
	return s, nil
}

// Save writes the current overrides back to the backing file.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write overrides file %s: %w", s.path, err)
	}
	return nil
}

// TagFor returns the manual tag binding for a cluster, if any.
func (s *Store) TagFor(clusterID int) (*models.TagAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ta, ok := s.doc.Tags[clusterID]
	return ta, ok
}

// SetTag records a manual tag binding for a cluster.
func (s *Store) SetTag(clusterID int, ta *models.TagAssignment) {
	ta.ClusterID = clusterID
	ta.Manual = true
	s.mu.Lock()
	s.doc.Tags[clusterID] = ta
	s.mu.Unlock()
}

// ReassignmentFor returns the manually pinned cluster for an endpoint,
// if an operator has overridden its computed assignment.
func (s *Store) ReassignmentFor(endpointID string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.doc.Reassignments[endpointID]
	return id, ok
}

// SetReassignment pins an endpoint to a cluster regardless of what the
// assignment engine computes for it.
func (s *Store) SetReassignment(endpointID string, clusterID int) {
	s.mu.Lock()
	s.doc.Reassignments[endpointID] = clusterID
	s.mu.Unlock()
}

// ApplyReassignment replaces a computed assignment with the operator's
// pinned cluster when one exists. The returned assignment carries full
// confidence and manual status.
func (s *Store) ApplyReassignment(a *models.Assignment) *models.Assignment {
	clusterID, ok := s.ReassignmentFor(a.EndpointID)
	if !ok {
		return a
	}
	return &models.Assignment{
		EndpointID: a.EndpointID,
		ClusterID:  clusterID,
		Confidence: 1.0,
		Status:     models.StatusManual,
	}
}

// RulesFor returns the operator-edited rule list for a policy cell.
func (s *Store) RulesFor(cellKey string) ([]*models.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules, ok := s.doc.Rules[cellKey]
	return rules, ok
}

// SetRules records an operator-edited rule list for a policy cell.
func (s *Store) SetRules(cellKey string, rules []*models.Rule) {
	for _, r := range rules {
		r.Manual = true
	}
	s.mu.Lock()
	s.doc.Rules[cellKey] = rules
	s.mu.Unlock()
}
