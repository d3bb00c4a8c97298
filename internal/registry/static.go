// Package registry provides implementations of domain.Registry, the source of
// milestone and project-owner facts the settlement engine trusts.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Static is an in-memory registry. It backs dev mode and tests, and can be
// seeded from the config file.
type Static struct {
	mu         sync.RWMutex
	milestones map[string]domain.Milestone
	owners     map[string]common.Address
}

// NewStatic creates an empty Static registry.
func NewStatic() *Static {
	return &Static{
		milestones: make(map[string]domain.Milestone),
		owners:     make(map[string]common.Address),
	}
}

// PutMilestone adds or replaces a milestone.
func (s *Static) PutMilestone(m domain.Milestone) {
	s.mu.Lock()
	s.milestones[m.ID] = m
	s.mu.Unlock()
}

// SetOwner records the owner of projectID.
func (s *Static) SetOwner(projectID string, owner common.Address) {
	s.mu.Lock()
	s.owners[projectID] = owner
	s.mu.Unlock()
}

// Resolve marks a milestone resolved with the given achievement.
func (s *Static) Resolve(id string, achieved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[id]
	if !ok {
		return fmt.Errorf("registry: milestone %s: %w", id, domain.ErrNotFound)
	}
	m.Resolved = true
	m.Achieved = achieved
	s.milestones[id] = m
	return nil
}

// GetMilestone implements domain.Registry.
func (s *Static) GetMilestone(_ context.Context, id string) (domain.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	if !ok {
		return domain.Milestone{}, fmt.Errorf("registry: milestone %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// GetProjectOwner implements domain.Registry.
func (s *Static) GetProjectOwner(_ context.Context, projectID string) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[projectID]
	if !ok {
		return common.Address{}, fmt.Errorf("registry: project %s: %w", projectID, domain.ErrNotFound)
	}
	return owner, nil
}

var _ domain.Registry = (*Static)(nil)
