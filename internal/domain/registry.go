package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Milestone is a project deliverable with a due date and an eventual
// achieved/not-achieved resolution.
type Milestone struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	Resolved    bool      `json:"resolved"`
	Achieved    bool      `json:"achieved"`
}

// Registry is the read-only source of milestone and project facts.
type Registry interface {
	GetMilestone(ctx context.Context, id string) (Milestone, error)
	GetProjectOwner(ctx context.Context, projectID string) (common.Address, error)
}
