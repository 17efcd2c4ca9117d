package models

import "time"

type WorkflowStatus string

const (
	DraftWorkflowStatus  WorkflowStatus = "DRAFT"
	ActiveWorkflowStatus WorkflowStatus = "ACTIVE"
	PausedWorkflowStatus WorkflowStatus = "PAUSED"
)

// Valid reports whether s is one of the known workflow statuses.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case DraftWorkflowStatus, ActiveWorkflowStatus, PausedWorkflowStatus:
		return true
	}
	return false
}

// Step is a single ordered unit of a workflow definition.
type Step struct {
	ID             int    `json:"id" db:"id" toml:"id"`
	Title          string `json:"title" db:"title" toml:"title" validate:"required,max=200"`
	AssignedToRole string `json:"assigned_to_role" db:"assigned_to_role" toml:"assigned_to_role" validate:"required"`
	DaysToComplete int    `json:"days_to_complete" db:"days_to_complete" toml:"days_to_complete" validate:"gte=0"`
	Required       bool   `json:"required" db:"required" toml:"required"`
}

// WorkflowDefinition is a reusable, ordered template of steps for a repeatable church process
// (e.g. "New Member Onboarding"). Running it spawns one Task per step.
type WorkflowDefinition struct {
	ID           int64          `json:"id" db:"id"`                       // PostgreSQL auto-increment
	Name         string         `json:"name" db:"name"`                   // e.g. "New Member Onboarding"
	Category     string         `json:"category" db:"category"`           // e.g. "Membership", "Pastoral Care"
	TriggerEvent string         `json:"trigger_event" db:"trigger_event"` // e.g. "member_registered"; empty means manual only
	Description  string         `json:"description,omitempty" db:"description"`
	Status       WorkflowStatus `json:"status" db:"status"`
	Steps        []Step         `json:"steps"`                // Ordered; loaded separately from the steps table
	Version      int            `json:"version" db:"version"` // Optimistic concurrency token
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// FindStep returns the step with the given id and its position.
func (w WorkflowDefinition) FindStep(id int) (Step, int, bool) {
	for i, s := range w.Steps {
		if s.ID == id {
			return s, i, true
		}
	}
	return Step{}, -1, false
}
