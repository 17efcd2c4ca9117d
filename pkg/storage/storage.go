package storage

import (
	"errors"
	"time"

	"github.com/ignatij/steward/pkg/models"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique key (e.g. a notification dedup key) is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrVersionConflict is returned when an update was based on a stale version.
	ErrVersionConflict = errors.New("version conflict: entity was modified concurrently")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already committed or rolled back")
)

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	WorkflowID *int64
	AssignedTo string
	Status     models.TaskStatus // Stored status only
	MemberID   *int64
}

// NotificationFilter narrows ListNotifications. Zero values match everything.
type NotificationFilter struct {
	Status    models.NotificationStatus
	DueBefore *time.Time // ScheduledAt <= DueBefore
	RuleID    string
}

// Store defines the storage operations for Steward. Implementations hand out
// transactional stores from Begin; writes on a transactional store become
// visible to others only after Commit.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow definitions
	SaveWorkflow(w models.WorkflowDefinition) (int64, error)
	GetWorkflow(id int64) (models.WorkflowDefinition, error)
	ListWorkflows() ([]models.WorkflowDefinition, error)
	// UpdateWorkflow replaces the definition (steps included) if its stored
	// version equals expectedVersion, and bumps the version.
	UpdateWorkflow(w models.WorkflowDefinition, expectedVersion int) error

	// Tasks
	SaveTask(t models.Task) (int64, error)
	GetTask(id int64) (models.Task, error)
	ListTasks(filter TaskFilter) ([]models.Task, error)
	// UpdateTask replaces the task if its stored version equals expectedVersion,
	// and bumps the version.
	UpdateTask(t models.Task, expectedVersion int) error

	// Notification rules
	SaveRule(r models.NotificationRule) error
	GetRule(id string) (models.NotificationRule, error)
	ListRules() ([]models.NotificationRule, error)
	UpdateRule(r models.NotificationRule) error
	DeleteRule(id string) error

	// Notification templates
	SaveTemplate(t models.NotificationTemplate) error
	GetTemplate(id string) (models.NotificationTemplate, error)
	ListTemplates() ([]models.NotificationTemplate, error)
	UpdateTemplate(t models.NotificationTemplate) error
	DeleteTemplate(id string) error

	// Scheduled notifications. SaveNotification returns ErrAlreadyExists when
	// the dedup key is already present.
	SaveNotification(n models.ScheduledNotification) error
	GetNotification(id string) (models.ScheduledNotification, error)
	ListNotifications(filter NotificationFilter) ([]models.ScheduledNotification, error)
	UpdateNotification(n models.ScheduledNotification) error

	// Lookup entities
	SaveMember(m models.Member) (int64, error)
	GetMember(id int64) (models.Member, error)
	ListMembers() ([]models.Member, error)
	SaveEvent(e models.Event) (int64, error)
	ListEvents() ([]models.Event, error)
}

func (f TaskFilter) Match(t models.Task) bool {
	if f.WorkflowID != nil && (t.WorkflowID == nil || *t.WorkflowID != *f.WorkflowID) {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.MemberID != nil && (t.MemberID == nil || *t.MemberID != *f.MemberID) {
		return false
	}
	return true
}

func (f NotificationFilter) Match(n models.ScheduledNotification) bool {
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.DueBefore != nil && n.ScheduledAt.After(*f.DueBefore) {
		return false
	}
	if f.RuleID != "" && n.RuleID != f.RuleID {
		return false
	}
	return true
}
