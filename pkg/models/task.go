package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus    TaskStatus = "PENDING"
	InProgressTaskStatus TaskStatus = "IN_PROGRESS"
	CompletedTaskStatus  TaskStatus = "COMPLETED"
	CancelledTaskStatus  TaskStatus = "CANCELLED"
	// OverdueTaskStatus is only ever returned by EffectiveStatus; it is never stored.
	OverdueTaskStatus TaskStatus = "OVERDUE"
)

// Terminal reports whether no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == CancelledTaskStatus
}

// Stored reports whether s may be persisted.
func (s TaskStatus) Stored() bool {
	switch s {
	case PendingTaskStatus, InProgressTaskStatus, CompletedTaskStatus, CancelledTaskStatus:
		return true
	}
	return false
}

type TaskPriority string

const (
	LowTaskPriority    TaskPriority = "LOW"
	MediumTaskPriority TaskPriority = "MEDIUM"
	HighTaskPriority   TaskPriority = "HIGH"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case LowTaskPriority, MediumTaskPriority, HighTaskPriority:
		return true
	}
	return false
}

// Task is a concrete unit of work, optionally spawned from a workflow step.
type Task struct {
	ID          int64        `json:"id" db:"id"`                               // PostgreSQL auto-increment
	WorkflowID  *int64       `json:"workflow_id,omitempty" db:"workflow_id"`   // Nil for standalone tasks
	StepID      *int         `json:"step_id,omitempty" db:"step_id"`           // Step the task was spawned from
	Title       string       `json:"title" db:"title"`                         // e.g. "Welcome call"
	Description string       `json:"description,omitempty" db:"description"`   // Free text
	AssignedTo  string       `json:"assigned_to" db:"assigned_to"`             // Person responsible
	DueDate     time.Time    `json:"due_date" db:"due_date"`                   // Calendar day the task is due
	Priority    TaskPriority `json:"priority" db:"priority"`                   // LOW, MEDIUM, HIGH
	Status      TaskStatus   `json:"status" db:"status"`                       // Stored status, never OVERDUE
	Progress    int          `json:"progress" db:"progress"`                   // 0..100, 100 iff COMPLETED
	MemberID    *int64       `json:"member_id,omitempty" db:"member_id"`       // Linked member, if any
	Version     int          `json:"version" db:"version"`                     // Optimistic concurrency token
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`               // Creation timestamp
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`               // Last update timestamp
	CompletedAt *time.Time   `json:"completed_at,omitempty" db:"completed_at"` // Set when the task completes
}

// DateOnly returns UTC midnight of t's calendar date as seen in t's own location.
// Day comparisons go through it so a due date stored at UTC midnight is
// compared with the caller's local "today" by calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsOverdue reports whether the task's due day has passed while it is still open.
// A task due today is not overdue.
func IsOverdue(t Task, now time.Time) bool {
	if t.Status.Terminal() {
		return false
	}
	return DateOnly(t.DueDate).Before(DateOnly(now))
}

// EffectiveStatus is the status every view shows: the stored status, or OVERDUE
// when IsOverdue holds.
func EffectiveStatus(t Task, now time.Time) TaskStatus {
	if IsOverdue(t, now) {
		return OverdueTaskStatus
	}
	return t.Status
}

// TaskView is a task as presented to readers, with the derived status resolved.
type TaskView struct {
	Task
	EffectiveStatus TaskStatus `json:"effective_status"`
	Overdue         bool       `json:"overdue"`
}

func NewTaskView(t Task, now time.Time) TaskView {
	overdue := IsOverdue(t, now)
	status := t.Status
	if overdue {
		status = OverdueTaskStatus
	}
	return TaskView{Task: t, EffectiveStatus: status, Overdue: overdue}
}
