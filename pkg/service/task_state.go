package service

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
)

// taskTransitions lists the statuses reachable from each non-terminal status.
var taskTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.PendingTaskStatus:    {models.InProgressTaskStatus, models.CancelledTaskStatus},
	models.InProgressTaskStatus: {models.CompletedTaskStatus, models.CancelledTaskStatus},
}

// CreateTaskInput carries the fields of a new task.
type CreateTaskInput struct {
	WorkflowID  *int64              `json:"workflow_id,omitempty"`
	StepID      *int                `json:"step_id,omitempty"`
	Title       string              `json:"title" validate:"required,max=200"`
	Description string              `json:"description,omitempty" validate:"max=2000"`
	AssignedTo  string              `json:"assigned_to" validate:"required,max=100"`
	DueDate     time.Time           `json:"due_date" validate:"required"`
	Priority    models.TaskPriority `json:"priority,omitempty"`
	MemberID    *int64              `json:"member_id,omitempty"`
}

// NewTask validates input and builds a PENDING task with no progress. The due
// date may be today but not earlier.
func NewTask(input CreateTaskInput, now time.Time) (models.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.AssignedTo = strings.TrimSpace(input.AssignedTo)
	if err := validateStruct(input); err != nil {
		return models.Task{}, err
	}
	if models.DateOnly(input.DueDate).Before(models.DateOnly(now)) {
		return models.Task{}, newValidationError("due_date", "must be today or later, got %s", input.DueDate.Format(time.DateOnly))
	}
	if input.Priority == "" {
		input.Priority = models.MediumTaskPriority
	}
	if !input.Priority.Valid() {
		return models.Task{}, newValidationError("priority", "must be one of LOW, MEDIUM, HIGH, got %q", input.Priority)
	}
	return models.Task{
		WorkflowID:  input.WorkflowID,
		StepID:      input.StepID,
		Title:       input.Title,
		Description: input.Description,
		AssignedTo:  input.AssignedTo,
		DueDate:     models.DateOnly(input.DueDate),
		Priority:    input.Priority,
		Status:      models.PendingTaskStatus,
		Progress:    0,
		MemberID:    input.MemberID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Advance returns task moved to status to. Allowed moves are PENDING ->
// IN_PROGRESS -> COMPLETED and any non-terminal status -> CANCELLED. Completing
// sets progress to 100 in the same step. On error task is returned unchanged.
func Advance(task models.Task, to models.TaskStatus, now time.Time) (models.Task, error) {
	if err := checkTaskTransition(task.Status, to); err != nil {
		return task, err
	}
	next := task
	next.Status = to
	next.UpdatedAt = now
	if to == models.CompletedTaskStatus {
		next.Progress = 100
		completedAt := now
		next.CompletedAt = &completedAt
	}
	return next, nil
}

// SetProgress returns task with the given progress. Progress on a PENDING task
// starts it; 100 completes it. Terminal tasks cannot change.
func SetProgress(task models.Task, progress int, now time.Time) (models.Task, error) {
	if progress < 0 || progress > 100 {
		return task, newValidationError("progress", "must be between 0 and 100, got %d", progress)
	}
	if task.Status.Terminal() {
		return task, &TransitionError{
			Entity: "task",
			From:   string(task.Status),
			To:     string(task.Status),
			Reason: "progress of a finished task cannot change",
		}
	}
	next := task
	if next.Status == models.PendingTaskStatus && progress > 0 {
		var err error
		if next, err = Advance(next, models.InProgressTaskStatus, now); err != nil {
			return task, err
		}
	}
	if progress == 100 {
		completed, err := Advance(next, models.CompletedTaskStatus, now)
		if err != nil {
			return task, err
		}
		return completed, nil
	}
	next.Progress = progress
	next.UpdatedAt = now
	return next, nil
}

func checkTaskTransition(from, to models.TaskStatus) error {
	terr := &TransitionError{Entity: "task", From: string(from), To: string(to)}
	switch {
	case to == models.OverdueTaskStatus:
		terr.Reason = "OVERDUE is derived from the due date and cannot be set"
	case !to.Stored():
		terr.Reason = fmt.Sprintf("unknown status %q", to)
	case from == to:
		terr.Reason = "task already has this status"
	case from.Terminal():
		terr.Reason = "task is already finished"
	case !slices.Contains(taskTransitions[from], to):
		terr.Reason = fmt.Sprintf("allowed targets are %v", taskTransitions[from])
	default:
		return nil
	}
	return terr
}

// workflowTransitions lists the statuses reachable from each workflow status.
var workflowTransitions = map[models.WorkflowStatus][]models.WorkflowStatus{
	models.DraftWorkflowStatus:  {models.ActiveWorkflowStatus},
	models.ActiveWorkflowStatus: {models.PausedWorkflowStatus, models.DraftWorkflowStatus},
	models.PausedWorkflowStatus: {models.ActiveWorkflowStatus, models.DraftWorkflowStatus},
}

func checkWorkflowTransition(wf models.WorkflowDefinition, to models.WorkflowStatus) error {
	terr := &TransitionError{Entity: "workflow", From: string(wf.Status), To: string(to)}
	switch {
	case !to.Valid():
		return newValidationError("status", "must be one of DRAFT, ACTIVE, PAUSED, got %q", to)
	case wf.Status == to:
		terr.Reason = "workflow already has this status"
	case !slices.Contains(workflowTransitions[wf.Status], to):
		terr.Reason = fmt.Sprintf("allowed targets are %v", workflowTransitions[wf.Status])
	case to == models.ActiveWorkflowStatus && len(wf.Steps) == 0:
		return newValidationError("steps", "an active workflow needs at least one step")
	default:
		return nil
	}
	return terr
}
