package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
)

// WorkflowService manages workflow definitions and spawns their tasks.
// A workflow definition is a reusable, ordered list of steps; triggering it
// creates one task per step, due after the cumulative step durations.
type WorkflowService struct {
	store  storage.Store
	logger Logger
	opts   options
}

func NewWorkflowService(store storage.Store, logger Logger, opts ...Option) *WorkflowService {
	return &WorkflowService{
		store:  store,
		logger: logger,
		opts:   buildOptions(opts),
	}
}

// CreateWorkflowInput carries the fields of a new workflow definition.
type CreateWorkflowInput struct {
	Name         string        `json:"name" validate:"required,max=100"`
	Category     string        `json:"category,omitempty" validate:"max=100"`
	TriggerEvent string        `json:"trigger_event,omitempty" validate:"max=100"`
	Description  string        `json:"description,omitempty"`
	Steps        []models.Step `json:"steps" validate:"required,min=1"`
}

// TriggerInput parameterizes the tasks spawned from a workflow.
type TriggerInput struct {
	// AssignTo maps a step's role to the person who gets its task. Steps
	// whose role is missing are assigned to the role itself.
	AssignTo  map[string]string   `json:"assign_to,omitempty"`
	MemberID  *int64              `json:"member_id,omitempty"`
	StartDate time.Time           `json:"start_date,omitempty"` // Defaults to today
	Priority  models.TaskPriority `json:"priority,omitempty"`
}

// CreateWorkflow validates input and stores a DRAFT definition. Step IDs are
// assigned 1..n in the given order.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, input CreateWorkflowInput) (id int64, err error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateStruct(input); err != nil {
		return 0, err
	}
	var steps []models.Step
	for _, st := range input.Steps {
		if steps, err = AddStep(steps, st); err != nil {
			return 0, err
		}
	}
	now := s.opts.now()
	wf := models.WorkflowDefinition{
		Name:         input.Name,
		Category:     strings.TrimSpace(input.Category),
		TriggerEvent: strings.TrimSpace(input.TriggerEvent),
		Description:  input.Description,
		Status:       models.DraftWorkflowStatus,
		Steps:        steps,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = inTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		id, err = tx.SaveWorkflow(wf)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "save workflow")
	}
	s.logger.Infof("Created workflow '%s' with ID %d and %d step(s)", wf.Name, id, len(steps))
	return id, nil
}

// GetWorkflow fetches a workflow definition with its steps.
func (s *WorkflowService) GetWorkflow(workflowID int64) (models.WorkflowDefinition, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "failed to get workflow %d", workflowID)
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.WorkflowDefinition, error) {
	return s.store.ListWorkflows()
}

// UpdateWorkflowStatus moves a workflow between DRAFT, ACTIVE and PAUSED.
func (s *WorkflowService) UpdateWorkflowStatus(ctx context.Context, id int64, status string, expectedVersion int) (models.WorkflowDefinition, error) {
	if id <= 0 {
		return models.WorkflowDefinition{}, newValidationError("id", "workflow ID must be positive")
	}
	to := models.WorkflowStatus(strings.ToUpper(strings.TrimSpace(status)))
	return s.edit(ctx, id, expectedVersion, "status", func(wf *models.WorkflowDefinition) error {
		if err := checkWorkflowTransition(*wf, to); err != nil {
			return err
		}
		wf.Status = to
		return nil
	})
}

// UpdateDetails changes the descriptive fields of a workflow.
func (s *WorkflowService) UpdateDetails(ctx context.Context, id int64, name, category, triggerEvent, description string, expectedVersion int) (models.WorkflowDefinition, error) {
	return s.edit(ctx, id, expectedVersion, "details", func(wf *models.WorkflowDefinition) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return newValidationError("name", "is required")
		}
		if len(name) > 100 {
			return newValidationError("name", "must be at most 100 characters")
		}
		wf.Name = name
		wf.Category = strings.TrimSpace(category)
		wf.TriggerEvent = strings.TrimSpace(triggerEvent)
		wf.Description = description
		return nil
	})
}

// AddStep appends a step to a workflow.
func (s *WorkflowService) AddStep(ctx context.Context, id int64, step models.Step, expectedVersion int) (models.WorkflowDefinition, error) {
	return s.edit(ctx, id, expectedVersion, "add step", func(wf *models.WorkflowDefinition) (err error) {
		wf.Steps, err = AddStep(wf.Steps, step)
		return err
	})
}

// RemoveStep removes a step; the last remaining step cannot be removed.
func (s *WorkflowService) RemoveStep(ctx context.Context, id int64, stepID int, expectedVersion int) (models.WorkflowDefinition, error) {
	return s.edit(ctx, id, expectedVersion, "remove step", func(wf *models.WorkflowDefinition) (err error) {
		wf.Steps, err = RemoveStep(wf.Steps, stepID)
		return err
	})
}

// UpdateStep replaces a step in place.
func (s *WorkflowService) UpdateStep(ctx context.Context, id int64, step models.Step, expectedVersion int) (models.WorkflowDefinition, error) {
	return s.edit(ctx, id, expectedVersion, "update step", func(wf *models.WorkflowDefinition) (err error) {
		wf.Steps, err = UpdateStep(wf.Steps, step)
		return err
	})
}

// MoveStep reorders a step. Moves past either end change nothing and do not
// bump the version.
func (s *WorkflowService) MoveStep(ctx context.Context, id int64, stepID int, direction Direction, expectedVersion int) (models.WorkflowDefinition, error) {
	if direction != Up && direction != Down {
		return models.WorkflowDefinition{}, newValidationError("direction", "must be 'up' or 'down', got %q", direction)
	}
	return s.edit(ctx, id, expectedVersion, "move step", func(wf *models.WorkflowDefinition) error {
		wf.Steps = MoveStep(wf.Steps, stepID, direction)
		return nil
	})
}

// edit loads a workflow, applies fn and stores the result conditionally on
// the version that was read. Unchanged step lists and fields skip the write.
func (s *WorkflowService) edit(ctx context.Context, id int64, expectedVersion int, what string, fn func(*models.WorkflowDefinition) error) (models.WorkflowDefinition, error) {
	var result models.WorkflowDefinition
	err := inTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		wf, err := tx.GetWorkflow(id)
		if err != nil {
			return errors.Wrapf(err, "get workflow %d", id)
		}
		if expectedVersion != 0 && wf.Version != expectedVersion {
			return storage.ErrVersionConflict
		}
		next := wf
		next.Steps = append([]models.Step(nil), wf.Steps...)
		if err := fn(&next); err != nil {
			return err
		}
		if workflowEqual(wf, next) {
			result = wf
			return nil
		}
		next.UpdatedAt = s.opts.now()
		if err := tx.UpdateWorkflow(next, wf.Version); err != nil {
			return errors.Wrapf(err, "update workflow %d", id)
		}
		next.Version = wf.Version + 1
		result = next
		return nil
	})
	if err != nil {
		s.logger.Errorf("Failed to %s on workflow %d: %v", what, id, err)
		return models.WorkflowDefinition{}, err
	}
	s.logger.Infof("Applied %s to workflow %d (version %d)", what, id, result.Version)
	return result, nil
}

func workflowEqual(a, b models.WorkflowDefinition) bool {
	if a.Name != b.Name || a.Category != b.Category || a.TriggerEvent != b.TriggerEvent ||
		a.Description != b.Description || a.Status != b.Status || len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if a.Steps[i] != b.Steps[i] {
			return false
		}
	}
	return true
}

// TriggerWorkflow spawns one PENDING task per step of an ACTIVE workflow. Step
// n is due on the start date plus the durations of steps 1..n.
func (s *WorkflowService) TriggerWorkflow(ctx context.Context, workflowID int64, input TriggerInput) ([]models.Task, error) {
	var tasks []models.Task
	err := inTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		wf, err := tx.GetWorkflow(workflowID)
		if err != nil {
			return errors.Wrapf(err, "workflow %d not found", workflowID)
		}
		tasks, err = s.spawnTasks(tx, wf, input)
		return err
	})
	if err != nil {
		s.logger.Errorf("Failed to trigger workflow %d: %v", workflowID, err)
		return nil, err
	}
	s.logger.Infof("Triggered workflow %d: spawned %d task(s)", workflowID, len(tasks))
	return tasks, nil
}

// HandleTriggerEvent triggers every ACTIVE workflow listening for event and
// returns all spawned tasks. Either every workflow spawns its tasks or none do.
func (s *WorkflowService) HandleTriggerEvent(ctx context.Context, event string, input TriggerInput) ([]models.Task, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, newValidationError("event", "is required")
	}
	var tasks []models.Task
	err := inTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		workflows, err := tx.ListWorkflows()
		if err != nil {
			return err
		}
		for _, wf := range workflows {
			if wf.TriggerEvent != event || wf.Status != models.ActiveWorkflowStatus {
				continue
			}
			spawned, err := s.spawnTasks(tx, wf, input)
			if err != nil {
				return errors.Wrapf(err, "workflow %d", wf.ID)
			}
			tasks = append(tasks, spawned...)
		}
		return nil
	})
	if err != nil {
		s.logger.Errorf("Failed to handle trigger event '%s': %v", event, err)
		return nil, err
	}
	s.logger.Infof("Trigger event '%s' spawned %d task(s)", event, len(tasks))
	return tasks, nil
}

func (s *WorkflowService) spawnTasks(tx storage.Store, wf models.WorkflowDefinition, input TriggerInput) ([]models.Task, error) {
	if wf.Status != models.ActiveWorkflowStatus {
		return nil, &TransitionError{
			Entity: "workflow",
			From:   string(wf.Status),
			To:     "TRIGGERED",
			Reason: "only ACTIVE workflows can be triggered",
		}
	}
	now := s.opts.now()
	due := input.StartDate
	if due.IsZero() {
		due = now
	}
	var tasks []models.Task
	for _, step := range wf.Steps {
		due = due.AddDate(0, 0, step.DaysToComplete)
		assignee := input.AssignTo[step.AssignedToRole]
		if assignee == "" {
			assignee = step.AssignedToRole
		}
		priority := input.Priority
		if priority == "" && step.Required {
			priority = models.HighTaskPriority
		}
		wfID, stepID := wf.ID, step.ID
		task, err := NewTask(CreateTaskInput{
			WorkflowID:  &wfID,
			StepID:      &stepID,
			Title:       step.Title,
			Description: fmt.Sprintf("%s: step %d of %d", wf.Name, len(tasks)+1, len(wf.Steps)),
			AssignedTo:  assignee,
			DueDate:     due,
			Priority:    priority,
			MemberID:    input.MemberID,
		}, now)
		if err != nil {
			return nil, err
		}
		id, err := tx.SaveTask(task)
		if err != nil {
			return nil, errors.Wrap(err, "save task")
		}
		task.ID = id
		task.Version = 1
		tasks = append(tasks, task)
	}
	return tasks, nil
}
