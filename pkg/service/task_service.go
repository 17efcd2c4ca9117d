package service

import (
	"context"
	"strings"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
)

// TaskService creates tasks and moves them through their lifecycle. Reads
// always resolve the derived OVERDUE status against the service clock.
type TaskService struct {
	store  storage.Store
	logger Logger
	opts   options
}

func NewTaskService(store storage.Store, logger Logger, opts ...Option) *TaskService {
	return &TaskService{
		store:  store,
		logger: logger,
		opts:   buildOptions(opts),
	}
}

// CreateTask validates input and stores a new PENDING task.
func (ts *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (models.Task, error) {
	task, err := NewTask(input, ts.opts.now())
	if err != nil {
		return models.Task{}, err
	}
	err = inTx(ctx, ts.store, ts.logger, func(tx storage.Store) error {
		if task.WorkflowID != nil {
			if _, err := tx.GetWorkflow(*task.WorkflowID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return newValidationError("workflow_id", "workflow %d does not exist", *task.WorkflowID)
				}
				return err
			}
		}
		if task.MemberID != nil {
			if _, err := tx.GetMember(*task.MemberID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return newValidationError("member_id", "member %d does not exist", *task.MemberID)
				}
				return err
			}
		}
		id, err := tx.SaveTask(task)
		if err != nil {
			return errors.Wrap(err, "save task")
		}
		task.ID = id
		task.Version = 1
		return nil
	})
	if err != nil {
		ts.logger.Errorf("Failed to create task '%s': %v", input.Title, err)
		return models.Task{}, err
	}
	ts.logger.Infof("Created task '%s' with ID %d assigned to %s", task.Title, task.ID, task.AssignedTo)
	return task, nil
}

// GetTask returns the task with its effective status resolved.
func (ts *TaskService) GetTask(id int64) (models.TaskView, error) {
	task, err := ts.store.GetTask(id)
	if err != nil {
		return models.TaskView{}, errors.Wrapf(err, "get task %d", id)
	}
	return models.NewTaskView(task, ts.opts.now()), nil
}

// ListTasks returns matching tasks with their effective status resolved.
// Passing models.OverdueTaskStatus as status selects overdue tasks.
func (ts *TaskService) ListTasks(filter storage.TaskFilter) ([]models.TaskView, error) {
	overdueOnly := filter.Status == models.OverdueTaskStatus
	if overdueOnly {
		filter.Status = ""
	}
	tasks, err := ts.store.ListTasks(filter)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	now := ts.opts.now()
	views := make([]models.TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := models.NewTaskView(t, now)
		if overdueOnly && !v.Overdue {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// AdvanceTask moves a task to status. expectedVersion guards against
// concurrent edits; 0 means "whatever version is current".
func (ts *TaskService) AdvanceTask(ctx context.Context, id int64, status string, expectedVersion int) (models.Task, error) {
	to := models.TaskStatus(strings.ToUpper(strings.TrimSpace(status)))
	return ts.mutate(ctx, id, expectedVersion, func(t models.Task) (models.Task, error) {
		return Advance(t, to, ts.opts.now())
	})
}

// UpdateProgress sets a task's progress; 100 completes it.
func (ts *TaskService) UpdateProgress(ctx context.Context, id int64, progress int, expectedVersion int) (models.Task, error) {
	return ts.mutate(ctx, id, expectedVersion, func(t models.Task) (models.Task, error) {
		return SetProgress(t, progress, ts.opts.now())
	})
}

// Reassign hands an open task to someone else.
func (ts *TaskService) Reassign(ctx context.Context, id int64, assignee string, expectedVersion int) (models.Task, error) {
	assignee = strings.TrimSpace(assignee)
	return ts.mutate(ctx, id, expectedVersion, func(t models.Task) (models.Task, error) {
		if assignee == "" {
			return t, newValidationError("assigned_to", "is required")
		}
		if t.Status.Terminal() {
			return t, &TransitionError{Entity: "task", From: string(t.Status), To: string(t.Status), Reason: "finished tasks cannot be reassigned"}
		}
		t.AssignedTo = assignee
		t.UpdatedAt = ts.opts.now()
		return t, nil
	})
}

func (ts *TaskService) mutate(ctx context.Context, id int64, expectedVersion int, fn func(models.Task) (models.Task, error)) (models.Task, error) {
	var updated models.Task
	err := inTx(ctx, ts.store, ts.logger, func(tx storage.Store) error {
		task, err := tx.GetTask(id)
		if err != nil {
			return errors.Wrapf(err, "get task %d", id)
		}
		if expectedVersion != 0 && task.Version != expectedVersion {
			return storage.ErrVersionConflict
		}
		next, err := fn(task)
		if err != nil {
			return err
		}
		if err := tx.UpdateTask(next, task.Version); err != nil {
			return errors.Wrapf(err, "update task %d", id)
		}
		next.Version = task.Version + 1
		updated = next
		return nil
	})
	if err != nil {
		ts.logger.Errorf("Failed to update task %d: %v", id, err)
		return models.Task{}, err
	}
	ts.logger.Infof("Updated task %d: status %s, progress %d%%", id, updated.Status, updated.Progress)
	return updated, nil
}
