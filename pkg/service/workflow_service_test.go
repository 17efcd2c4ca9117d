package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onboardingInput() service.CreateWorkflowInput {
	return service.CreateWorkflowInput{
		Name:         "New Member Onboarding",
		Category:     "Membership",
		TriggerEvent: "member_registered",
		Steps: []models.Step{
			{Title: "Welcome call", AssignedToRole: "Pastor", DaysToComplete: 1, Required: true},
			{Title: "Home visit", AssignedToRole: "Deacon", DaysToComplete: 7},
			{Title: "Membership class", AssignedToRole: "Instructor", DaysToComplete: 14},
		},
	}
}

func TestWorkflowService(t *testing.T) {
	ctx := context.Background()

	newWorkflowService := func(store storage.Store) *service.WorkflowService {
		return service.NewWorkflowService(store, logger{}, service.WithClock(clock))
	}
	activeWorkflow := func(t *testing.T, svc *service.WorkflowService) models.WorkflowDefinition {
		id, err := svc.CreateWorkflow(ctx, onboardingInput())
		require.NoError(t, err)
		wf, err := svc.UpdateWorkflowStatus(ctx, id, "ACTIVE", 0)
		require.NoError(t, err)
		return wf
	}

	t.Run("Create", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())
		id, err := svc.CreateWorkflow(ctx, onboardingInput())
		require.NoError(t, err)

		wf, err := svc.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, "New Member Onboarding", wf.Name)
		assert.Equal(t, models.DraftWorkflowStatus, wf.Status)
		assert.Equal(t, []int{1, 2, 3}, stepIDs(wf.Steps))
		assert.Equal(t, 1, wf.Version)
	})

	t.Run("CreateValidation", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())

		noName := onboardingInput()
		noName.Name = " "
		_, err := svc.CreateWorkflow(ctx, noName)
		assert.ErrorIs(t, err, service.ErrValidation)

		noSteps := onboardingInput()
		noSteps.Steps = nil
		_, err = svc.CreateWorkflow(ctx, noSteps)
		assert.ErrorIs(t, err, service.ErrValidation)

		badStep := onboardingInput()
		badStep.Steps[1].AssignedToRole = ""
		_, err = svc.CreateWorkflow(ctx, badStep)
		assert.ErrorIs(t, err, service.ErrValidation)

		list, err := svc.ListWorkflows()
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("StatusTransitions", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())
		wf := activeWorkflow(t, svc)
		assert.Equal(t, models.ActiveWorkflowStatus, wf.Status)
		assert.Equal(t, 2, wf.Version)

		paused, err := svc.UpdateWorkflowStatus(ctx, wf.ID, "paused", wf.Version)
		require.NoError(t, err)
		assert.Equal(t, models.PausedWorkflowStatus, paused.Status)

		_, err = svc.UpdateWorkflowStatus(ctx, wf.ID, "PAUSED", 0)
		assert.ErrorIs(t, err, service.ErrTransition)

		_, err = svc.UpdateWorkflowStatus(ctx, wf.ID, "ARCHIVED", 0)
		assert.ErrorIs(t, err, service.ErrValidation)

		_, err = svc.UpdateWorkflowStatus(ctx, wf.ID, "ACTIVE", wf.Version)
		assert.ErrorIs(t, err, storage.ErrVersionConflict)
	})

	t.Run("StepEditing", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())
		id, err := svc.CreateWorkflow(ctx, onboardingInput())
		require.NoError(t, err)

		wf, err := svc.MoveStep(ctx, id, 2, service.Up, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 3}, stepIDs(wf.Steps))
		assert.Equal(t, 2, wf.Version)

		unchanged, err := svc.MoveStep(ctx, id, 2, service.Up, wf.Version)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 3}, stepIDs(unchanged.Steps))
		assert.Equal(t, 2, unchanged.Version, "no-op moves do not bump the version")

		wf, err = svc.AddStep(ctx, id, models.Step{Title: "Assign mentor", AssignedToRole: "Elder", DaysToComplete: 3}, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 3, 4}, stepIDs(wf.Steps))

		wf, err = svc.RemoveStep(ctx, id, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 4}, stepIDs(wf.Steps))

		wf, err = svc.UpdateStep(ctx, id, models.Step{ID: 3, Title: "Membership class (online)", AssignedToRole: "Instructor", DaysToComplete: 10}, 0)
		require.NoError(t, err)
		assert.Equal(t, "Membership class (online)", wf.Steps[1].Title)

		_, err = svc.MoveStep(ctx, id, 2, "left", 0)
		assert.ErrorIs(t, err, service.ErrValidation)

		stored, err := svc.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, wf.Steps, stored.Steps)
		assert.Equal(t, wf.Version, stored.Version)
	})

	t.Run("LastStepCannotBeRemoved", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())
		input := onboardingInput()
		input.Steps = input.Steps[:1]
		id, err := svc.CreateWorkflow(ctx, input)
		require.NoError(t, err)

		_, err = svc.RemoveStep(ctx, id, 1, 0)
		assert.ErrorIs(t, err, service.ErrValidation)

		wf, err := svc.GetWorkflow(id)
		require.NoError(t, err)
		assert.Len(t, wf.Steps, 1)
		assert.Equal(t, 1, wf.Version)
	})

	t.Run("UpdateDetails", func(t *testing.T) {
		svc := newWorkflowService(storage.NewMemoryStore())
		id, err := svc.CreateWorkflow(ctx, onboardingInput())
		require.NoError(t, err)

		wf, err := svc.UpdateDetails(ctx, id, "Onboarding", "Care", "", "Short version", 1)
		require.NoError(t, err)
		assert.Equal(t, "Onboarding", wf.Name)
		assert.Empty(t, wf.TriggerEvent)

		_, err = svc.UpdateDetails(ctx, id, "", "", "", "", 0)
		assert.ErrorIs(t, err, service.ErrValidation)
	})

	t.Run("Trigger", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newWorkflowService(store)
		wf := activeWorkflow(t, svc)
		memberID, err := store.SaveMember(models.Member{FirstName: "Ada"})
		require.NoError(t, err)

		tasks, err := svc.TriggerWorkflow(ctx, wf.ID, service.TriggerInput{
			AssignTo: map[string]string{"Pastor": "Pastor John"},
			MemberID: &memberID,
		})
		require.NoError(t, err)
		require.Len(t, tasks, 3)

		day := func(offset int) time.Time {
			return time.Date(2024, time.March, 10+offset, 0, 0, 0, 0, time.UTC)
		}
		assert.Equal(t, "Pastor John", tasks[0].AssignedTo)
		assert.Equal(t, "Deacon", tasks[1].AssignedTo, "unmapped roles are assigned to the role")
		assert.Equal(t, day(1), tasks[0].DueDate)
		assert.Equal(t, day(8), tasks[1].DueDate)
		assert.Equal(t, day(22), tasks[2].DueDate)
		assert.Equal(t, models.HighTaskPriority, tasks[0].Priority, "required steps are high priority")
		assert.Equal(t, models.MediumTaskPriority, tasks[1].Priority)
		assert.Equal(t, "New Member Onboarding: step 2 of 3", tasks[1].Description)
		for _, task := range tasks {
			assert.Equal(t, models.PendingTaskStatus, task.Status)
			assert.Equal(t, wf.ID, *task.WorkflowID)
			assert.Equal(t, memberID, *task.MemberID)
		}

		stored, err := store.ListTasks(storage.TaskFilter{WorkflowID: &wf.ID})
		require.NoError(t, err)
		assert.Len(t, stored, 3)
	})

	t.Run("TriggerRequiresActive", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newWorkflowService(store)
		id, err := svc.CreateWorkflow(ctx, onboardingInput())
		require.NoError(t, err)

		_, err = svc.TriggerWorkflow(ctx, id, service.TriggerInput{})
		assert.ErrorIs(t, err, service.ErrTransition)

		tasks, err := store.ListTasks(storage.TaskFilter{})
		require.NoError(t, err)
		assert.Empty(t, tasks)

		_, err = svc.TriggerWorkflow(ctx, 999, service.TriggerInput{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("HandleTriggerEvent", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newWorkflowService(store)
		activeWorkflow(t, svc)
		activeWorkflow(t, svc)
		_, err := svc.CreateWorkflow(ctx, onboardingInput()) // Draft, ignored
		require.NoError(t, err)

		tasks, err := svc.HandleTriggerEvent(ctx, "member_registered", service.TriggerInput{})
		require.NoError(t, err)
		assert.Len(t, tasks, 6)

		none, err := svc.HandleTriggerEvent(ctx, "visitor_registered", service.TriggerInput{})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = svc.HandleTriggerEvent(ctx, "", service.TriggerInput{})
		assert.ErrorIs(t, err, service.ErrValidation)
	})
}
