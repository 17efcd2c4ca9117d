package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflow definitions",
	}

	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a DRAFT workflow",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			rawSteps, _ := cmd.Flags().GetStringArray("step")
			steps := make([]models.Step, 0, len(rawSteps))
			for _, raw := range rawSteps {
				step, err := parseStep(raw)
				if err != nil {
					return err
				}
				steps = append(steps, step)
			}
			category, _ := cmd.Flags().GetString("category")
			trigger, _ := cmd.Flags().GetString("trigger")
			description, _ := cmd.Flags().GetString("description")
			id, err := e.workflows.CreateWorkflow(ctxOf(cmd), service.CreateWorkflowInput{
				Name:         args[0],
				Category:     category,
				TriggerEvent: trigger,
				Description:  description,
				Steps:        steps,
			})
			if err != nil {
				return errors.Wrap(err, "failed to create workflow")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workflow '%s' with ID %d\n", strings.TrimSpace(args[0]), id)
			return nil
		}),
	}
	createCmd.Flags().StringArray("step", nil, `Step as "title|role|days[|optional]"; repeat in order`)
	createCmd.Flags().String("category", "", "Category, e.g. Membership")
	createCmd.Flags().String("trigger", "", "Trigger event that starts the workflow")
	createCmd.Flags().String("description", "", "Free-text description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			workflows, err := e.workflows.ListWorkflows()
			if err != nil {
				return errors.Wrap(err, "failed to list workflows")
			}
			out := cmd.OutOrStdout()
			if len(workflows) == 0 {
				fmt.Fprintf(out, "No workflows found.\n")
				return nil
			}
			fmt.Fprintf(out, "Workflows:\n")
			for _, wf := range workflows {
				fmt.Fprintf(out, "- ID: %d, Name: %s, Status: %s, Steps: %d, Version: %d, Created: %s\n",
					wf.ID, wf.Name, wf.Status, len(wf.Steps), wf.Version, wf.CreatedAt.Format(time.RFC3339))
			}
			return nil
		}),
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			wf, err := e.workflows.GetWorkflow(id)
			if err != nil {
				return errors.Wrap(err, "failed to get workflow")
			}
			printWorkflow(cmd, wf)
			return nil
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status [id] [DRAFT|ACTIVE|PAUSED]",
		Short: "Change a workflow's status",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetInt("version")
			wf, err := e.workflows.UpdateWorkflowStatus(ctxOf(cmd), id, args[1], version)
			if err != nil {
				return errors.Wrap(err, "failed to update workflow status")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated the status of the workflow with ID %d to '%s'\n", wf.ID, wf.Status)
			return nil
		}),
	}

	addStepCmd := &cobra.Command{
		Use:   "add-step [id] [title|role|days[|optional]]",
		Short: "Append a step to a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			step, err := parseStep(args[1])
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetInt("version")
			wf, err := e.workflows.AddStep(ctxOf(cmd), id, step, version)
			if err != nil {
				return errors.Wrap(err, "failed to add step")
			}
			printWorkflow(cmd, wf)
			return nil
		}),
	}

	removeStepCmd := &cobra.Command{
		Use:   "remove-step [id] [step-id]",
		Short: "Remove a step from a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stepID, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("invalid step id %q", args[1])
			}
			version, _ := cmd.Flags().GetInt("version")
			wf, err := e.workflows.RemoveStep(ctxOf(cmd), id, stepID, version)
			if err != nil {
				return errors.Wrap(err, "failed to remove step")
			}
			printWorkflow(cmd, wf)
			return nil
		}),
	}

	moveStepCmd := &cobra.Command{
		Use:   "move-step [id] [step-id] [up|down]",
		Short: "Move a step one position up or down",
		Args:  cobra.ExactArgs(3),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stepID, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("invalid step id %q", args[1])
			}
			version, _ := cmd.Flags().GetInt("version")
			direction := service.Direction(strings.ToLower(args[2]))
			wf, err := e.workflows.MoveStep(ctxOf(cmd), id, stepID, direction, version)
			if err != nil {
				return errors.Wrap(err, "failed to move step")
			}
			printWorkflow(cmd, wf)
			return nil
		}),
	}

	for _, sub := range []*cobra.Command{statusCmd, addStepCmd, removeStepCmd, moveStepCmd} {
		sub.Flags().Int("version", 0, "Expected workflow version (0 skips the check)")
	}

	triggerCmd := &cobra.Command{
		Use:   "trigger [id]",
		Short: "Spawn tasks from an ACTIVE workflow",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			input, err := c.triggerInput(cmd, e)
			if err != nil {
				return err
			}
			tasks, err := e.workflows.TriggerWorkflow(ctxOf(cmd), id, input)
			if err != nil {
				return errors.Wrap(err, "failed to trigger workflow")
			}
			printTasks(cmd, tasks)
			return nil
		}),
	}

	fireCmd := &cobra.Command{
		Use:   "fire [event]",
		Short: "Trigger every ACTIVE workflow listening for an event",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			input, err := c.triggerInput(cmd, e)
			if err != nil {
				return err
			}
			tasks, err := e.workflows.HandleTriggerEvent(ctxOf(cmd), args[0], input)
			if err != nil {
				return errors.Wrap(err, "failed to handle trigger event")
			}
			printTasks(cmd, tasks)
			return nil
		}),
	}

	for _, sub := range []*cobra.Command{triggerCmd, fireCmd} {
		sub.Flags().StringToString("assign", nil, "Assignee per role, e.g. pastor=John")
		sub.Flags().Int64("member", 0, "Member the spawned tasks are about")
		sub.Flags().String("start", "", "Start date YYYY-MM-DD (defaults to today)")
		sub.Flags().String("priority", "", "Priority of the spawned tasks")
	}

	cmd.AddCommand(createCmd, listCmd, showCmd, statusCmd, addStepCmd, removeStepCmd, moveStepCmd, triggerCmd, fireCmd)
	return cmd
}

func (c *cli) triggerInput(cmd *cobra.Command, e *env) (service.TriggerInput, error) {
	assign, _ := cmd.Flags().GetStringToString("assign")
	member, _ := cmd.Flags().GetInt64("member")
	start, _ := cmd.Flags().GetString("start")
	priority, _ := cmd.Flags().GetString("priority")

	input := service.TriggerInput{
		AssignTo: assign,
		Priority: models.TaskPriority(strings.ToUpper(priority)),
	}
	if member > 0 {
		input.MemberID = &member
	}
	if start != "" {
		d, err := parseDay(start, e.cfg.Location)
		if err != nil {
			return service.TriggerInput{}, err
		}
		input.StartDate = d
	}
	return input, nil
}

// parseStep reads "title|role|days[|optional]". Steps are required unless the
// fourth field says "optional".
func parseStep(raw string) (models.Step, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 || len(parts) > 4 {
		return models.Step{}, errors.Errorf("invalid step %q, expected title|role|days[|optional]", raw)
	}
	days, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return models.Step{}, errors.Errorf("invalid days in step %q", raw)
	}
	step := models.Step{
		Title:          strings.TrimSpace(parts[0]),
		AssignedToRole: strings.TrimSpace(parts[1]),
		DaysToComplete: days,
		Required:       true,
	}
	if len(parts) == 4 {
		switch strings.ToLower(strings.TrimSpace(parts[3])) {
		case "optional":
			step.Required = false
		case "required", "":
		default:
			return models.Step{}, errors.Errorf("invalid step flag %q, expected optional or required", parts[3])
		}
	}
	return step, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printWorkflow(cmd *cobra.Command, wf models.WorkflowDefinition) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow %d: %s [%s] version %d\n", wf.ID, wf.Name, wf.Status, wf.Version)
	for i, st := range wf.Steps {
		req := "required"
		if !st.Required {
			req = "optional"
		}
		fmt.Fprintf(out, "  %d. (step %d) %s, role %s, %d days, %s\n", i+1, st.ID, st.Title, st.AssignedToRole, st.DaysToComplete, req)
	}
}

func printTasks(cmd *cobra.Command, tasks []models.Task) {
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintf(out, "No tasks created.\n")
		return
	}
	fmt.Fprintf(out, "Created %d task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(out, "- ID: %d, Title: %s, Assigned: %s, Due: %s\n",
			t.ID, t.Title, t.AssignedTo, t.DueDate.Format(time.DateOnly))
	}
}
