package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	createCmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a standalone task",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			assignee, _ := cmd.Flags().GetString("assign")
			due, _ := cmd.Flags().GetString("due")
			priority, _ := cmd.Flags().GetString("priority")
			description, _ := cmd.Flags().GetString("description")
			member, _ := cmd.Flags().GetInt64("member")

			input := service.CreateTaskInput{
				Title:       args[0],
				Description: description,
				AssignedTo:  assignee,
				Priority:    models.TaskPriority(strings.ToUpper(priority)),
			}
			if due != "" {
				d, err := parseDay(due, e.cfg.Location)
				if err != nil {
					return err
				}
				input.DueDate = d
			}
			if member > 0 {
				input.MemberID = &member
			}
			task, err := e.tasks.CreateTask(ctxOf(cmd), input)
			if err != nil {
				return errors.Wrap(err, "failed to create task")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task '%s' with ID %d, due %s\n",
				task.Title, task.ID, task.DueDate.Format(time.DateOnly))
			return nil
		}),
	}
	createCmd.Flags().String("assign", "", "Person responsible for the task")
	createCmd.Flags().String("due", "", "Due date YYYY-MM-DD")
	createCmd.Flags().String("priority", "", "LOW, MEDIUM or HIGH (defaults to MEDIUM)")
	createCmd.Flags().String("description", "", "Free-text description")
	createCmd.Flags().Int64("member", 0, "Member the task is about")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their effective status",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			assignee, _ := cmd.Flags().GetString("assign")
			status, _ := cmd.Flags().GetString("status")
			workflow, _ := cmd.Flags().GetInt64("workflow")
			filter := storage.TaskFilter{
				AssignedTo: assignee,
				Status:     models.TaskStatus(strings.ToUpper(status)),
			}
			if workflow > 0 {
				filter.WorkflowID = &workflow
			}
			tasks, err := e.tasks.ListTasks(filter)
			if err != nil {
				return errors.Wrap(err, "failed to list tasks")
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintf(out, "No tasks found.\n")
				return nil
			}
			fmt.Fprintf(out, "Tasks:\n")
			for _, t := range tasks {
				fmt.Fprintf(out, "- ID: %d, Title: %s, Assigned: %s, Due: %s, Status: %s, Progress: %d%%, Version: %d\n",
					t.ID, t.Title, t.AssignedTo, t.DueDate.Format(time.DateOnly), t.EffectiveStatus, t.Progress, t.Version)
			}
			return nil
		}),
	}
	listCmd.Flags().String("assign", "", "Only tasks assigned to this person")
	listCmd.Flags().String("status", "", "Only tasks with this stored status")
	listCmd.Flags().Int64("workflow", 0, "Only tasks spawned from this workflow")

	advanceCmd := &cobra.Command{
		Use:   "advance [id] [IN_PROGRESS|COMPLETED|CANCELLED]",
		Short: "Move a task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetInt("version")
			task, err := e.tasks.AdvanceTask(ctxOf(cmd), id, args[1], version)
			if err != nil {
				return errors.Wrap(err, "failed to advance task")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now %s (progress %d%%)\n", task.ID, task.Status, task.Progress)
			return nil
		}),
	}

	progressCmd := &cobra.Command{
		Use:   "progress [id] [0-100]",
		Short: "Record progress on a task",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			progress, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("invalid progress %q", args[1])
			}
			version, _ := cmd.Flags().GetInt("version")
			task, err := e.tasks.UpdateProgress(ctxOf(cmd), id, progress, version)
			if err != nil {
				return errors.Wrap(err, "failed to update progress")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now %s (progress %d%%)\n", task.ID, task.Status, task.Progress)
			return nil
		}),
	}

	assignCmd := &cobra.Command{
		Use:   "assign [id] [person]",
		Short: "Reassign an open task",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			version, _ := cmd.Flags().GetInt("version")
			task, err := e.tasks.Reassign(ctxOf(cmd), id, args[1], version)
			if err != nil {
				return errors.Wrap(err, "failed to reassign task")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now assigned to %s\n", task.ID, task.AssignedTo)
			return nil
		}),
	}

	for _, sub := range []*cobra.Command{advanceCmd, progressCmd, assignCmd} {
		sub.Flags().Int("version", 0, "Expected task version (0 skips the check)")
	}

	cmd.AddCommand(createCmd, listCmd, advanceCmd, progressCmd, assignCmd)
	return cmd
}
