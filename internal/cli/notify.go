package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/steward/internal/config"
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Schedule, dispatch and inspect notifications",
	}

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create the notifications due for a day",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			asOf := c.clock().In(e.cfg.Location)
			if raw, _ := cmd.Flags().GetString("date"); raw != "" {
				d, err := parseDay(raw, e.cfg.Location)
				if err != nil {
					return err
				}
				asOf = d
			}
			created, err := e.notifications.Schedule(ctxOf(cmd), asOf)
			if err != nil {
				return errors.Wrap(err, "failed to schedule notifications")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d notification(s) for %s\n", len(created), asOf.Format(time.DateOnly))
			printNotifications(cmd, created)
			return nil
		}),
	}
	scheduleCmd.Flags().String("date", "", "Day to schedule for, YYYY-MM-DD (defaults to today)")

	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver every scheduled notification that is due",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			now := c.clock()
			if raw, _ := cmd.Flags().GetString("at"); raw != "" {
				at, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return errors.Errorf("invalid time %q, expected RFC 3339", raw)
				}
				now = at
			}
			report, err := e.notifications.DispatchDue(ctxOf(cmd), now)
			if err != nil {
				return errors.Wrap(err, "failed to dispatch notifications")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d, failed %d, spawned %d\n",
				len(report.Sent), len(report.Failed), len(report.Spawned))
			for _, n := range report.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "- FAILED %s: %s\n", n.ID, n.Error)
			}
			for _, n := range report.Cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "- CANCELLED %s: rule %s is disabled or deleted\n", n.ID, n.RuleID)
			}
			return nil
		}),
	}
	dispatchCmd.Flags().String("at", "", "Dispatch as of this RFC 3339 time (defaults to now)")

	sendCmd := &cobra.Command{
		Use:   "send [id]",
		Short: "Deliver a scheduled or failed notification now",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			n, err := e.notifications.SendNow(ctxOf(cmd), args[0])
			if err != nil {
				return errors.Wrap(err, "failed to send notification")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification %s is %s\n", n.ID, n.Status)
			return nil
		}),
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a scheduled notification",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			n, err := e.notifications.Cancel(ctxOf(cmd), args[0])
			if err != nil {
				return errors.Wrap(err, "failed to cancel notification")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification %s is %s\n", n.ID, n.Status)
			return nil
		}),
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			rule, _ := cmd.Flags().GetString("rule")
			list, err := e.notifications.ListNotifications(storage.NotificationFilter{
				Status: models.NotificationStatus(strings.ToUpper(status)),
				RuleID: rule,
			})
			if err != nil {
				return errors.Wrap(err, "failed to list notifications")
			}
			if len(list) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No notifications found.\n")
				return nil
			}
			printNotifications(cmd, list)
			return nil
		}),
	}
	listCmd.Flags().String("status", "", "Only notifications with this status")
	listCmd.Flags().String("rule", "", "Only notifications produced by this rule")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List notification rules",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			rules, err := e.notifications.ListRules()
			if err != nil {
				return errors.Wrap(err, "failed to list rules")
			}
			out := cmd.OutOrStdout()
			if len(rules) == 0 {
				fmt.Fprintf(out, "No rules found.\n")
				return nil
			}
			for _, r := range rules {
				fmt.Fprintf(out, "- %s: %s (%s) enabled=%t offsets=%v channels=%v\n",
					r.ID, r.Name, r.Type, r.Enabled, r.Offsets(), r.Channels)
			}
			return nil
		}),
	}

	enableCmd := &cobra.Command{
		Use:   "enable [rule-id]",
		Short: "Enable a notification rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			return setEnabled(cmd, e, args[0], true)
		}),
	}
	disableCmd := &cobra.Command{
		Use:   "disable [rule-id]",
		Short: "Disable a notification rule",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			return setEnabled(cmd, e, args[0], false)
		}),
	}

	previewCmd := &cobra.Command{
		Use:   "preview [body]",
		Short: "Render a template body with sample variables",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			vars, _ := cmd.Flags().GetStringToString("var")
			rendered, unresolved, err := e.notifications.Preview(args[0], vars)
			if err != nil {
				return errors.Wrap(err, "failed to preview template")
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			if len(unresolved) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Unresolved: %s\n", strings.Join(unresolved, ", "))
			}
			return nil
		}),
	}
	previewCmd.Flags().StringToString("var", nil, "Variable values, e.g. first_name=Ada")

	cmd.AddCommand(scheduleCmd, dispatchCmd, sendCmd, cancelCmd, listCmd, rulesCmd, enableCmd, disableCmd, previewCmd)
	return cmd
}

func setEnabled(cmd *cobra.Command, e *env, id string, enabled bool) error {
	if err := e.notifications.SetRuleEnabled(ctxOf(cmd), id, enabled); err != nil {
		return errors.Wrap(err, "failed to update rule")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rule %s enabled=%t\n", id, enabled)
	return nil
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file.toml]",
		Short: "Load templates, rules and workflows from a TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			seed, err := config.LoadSeed(args[0])
			if err != nil {
				return err
			}
			return applySeed(cmd, e, seed)
		}),
	}
}

// applySeed creates templates before rules so rule template references resolve.
func applySeed(cmd *cobra.Command, e *env, seed config.Seed) error {
	ctx := ctxOf(cmd)
	for _, tmpl := range seed.Templates {
		if _, err := e.notifications.CreateTemplate(ctx, tmpl); err != nil {
			return errors.Wrapf(err, "failed to create template %q", tmpl.Name)
		}
	}
	for _, rule := range seed.Rules {
		if _, err := e.notifications.CreateRule(ctx, rule); err != nil {
			return errors.Wrapf(err, "failed to create rule %q", rule.Name)
		}
	}
	for _, wf := range seed.Workflows {
		id, err := e.workflows.CreateWorkflow(ctx, service.CreateWorkflowInput{
			Name:         wf.Name,
			Category:     wf.Category,
			TriggerEvent: wf.TriggerEvent,
			Description:  wf.Description,
			Steps:        wf.Steps,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to create workflow %q", wf.Name)
		}
		if wf.Activate {
			if _, err := e.workflows.UpdateWorkflowStatus(ctx, id, string(models.ActiveWorkflowStatus), 0); err != nil {
				return errors.Wrapf(err, "failed to activate workflow %q", wf.Name)
			}
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d template(s), %d rule(s), %d workflow(s)\n",
		len(seed.Templates), len(seed.Rules), len(seed.Workflows))
	return nil
}

func printNotifications(cmd *cobra.Command, list []models.ScheduledNotification) {
	out := cmd.OutOrStdout()
	for _, n := range list {
		fmt.Fprintf(out, "- %s [%s] %s to %s at %s: %s\n",
			n.ID, n.Status, n.RuleType, n.Recipient.Name, n.ScheduledAt.Format(time.RFC3339), n.Message)
	}
}
