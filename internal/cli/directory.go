package cli

import (
	"fmt"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (c *cli) memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage the member directory",
	}

	addCmd := &cobra.Command{
		Use:   "add [first-name] [last-name]",
		Short: "Add a member",
		Args:  cobra.RangeArgs(1, 2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			m := models.Member{FirstName: args[0]}
			if len(args) == 2 {
				m.LastName = args[1]
			}
			m.Email, _ = cmd.Flags().GetString("email")
			m.Phone, _ = cmd.Flags().GetString("phone")
			for flag, dst := range map[string]**time.Time{
				"birthday":    &m.Birthday,
				"anniversary": &m.AnniversaryDate,
				"joined":      &m.JoinDate,
				"first-visit": &m.FirstVisitDate,
			} {
				raw, _ := cmd.Flags().GetString(flag)
				if raw == "" {
					continue
				}
				d, err := parseDay(raw, time.UTC)
				if err != nil {
					return errors.Wrapf(err, "--%s", flag)
				}
				*dst = &d
			}
			created, err := e.directory.AddMember(ctxOf(cmd), m)
			if err != nil {
				return errors.Wrap(err, "failed to add member")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added member '%s' with ID %d\n", created.FullName(), created.ID)
			return nil
		}),
	}
	addCmd.Flags().String("email", "", "Email address")
	addCmd.Flags().String("phone", "", "Phone number for SMS")
	addCmd.Flags().String("birthday", "", "Birthday YYYY-MM-DD")
	addCmd.Flags().String("anniversary", "", "Wedding anniversary YYYY-MM-DD")
	addCmd.Flags().String("joined", "", "Membership start YYYY-MM-DD")
	addCmd.Flags().String("first-visit", "", "First visit YYYY-MM-DD")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			members, err := e.directory.ListMembers()
			if err != nil {
				return errors.Wrap(err, "failed to list members")
			}
			out := cmd.OutOrStdout()
			if len(members) == 0 {
				fmt.Fprintf(out, "No members found.\n")
				return nil
			}
			for _, m := range members {
				fmt.Fprintf(out, "- ID: %d, Name: %s, Email: %s, Phone: %s\n", m.ID, m.FullName(), m.Email, m.Phone)
			}
			return nil
		}),
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func (c *cli) eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage church events",
	}

	addCmd := &cobra.Command{
		Use:   "add [name] [YYYY-MM-DD]",
		Short: "Add an event with its expected attendees",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			date, err := parseDay(args[1], time.UTC)
			if err != nil {
				return err
			}
			location, _ := cmd.Flags().GetString("location")
			attendees, _ := cmd.Flags().GetInt64Slice("attendee")
			created, err := e.directory.AddEvent(ctxOf(cmd), models.Event{
				Name:      args[0],
				Date:      date,
				Location:  location,
				Attendees: attendees,
			})
			if err != nil {
				return errors.Wrap(err, "failed to add event")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added event '%s' with ID %d on %s\n",
				created.Name, created.ID, created.Date.Format(time.DateOnly))
			return nil
		}),
	}
	addCmd.Flags().String("location", "", "Where the event takes place")
	addCmd.Flags().Int64Slice("attendee", nil, "Member ID of an attendee; repeatable")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			events, err := e.directory.ListEvents()
			if err != nil {
				return errors.Wrap(err, "failed to list events")
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintf(out, "No events found.\n")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(out, "- ID: %d, Name: %s, Date: %s, Attendees: %d\n",
					ev.ID, ev.Name, ev.Date.Format(time.DateOnly), len(ev.Attendees))
			}
			return nil
		}),
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}
