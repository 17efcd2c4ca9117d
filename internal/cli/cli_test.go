package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type okSender struct{}

func (okSender) Send(ctx context.Context, channel models.Channel, contact string, msg delivery.Message) (delivery.Result, error) {
	return delivery.Result{Delivered: true}, nil
}

type harness struct {
	store storage.Store
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	for _, key := range []string{"DATABASE_URL", "DB_USERNAME", "DB_HOST", "DB_NAME", "SCHEDULER_CRON", "DELIVERY_TIMEOUT"} {
		t.Setenv(key, "")
	}
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("CHURCH_NAME", "Grace Chapel")
	return &harness{
		store: storage.NewMemoryStore(),
		now:   time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

// exec runs one command line on a fresh root sharing the harness store.
func (h *harness) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := &cobra.Command{Use: "steward", SilenceErrors: true}
	SetupCLI(rootCmd,
		WithStore(h.store),
		WithClock(func() time.Time { return h.now }),
		WithSender(okSender{}),
	)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func (h *harness) mustExec(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.exec(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestWorkflowCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec(t, "workflow", "list")
	assert.Equal(t, "No workflows found.\n", out)

	out = h.mustExec(t, "workflow", "create", "Onboarding",
		"--category", "Membership",
		"--trigger", "member_registered",
		"--step", "Welcome call|pastor|2",
		"--step", "Small group invite|leader|5|optional",
	)
	assert.Equal(t, "Created workflow 'Onboarding' with ID 1\n", out)

	out = h.mustExec(t, "workflow", "list")
	assert.Contains(t, out, "- ID: 1, Name: Onboarding, Status: DRAFT, Steps: 2, Version: 1")

	_, err := h.exec(t, "workflow", "trigger", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrTransition))

	out = h.mustExec(t, "workflow", "status", "1", "active")
	assert.Equal(t, "Updated the status of the workflow with ID 1 to 'ACTIVE'\n", out)

	out = h.mustExec(t, "workflow", "trigger", "1", "--assign", "pastor=John", "--start", "2024-05-04")
	assert.Contains(t, out, "Created 2 task(s):")
	assert.Contains(t, out, "Title: Welcome call, Assigned: John, Due: 2024-05-06")
	assert.Contains(t, out, "Title: Small group invite, Assigned: leader, Due: 2024-05-11")

	out = h.mustExec(t, "workflow", "fire", "member_registered")
	assert.Contains(t, out, "Created 2 task(s):")

	out = h.mustExec(t, "workflow", "fire", "unknown_event")
	assert.Equal(t, "No tasks created.\n", out)

	out = h.mustExec(t, "workflow", "move-step", "1", "2", "up")
	assert.Contains(t, out, "1. (step 2) Small group invite")
	assert.Contains(t, out, "2. (step 1) Welcome call")

	_, err = h.exec(t, "workflow", "remove-step", "1", "1", "--version", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))

	_, err = h.exec(t, "workflow", "status", "abc", "ACTIVE")
	assert.EqualError(t, err, `invalid id "abc"`)

	_, err = h.exec(t, "workflow", "show", "42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestTaskCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec(t, "task", "create", "Call visitor", "--assign", "Mary", "--due", "2024-05-10")
	assert.Equal(t, "Created task 'Call visitor' with ID 1, due 2024-05-10\n", out)

	_, err := h.exec(t, "task", "create", "Too late", "--assign", "Mary", "--due", "2024-05-01")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrValidation))

	out = h.mustExec(t, "task", "progress", "1", "40")
	assert.Equal(t, "Task 1 is now IN_PROGRESS (progress 40%)\n", out)

	out = h.mustExec(t, "task", "assign", "1", "Peter")
	assert.Equal(t, "Task 1 is now assigned to Peter\n", out)

	out = h.mustExec(t, "task", "advance", "1", "COMPLETED")
	assert.Equal(t, "Task 1 is now COMPLETED (progress 100%)\n", out)

	_, err = h.exec(t, "task", "advance", "1", "PENDING")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrTransition))

	h.now = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	h.mustExec(t, "task", "create", "Visit", "--assign", "Mary", "--due", "2024-05-21")
	h.now = time.Date(2024, 5, 25, 10, 0, 0, 0, time.UTC)
	out = h.mustExec(t, "task", "list", "--assign", "Mary")
	assert.Contains(t, out, "Title: Visit, Assigned: Mary, Due: 2024-05-21, Status: OVERDUE")
}

const seedTOML = `
[[templates]]
id = "birthday-sms"
name = "Birthday SMS"
type = "BIRTHDAY"
body = "Happy Birthday, {first_name}! From {church_name}"
channels = ["SMS"]
active = true

[[rules]]
id = "birthdays"
name = "Birthday wishes"
type = "BIRTHDAY"
enabled = true
channels = ["SMS"]
template_id = "birthday-sms"

[[workflows]]
name = "Visitor follow-up"
trigger_event = "first_visit"
activate = true

[[workflows.steps]]
title = "Send welcome letter"
assigned_to_role = "secretary"
days_to_complete = 1
required = true
`

func TestSeedAndNotifyCommands(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(seedTOML), 0o600))

	out := h.mustExec(t, "seed", path)
	assert.Equal(t, "Loaded 1 template(s), 1 rule(s), 1 workflow(s)\n", out)

	out = h.mustExec(t, "workflow", "list")
	assert.Contains(t, out, "Name: Visitor follow-up, Status: ACTIVE")

	out = h.mustExec(t, "notify", "rules")
	assert.Contains(t, out, "- birthdays: Birthday wishes (BIRTHDAY) enabled=true")

	out = h.mustExec(t, "member", "add", "Ada", "Lovelace", "--phone", "555-0100", "--birthday", "1990-05-04")
	assert.Equal(t, "Added member 'Ada Lovelace' with ID 1\n", out)

	_, err := h.exec(t, "member", "add", "Bob", "--email", "not-an-email")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrValidation))

	out = h.mustExec(t, "notify", "schedule", "--date", "2024-05-04")
	assert.Contains(t, out, "Scheduled 1 notification(s) for 2024-05-04")
	assert.Contains(t, out, "Happy Birthday, Ada! From Grace Chapel")

	out = h.mustExec(t, "notify", "schedule", "--date", "2024-05-04")
	assert.Contains(t, out, "Scheduled 0 notification(s) for 2024-05-04")

	out = h.mustExec(t, "notify", "dispatch", "--at", "2024-05-04T10:00:00Z")
	assert.Equal(t, "Sent 1, failed 0, spawned 0\n", out)

	out = h.mustExec(t, "notify", "list", "--status", "sent")
	assert.Contains(t, out, "[SENT] BIRTHDAY to Ada Lovelace")

	out = h.mustExec(t, "notify", "disable", "birthdays")
	assert.Equal(t, "Rule birthdays enabled=false\n", out)

	out = h.mustExec(t, "notify", "preview", "Hello {first_name} {last_name}", "--var", "first_name=Ada")
	assert.Equal(t, "Hello Ada {last_name}\nUnresolved: last_name\n", out)
}

func TestEventCommands(t *testing.T) {
	h := newHarness(t)
	h.mustExec(t, "member", "add", "Ada")

	out := h.mustExec(t, "event", "add", "Harvest Festival", "2024-09-15", "--attendee", "1")
	assert.Equal(t, "Added event 'Harvest Festival' with ID 1 on 2024-09-15\n", out)

	_, err := h.exec(t, "event", "add", "Retreat", "2024-10-01", "--attendee", "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrValidation))

	out = h.mustExec(t, "event", "list")
	assert.Equal(t, "- ID: 1, Name: Harvest Festival, Date: 2024-09-15, Attendees: 1\n", out)
}

func TestSchedulerOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "scheduler", "--once", "--cron", "@daily")
	require.NoError(t, err)

	_, err = h.exec(t, "scheduler", "--once", "--cron", "not a cron")
	assert.Error(t, err)
}

func TestParseStep(t *testing.T) {
	step, err := parseStep("Welcome call | pastor | 3")
	require.NoError(t, err)
	assert.Equal(t, models.Step{Title: "Welcome call", AssignedToRole: "pastor", DaysToComplete: 3, Required: true}, step)

	step, err = parseStep("Invite|leader|0|optional")
	require.NoError(t, err)
	assert.False(t, step.Required)

	for _, raw := range []string{"only-title", "a|b|x", "a|b|1|maybe", "a|b|1|c|d"} {
		_, err := parseStep(raw)
		assert.Error(t, err, raw)
	}
}
