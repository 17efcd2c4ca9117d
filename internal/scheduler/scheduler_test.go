package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ignatij/steward/internal/config"
	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu          sync.Mutex
	scheduled   []time.Time
	dispatched  []time.Time
	scheduleErr error
}

func (f *fakeJobs) Schedule(ctx context.Context, asOf time.Time) ([]models.ScheduledNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, asOf)
	return []models.ScheduledNotification{{ID: "n1"}}, f.scheduleErr
}

func (f *fakeJobs) DispatchDue(ctx context.Context, now time.Time) (service.DispatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, now)
	return service.DispatchReport{Sent: []models.ScheduledNotification{{ID: "n1"}}}, nil
}

func (f *fakeJobs) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (c *countingSender) Send(ctx context.Context, channel models.Channel, contact string, msg delivery.Message) (delivery.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return delivery.Result{Delivered: true}, nil
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNew_InvalidCronExpression(t *testing.T) {
	_, err := New("every morning", &fakeJobs{}, time.UTC, quietLogger())
	assert.Error(t, err)

	_, err = New("0 6 * * *", &fakeJobs{}, time.UTC, quietLogger())
	assert.NoError(t, err)
}

func TestRunOnce(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	jobs := &fakeJobs{}
	s, err := New("@daily", jobs, lagos, quietLogger())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, time.May, 3, 23, 30, 0, 0, time.UTC) }

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, jobs.scheduled, 1)
	assert.Equal(t, 4, jobs.scheduled[0].Day(), "scheduled for the local calendar day")
	assert.Len(t, jobs.dispatched, 1)
}

func TestRunOnce_ScheduleFailureSkipsDispatch(t *testing.T) {
	jobs := &fakeJobs{scheduleErr: errors.New("database is down")}
	s, err := New("@daily", jobs, time.UTC, quietLogger())
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "database is down")
	assert.Empty(t, jobs.dispatched)
}

func TestStart(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New("@every 1s", jobs, time.UTC, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Eventually(t, func() bool { return jobs.runs() > 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestRunOnce_DefaultCronSendsOnTheDay(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	birthday := time.Date(1990, time.May, 4, 0, 0, 0, 0, time.UTC)
	_, err := store.SaveMember(models.Member{FirstName: "Ada", Phone: "+1555", Birthday: &birthday})
	require.NoError(t, err)

	clock := time.Date(2024, time.May, 4, 6, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	sender := &countingSender{}
	svc := service.NewNotificationService(store, sender, quietLogger(),
		service.WithClock(now),
		service.WithLocation(time.UTC),
	)
	_, err = svc.CreateRule(ctx, models.NotificationRule{
		ID:       "birthdays",
		Name:     "Birthday wishes",
		Type:     models.BirthdayNotification,
		Enabled:  true,
		Channels: []models.Channel{models.SMSChannel},
	})
	require.NoError(t, err)

	s, err := New(config.DefaultSchedulerCron, svc, time.UTC, quietLogger())
	require.NoError(t, err)
	s.now = now

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 0, sender.count(), "nothing is due before the rule's 09:00")

	schedule, err := cron.ParseStandard(config.DefaultSchedulerCron)
	require.NoError(t, err)
	for clock.Day() == 4 && sender.count() == 0 {
		clock = schedule.Next(clock)
		require.NoError(t, s.RunOnce(ctx))
	}
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, time.Date(2024, time.May, 4, 9, 0, 0, 0, time.UTC), clock, "sent on the first tick at or after 09:00")

	clock = clock.Add(time.Hour)
	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, 1, sender.count(), "later ticks do not send it again")
}
