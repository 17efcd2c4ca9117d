// Package scheduler runs the daily notification jobs on a cron expression.
// The core never loops by itself; this is the job runner that calls it.
package scheduler

import (
	"context"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs is the part of the notification service the scheduler drives.
type Jobs interface {
	Schedule(ctx context.Context, asOf time.Time) ([]models.ScheduledNotification, error)
	DispatchDue(ctx context.Context, now time.Time) (service.DispatchReport, error)
}

type Scheduler struct {
	spec   string
	jobs   Jobs
	loc    *time.Location
	now    func() time.Time
	logger logrus.FieldLogger
	cron   *cron.Cron
}

// New validates spec, a standard five-field cron expression or a descriptor
// such as "@daily", and returns a stopped scheduler.
func New(spec string, jobs Jobs, loc *time.Location, logger logrus.FieldLogger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, errors.Wrapf(err, "invalid cron expression %q", spec)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		spec:   spec,
		jobs:   jobs,
		loc:    loc,
		now:    time.Now,
		logger: logger.WithField("module", "scheduler"),
	}, nil
}

// RunOnce schedules today's notifications and dispatches everything due.
// Scheduling is idempotent, so running it on every tick of the day is safe.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().In(s.loc)
	created, err := s.jobs.Schedule(ctx, now)
	if err != nil {
		return errors.Wrap(err, "schedule notifications")
	}
	report, err := s.jobs.DispatchDue(ctx, now)
	if err != nil {
		return errors.Wrap(err, "dispatch notifications")
	}
	s.logger.WithFields(logrus.Fields{
		"scheduled": len(created),
		"sent":      len(report.Sent),
		"failed":    len(report.Failed),
		"spawned":   len(report.Spawned),
		"cancelled": len(report.Cancelled),
	}).Info("Notification run finished")
	return nil
}

// Start runs RunOnce on every tick of the cron expression until ctx is done
// or Stop is called. Overlapping runs are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(s.logger)
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)
	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Errorf("Notification run failed: %v", err)
		}
	})
	if err != nil {
		return errors.Wrapf(err, "add cron job %q", s.spec)
	}
	s.logger.Infof("Starting scheduler (job %d, cron %q, zone %s)", id, s.spec, s.loc)
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
