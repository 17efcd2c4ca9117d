package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignatij/steward/internal/config"
	internal_http "github.com/ignatij/steward/internal/http"
	"github.com/ignatij/steward/internal/log"
	"github.com/ignatij/steward/internal/scheduler"
	internal_storage "github.com/ignatij/steward/internal/storage"
	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type cli struct {
	store  storage.Store
	now    func() time.Time
	sender delivery.Sender
}

// Option configures SetupCLI.
type Option func(*cli)

// WithStore makes every command share store instead of opening one from --db.
func WithStore(store storage.Store) Option {
	return func(c *cli) { c.store = store }
}

// WithClock pins the clock the services see.
func WithClock(now func() time.Time) Option {
	return func(c *cli) { c.now = now }
}

// WithSender replaces the delivery sender built from configuration.
func WithSender(sender delivery.Sender) Option {
	return func(c *cli) { c.sender = sender }
}

// SetupCLI registers every steward command on rootCmd.
func SetupCLI(rootCmd *cobra.Command, opts ...Option) {
	c := &cli{}
	for _, opt := range opts {
		opt(c)
	}
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to DATABASE_URL or DB_* env vars; in-memory when unset)")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(
		c.serveCmd(),
		c.schedulerCmd(),
		c.workflowCmd(),
		c.taskCmd(),
		c.notifyCmd(),
		c.memberCmd(),
		c.eventCmd(),
		c.seedCmd(),
	)
}

// env is what a single command invocation works with.
type env struct {
	cfg           config.Config
	store         storage.Store
	owned         bool
	workflows     *service.WorkflowService
	tasks         *service.TaskService
	notifications *service.NotificationService
	directory     *service.DirectoryService
}

func (c *cli) open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, errors.Wrap(err, "retrieve db flag")
	}
	if dbConnStr != "" {
		cfg.DatabaseURL = dbConnStr
	}

	logger := log.GetLogger()
	e := &env{cfg: cfg, store: c.store}
	if e.store == nil {
		if cfg.DatabaseURL == "" {
			logger.Warnf("No database configured, using an in-memory store")
		}
		if e.store, err = internal_storage.InitStore(cfg.DatabaseURL); err != nil {
			return nil, errors.Wrap(err, "initialize store")
		}
		e.owned = true
	}

	svcOpts := []service.Option{
		service.WithLocation(cfg.Location),
		service.WithTemplateVariables(cfg.TemplateVariables()),
	}
	if c.now != nil {
		svcOpts = append(svcOpts, service.WithClock(c.now))
	}
	sender := c.sender
	if sender == nil {
		sender = delivery.NewSender(cfg.Delivery, logger)
	}
	e.workflows = service.NewWorkflowService(e.store, logger, svcOpts...)
	e.tasks = service.NewTaskService(e.store, logger, svcOpts...)
	e.notifications = service.NewNotificationService(e.store, sender, logger, svcOpts...)
	e.directory = service.NewDirectoryService(e.store, logger)
	return e, nil
}

func (e *env) Close() {
	if !e.owned {
		return
	}
	if err := e.store.Close(); err != nil {
		log.GetLogger().Errorf("Failed to close store: %v", err)
	}
}

func (c *cli) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// run opens an env, hands it to fn and closes it afterwards.
func (c *cli) run(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := c.open(cmd)
		if err != nil {
			return err
		}
		defer e.Close()
		if err := fn(cmd, e, args); err != nil {
			log.GetLogger().Debugf("%s failed: %v", cmd.CommandPath(), err)
			return err
		}
		return nil
	}
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = e.cfg.HTTPPort
			}
			withScheduler, _ := cmd.Flags().GetBool("with-scheduler")
			if withScheduler {
				sched, err := scheduler.New(e.cfg.SchedulerCron, e.notifications, e.cfg.Location, log.GetLogger())
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(ctxOf(cmd), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()
			}
			return internal_http.StartServer(port, internal_http.Services{
				Workflows:     e.workflows,
				Tasks:         e.tasks,
				Notifications: e.notifications,
				Directory:     e.directory,
				Records:       service.NewMemoryRecords(log.GetLogger()),
				Location:      e.cfg.Location,
				Now:           c.now,
			}, log.GetLogger())
		}),
	}
	cmd.Flags().String("port", "", "Port to listen on (defaults to HTTP_PORT)")
	cmd.Flags().Bool("with-scheduler", false, "Also run the notification scheduler in-process")
	return cmd
}

func (c *cli) schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the notification scheduler",
		RunE: c.run(func(cmd *cobra.Command, e *env, args []string) error {
			spec, _ := cmd.Flags().GetString("cron")
			if spec == "" {
				spec = e.cfg.SchedulerCron
			}
			sched, err := scheduler.New(spec, e.notifications, e.cfg.Location, log.GetLogger())
			if err != nil {
				return err
			}
			once, _ := cmd.Flags().GetBool("once")
			if once {
				return sched.RunOnce(ctxOf(cmd))
			}
			ctx, stop := signal.NotifyContext(ctxOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := sched.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			sched.Stop()
			return nil
		}),
	}
	cmd.Flags().String("cron", "", "Cron expression (defaults to SCHEDULER_CRON)")
	cmd.Flags().Bool("once", false, "Run a single schedule and dispatch pass and exit")
	return cmd
}

// parseDay reads a YYYY-MM-DD value in loc.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, errors.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d, nil
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
