package service

import (
	"context"
	"time"

	"github.com/ignatij/steward/pkg/storage"
)

// Logger defines the logging interface the services write to.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type options struct {
	now   func() time.Time
	newID func() string
	vars  map[string]string
	loc   *time.Location
}

// Option configures a service.
type Option func(*options)

// WithClock replaces time.Now; tests use it to pin "today".
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid.NewString for rule, template and notification IDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithTemplateVariables adds variables every rendered notification can use,
// such as church_name.
func WithTemplateVariables(vars map[string]string) Option {
	return func(o *options) { o.vars = vars }
}

// WithLocation sets the time zone notifications are scheduled in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// inTx runs fn in a transaction on store, committing when fn succeeds and
// rolling back when it fails or panics, so a failed mutation leaves no
// partial writes. A panic is re-raised after the rollback.
func inTx(ctx context.Context, store storage.Store, logger Logger, fn func(tx storage.Store) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	txStore, err := store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				logger.Errorf("Failed to rollback after panic: %v (panic: %v)", rollbackErr, r)
			}
			panic(r)
		}
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()
	return fn(txStore)
}
