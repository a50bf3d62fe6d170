package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner schedules the periodic jobs with standard 5-field cron specs.
type Runner struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// NewRunner builds an empty runner.
func NewRunner(logger zerolog.Logger) *Runner {
	scoped := logger.With().Str("component", "scheduler").Logger()
	return &Runner{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{scoped}))),
		logger: scoped,
	}
}

// Add registers a job under the given cron spec. Job errors are logged; they
// never stop the schedule.
func (r *Runner) Add(ctx context.Context, spec, name string, job func(context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		if err := job(ctx); err != nil {
			r.logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	r.logger.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// Start begins scheduling in a background goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// cronLogger adapts zerolog to the cron logging interface used by the
// recovery chain.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
