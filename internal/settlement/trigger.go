package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/ecovest/internal/domain"
)

// DefaultSchedule runs a cycle every minute.
const DefaultSchedule = "@every 1m"

// Settler runs one settlement cycle. *Scheduler satisfies it.
type Settler interface {
	SettleCycle(ctx context.Context) (domain.SettlementReport, error)
}

// Trigger fires settlement cycles on a cron schedule and on demand.
//
// Overlapping firings are left to the Settler's single-flight guard. When a
// firing reports ErrCycleStuck the trigger stops and Run returns the error;
// it is not retried.
type Trigger struct {
	settler  Settler
	schedule string
	logger   *slog.Logger
	fatal    chan error
}

// NewTrigger validates schedule (five-field cron or a descriptor such as
// "@every 1m") and builds a Trigger.
func NewTrigger(settler Settler, schedule string, logger *slog.Logger) (*Trigger, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("settlement: %w: schedule %q: %v", domain.ErrInvalidInput, schedule, err)
	}
	return &Trigger{
		settler:  settler,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "settlement_trigger")),
		fatal:    make(chan error, 1),
	}, nil
}

// Schedule returns the cron expression in use.
func (t *Trigger) Schedule() string { return t.schedule }

// Run blocks until ctx is cancelled or a cycle is found stuck. On
// cancellation it waits for a cycle in progress to finish.
func (t *Trigger) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(t.schedule, func() { _, _ = t.fire(ctx, "cron") }); err != nil {
		return fmt.Errorf("settlement: add cron job: %w", err)
	}

	t.logger.InfoContext(ctx, "settlement trigger started", slog.String("schedule", t.schedule))
	c.Start()

	select {
	case <-ctx.Done():
		t.logger.InfoContext(ctx, "settlement trigger stopping")
		<-c.Stop().Done()
		return nil
	case err := <-t.fatal:
		// A stuck cycle never returns, so the running job is not awaited.
		c.Stop()
		return err
	}
}

// TriggerNow runs a cycle immediately on behalf of an operator.
func (t *Trigger) TriggerNow(ctx context.Context) (domain.SettlementReport, error) {
	return t.fire(ctx, "manual")
}

func (t *Trigger) fire(ctx context.Context, source string) (domain.SettlementReport, error) {
	report, err := t.settler.SettleCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrCycleInFlight):
		t.logger.WarnContext(ctx, "settlement cycle skipped, previous still running",
			slog.String("source", source),
		)
	case errors.Is(err, domain.ErrCycleStuck):
		t.logger.ErrorContext(ctx, "settlement trigger halting",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		select {
		case t.fatal <- err:
		default:
		}
	default:
		t.logger.ErrorContext(ctx, "settlement cycle failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}
	return report, err
}
