// Package settlement runs the periodic settlement cycle: it advances the
// value of every active position by one daily step, completes matured
// positions, and credits the positive growth to the owners' balances.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/valuation"
)

// Config tunes the scheduler.
type Config struct {
	PayoutFraction   float64       // share of positive growth credited, 0..1
	ShockProbability float64       // shock chance for positions that are not shock-prone
	Workers          int           // bound on parallel writes
	LockKey          string        // distributed lock key
	LockTTL          time.Duration // distributed lock lifetime, longer than SanityTimeout
	SanityTimeout    time.Duration // a cycle running longer than this is stuck
	Now              func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PayoutFraction:   1.0,
		ShockProbability: valuation.DefaultShockProbability,
		Workers:          8,
		LockKey:          "settlement:cycle",
		LockTTL:          20 * time.Minute,
		SanityTimeout:    15 * time.Minute,
		Now:              time.Now,
	}
}

// Validate checks the ranges of the numeric knobs. The lock is never renewed,
// so LockTTL must outlast SanityTimeout once zero fields take their defaults.
func (c Config) Validate() error {
	var errs []error
	if c.PayoutFraction < 0 || c.PayoutFraction > 1 {
		errs = append(errs, fmt.Errorf("payout fraction %v outside [0,1]", c.PayoutFraction))
	}
	if c.ShockProbability < 0 || c.ShockProbability > 1 {
		errs = append(errs, fmt.Errorf("shock probability %v outside [0,1]", c.ShockProbability))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}
	if c.LockTTL < 0 || c.SanityTimeout < 0 {
		errs = append(errs, errors.New("lock ttl and sanity timeout must not be negative"))
	} else if eff := c.withDefaults(); eff.LockTTL <= eff.SanityTimeout {
		errs = append(errs, fmt.Errorf("lock ttl %s must exceed sanity timeout %s", eff.LockTTL, eff.SanityTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("settlement: %w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.LockKey == "" {
		c.LockKey = d.LockKey
	}
	if c.LockTTL == 0 {
		c.LockTTL = d.LockTTL
	}
	if c.SanityTimeout == 0 {
		c.SanityTimeout = d.SanityTimeout
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Alerter delivers operational alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReportSink receives every finished report. *ReportArchiver satisfies it.
type ReportSink interface {
	Archive(ctx context.Context, report domain.SettlementReport) error
}

// Alert event types.
const (
	EventCycleStuck    = "settlement_stuck"
	EventCycleFailures = "settlement_failures"
)

// Deps are the collaborators of a Scheduler. Positions and Ledger are
// required; the rest are optional sinks.
type Deps struct {
	Positions domain.PositionStore
	Ledger    domain.AccountLedger
	Runs      domain.SettlementRunStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Locks     domain.LockManager
	Alerts    Alerter
	Sink      ReportSink
	Source    valuation.Source
}

// Scheduler executes settlement cycles. At most one cycle runs at a time per
// process; a LockManager extends that guarantee across processes.
type Scheduler struct {
	deps    Deps
	cfg     Config
	payout  decimal.Decimal
	logger  *slog.Logger
	guard   sync.Mutex
	stateMu sync.Mutex
	since   time.Time // start of the running cycle, zero when idle
}

// NewScheduler validates cfg and builds a Scheduler.
func NewScheduler(deps Deps, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if deps.Positions == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("settlement: %w: position store and ledger are required", domain.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		deps.Source = valuation.NewEntropySource()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		deps:   deps,
		cfg:    cfg,
		payout: decimal.NewFromFloat(cfg.PayoutFraction),
		logger: logger.With(slog.String("component", "settlement")),
	}, nil
}

// RunningSince returns the start time of the cycle in flight, or the zero
// time when the scheduler is idle.
func (s *Scheduler) RunningSince() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.since
}

func (s *Scheduler) setRunning(t time.Time) {
	s.stateMu.Lock()
	s.since = t
	s.stateMu.Unlock()
}

// SettleCycle runs one settlement cycle.
//
// The only error returned for a started cycle is a failure to list active
// positions. Per-position and per-owner failures are collected in the
// report. When another cycle holds the guard, ErrCycleInFlight is returned,
// or ErrCycleStuck if that cycle has outlived the sanity timeout.
//
// A cycle held by another instance through the distributed lock always
// yields ErrCycleInFlight, so a healthy process never halts on a peer's
// behalf. If the holder started more than SanityTimeout ago the stuck alert
// is raised; its lock expires after LockTTL and a later firing takes over.
//
// A started cycle ignores cancellation of ctx and runs to completion.
func (s *Scheduler) SettleCycle(ctx context.Context) (domain.SettlementReport, error) {
	if !s.guard.TryLock() {
		return domain.SettlementReport{}, s.busy(ctx)
	}
	defer s.guard.Unlock()

	ctx = context.WithoutCancel(ctx)
	started := s.cfg.Now()
	s.setRunning(started)
	defer s.setRunning(time.Time{})

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return domain.SettlementReport{}, s.heldElsewhere(ctx, err)
			}
			return domain.SettlementReport{}, fmt.Errorf("settlement: acquire lock: %w", err)
		}
		defer unlock()
	}

	report, err := s.run(ctx, started)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement cycle aborted",
			slog.String("run_id", report.RunID),
			slog.String("error", err.Error()),
		)
		return report, err
	}

	s.publish(ctx, report)
	return report, nil
}

func (s *Scheduler) busy(ctx context.Context) error {
	since := s.RunningSince()
	if !since.IsZero() && s.cfg.Now().Sub(since) > s.cfg.SanityTimeout {
		msg := s.alertStuck(ctx, since, "local")
		return fmt.Errorf("settlement: %w: %s", domain.ErrCycleStuck, msg)
	}
	return fmt.Errorf("settlement: %w", domain.ErrCycleInFlight)
}

func (s *Scheduler) heldElsewhere(ctx context.Context, err error) error {
	var held *domain.LockHeldError
	if errors.As(err, &held) && !held.Since.IsZero() && s.cfg.Now().Sub(held.Since) > s.cfg.SanityTimeout {
		msg := s.alertStuck(ctx, held.Since, "remote")
		return fmt.Errorf("settlement: %w: held by another instance: %s", domain.ErrCycleInFlight, msg)
	}
	return fmt.Errorf("settlement: %w: held by another instance", domain.ErrCycleInFlight)
}

// alertStuck logs and alerts a cycle that started at since and has outlived
// the sanity timeout. It returns the alert message.
func (s *Scheduler) alertStuck(ctx context.Context, since time.Time, holder string) string {
	msg := fmt.Sprintf("settlement cycle started at %s is still running after %s",
		since.UTC().Format(time.RFC3339), s.cfg.SanityTimeout)
	s.logger.ErrorContext(ctx, "settlement cycle stuck",
		slog.String("holder", holder),
		slog.Time("started_at", since),
		slog.Duration("sanity_timeout", s.cfg.SanityTimeout),
	)
	if s.deps.Alerts != nil {
		if err := s.deps.Alerts.Notify(ctx, EventCycleStuck, "Settlement stuck", msg); err != nil {
			s.logger.WarnContext(ctx, "stuck alert failed", slog.String("error", err.Error()))
		}
	}
	return msg
}

// outcome is the computed next state of one position.
type outcome struct {
	prev      domain.Position
	next      domain.Position
	shocked   bool
	completed bool
	credit    decimal.Decimal

	// filled by the persist phase
	saved    bool
	conflict bool
	err      error
}

func (s *Scheduler) run(ctx context.Context, started time.Time) (domain.SettlementReport, error) {
	report := domain.SettlementReport{
		RunID:         uuid.New().String(),
		StartedAt:     started,
		TotalCredited: decimal.Zero,
		Credits:       make(map[string]decimal.Decimal),
	}

	positions, err := s.deps.Positions.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("settlement: list active positions: %w", err)
	}
	report.Listed = len(positions)

	outcomes := make([]outcome, 0, len(positions))
	for _, pos := range positions {
		if pos.Status != domain.PositionStatusActive {
			report.Skipped++
			continue
		}
		outcomes = append(outcomes, s.compute(pos, started))
	}

	s.persist(ctx, outcomes)

	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.conflict:
			report.Conflicts++
		case o.err != nil:
			report.PositionFailures = append(report.PositionFailures, domain.PositionFailure{
				PositionID: o.prev.ID,
				OwnerID:    o.prev.OwnerID,
				Error:      o.err.Error(),
			})
		case o.saved:
			report.Advanced++
			if o.shocked {
				report.Shocks++
			}
			if o.completed {
				report.Completed++
			}
			if o.credit.IsPositive() {
				report.Credits[o.prev.OwnerID] = report.Credits[o.prev.OwnerID].Add(o.credit)
			}
		}
	}

	s.credit(ctx, &report)
	report.FinishedAt = s.cfg.Now()
	return report, nil
}

// compute advances one position by a single daily step. It draws from the
// shared source, so callers must invoke it sequentially.
func (s *Scheduler) compute(pos domain.Position, now time.Time) outcome {
	res := valuation.Step(pos.CurrentValue, pos, s.deps.Source, s.cfg.ShockProbability)

	next := pos
	next.CurrentValue = res.Next
	o := outcome{prev: pos, shocked: res.Shocked, credit: decimal.Zero}
	if pos.Matured(now) {
		next.Status = domain.PositionStatusCompleted
		o.completed = true
	}
	o.next = next

	if delta := res.Next.Sub(pos.CurrentValue); delta.IsPositive() {
		o.credit = valuation.Round2(delta.Mul(s.payout))
	}
	return o
}

// persist writes every outcome conditionally on the version read at listing
// time. A concurrent external write wins: the conflicting position is left
// alone and earns no credit this cycle.
func (s *Scheduler) persist(ctx context.Context, outcomes []outcome) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range outcomes {
		o := &outcomes[i]
		g.Go(func() error {
			err := s.deps.Positions.Save(ctx, o.next, o.prev.Version)
			switch {
			case err == nil:
				o.saved = true
			case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrNotFound):
				o.conflict = true
				s.logger.InfoContext(ctx, "position changed during cycle, skipped",
					slog.String("position_id", o.prev.ID),
					slog.String("error", err.Error()),
				)
			default:
				o.err = err
				s.logger.ErrorContext(ctx, "save position failed",
					slog.String("position_id", o.prev.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// credit issues one atomic credit per owner. A failure for one owner never
// affects the others.
func (s *Scheduler) credit(ctx context.Context, report *domain.SettlementReport) {
	owners := make([]string, 0, len(report.Credits))
	for owner := range report.Credits {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	errs := make([]error, len(owners))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, owner := range owners {
		amount := report.Credits[owner]
		g.Go(func() error {
			errs[i] = s.deps.Ledger.CreditAtomic(ctx, owner, amount, domain.ReasonSettlement, report.RunID)
			return nil
		})
	}
	_ = g.Wait()

	for i, owner := range owners {
		amount := report.Credits[owner]
		if errs[i] != nil {
			s.logger.ErrorContext(ctx, "credit failed",
				slog.String("owner_id", owner),
				slog.String("amount", amount.StringFixed(2)),
				slog.String("error", errs[i].Error()),
			)
			report.LedgerFailures = append(report.LedgerFailures, domain.LedgerFailure{
				OwnerID: owner,
				Amount:  amount,
				Error:   errs[i].Error(),
			})
			continue
		}
		report.AccountsCredited++
		report.TotalCredited = report.TotalCredited.Add(amount)
	}
}

// publish fans the finished report out to the optional sinks. Failures are
// logged only; the cycle's writes are already durable.
func (s *Scheduler) publish(ctx context.Context, report domain.SettlementReport) {
	s.logger.InfoContext(ctx, "settlement cycle finished",
		slog.String("run_id", report.RunID),
		slog.Int("listed", report.Listed),
		slog.Int("advanced", report.Advanced),
		slog.Int("shocks", report.Shocks),
		slog.Int("completed", report.Completed),
		slog.Int("conflicts", report.Conflicts),
		slog.Int("skipped", report.Skipped),
		slog.Int("accounts_credited", report.AccountsCredited),
		slog.String("total_credited", report.TotalCredited.StringFixed(2)),
		slog.Int("position_failures", len(report.PositionFailures)),
		slog.Int("ledger_failures", len(report.LedgerFailures)),
		slog.Duration("duration", report.Duration()),
	)

	if s.deps.Bus != nil {
		if payload, err := json.Marshal(reportEvent(report)); err == nil {
			if err := s.deps.Bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
				s.logger.WarnContext(ctx, "publish settlement report failed", slog.String("error", err.Error()))
			}
			if err := s.deps.Bus.StreamAppend(ctx, domain.StreamSettlement, payload); err != nil {
				s.logger.WarnContext(ctx, "append settlement stream failed", slog.String("error", err.Error()))
			}
		}
	}

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Record(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "record settlement run failed", slog.String("error", err.Error()))
		}
	}

	if s.deps.Audit != nil {
		detail := map[string]any{
			"run_id":            report.RunID,
			"advanced":          report.Advanced,
			"completed":         report.Completed,
			"conflicts":         report.Conflicts,
			"total_credited":    report.TotalCredited.StringFixed(2),
			"position_failures": len(report.PositionFailures),
			"ledger_failures":   len(report.LedgerFailures),
		}
		if err := s.deps.Audit.Log(ctx, "settlement_cycle", detail); err != nil {
			s.logger.WarnContext(ctx, "audit settlement run failed", slog.String("error", err.Error()))
		}
	}

	if s.deps.Sink != nil {
		if err := s.deps.Sink.Archive(ctx, report); err != nil {
			s.logger.WarnContext(ctx, "archive settlement report failed", slog.String("error", err.Error()))
		}
	}

	if report.HasFailures() && s.deps.Alerts != nil {
		msg := fmt.Sprintf("run %s: %d position failure(s), %d ledger failure(s)",
			report.RunID, len(report.PositionFailures), len(report.LedgerFailures))
		if err := s.deps.Alerts.Notify(ctx, EventCycleFailures, "Settlement failures", msg); err != nil {
			s.logger.WarnContext(ctx, "failure alert failed", slog.String("error", err.Error()))
		}
	}
}

// reportEvent is the bus payload for a finished cycle.
func reportEvent(r domain.SettlementReport) map[string]any {
	return map[string]any{
		"event":             "settlement_cycle",
		"run_id":            r.RunID,
		"started_at":        r.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":       r.FinishedAt.UTC().Format(time.RFC3339Nano),
		"advanced":          r.Advanced,
		"shocks":            r.Shocks,
		"completed":         r.Completed,
		"conflicts":         r.Conflicts,
		"accounts_credited": r.AccountsCredited,
		"total_credited":    r.TotalCredited.StringFixed(2),
		"failures":          len(r.PositionFailures) + len(r.LedgerFailures),
	}
}
