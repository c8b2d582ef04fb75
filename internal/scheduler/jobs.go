package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/metrics"
	"github.com/alanyoungcy/updown/internal/service"
)

// Rounds is the part of the round service driven by the schedule.
type Rounds interface {
	OpenDailyRound(ctx context.Context) (domain.Round, error)
	CurrentPool(ctx context.Context) (domain.PoolSnapshot, error)
	SettleFromFeed(ctx context.Context, id domain.RoundID) (service.SettlementResult, error)
}

// PriceGate reports whether the operator has pushed a recent price.
type PriceGate interface {
	FreshPushed(ctx context.Context, maxAge time.Duration) (domain.Price, error)
}

// Alerter is told when scheduled settlement gives up.
type Alerter interface {
	SettleFailed(ctx context.Context, id domain.RoundID, attempts int, cause error) error
}

// RetryPolicy bounds the settlement attempts made after the settle trigger.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	// MaxPriceAge skips an attempt while the pushed price is older than
	// this. Zero disables the gate.
	MaxPriceAge time.Duration
}

// DefaultRetryPolicy retries every 10s for 30 minutes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: 10 * time.Second, MaxAttempts: 180, MaxPriceAge: 5 * time.Minute}
}

// Jobs holds the open and settle tasks.
type Jobs struct {
	rounds  Rounds
	prices  PriceGate
	policy  RetryPolicy
	alerter Alerter
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewJobs(rounds Rounds, prices PriceGate, policy RetryPolicy, logger *slog.Logger) *Jobs {
	return &Jobs{
		rounds: rounds,
		prices: prices,
		policy: policy,
		logger: logger.With(slog.String("component", "round_jobs")),
		sleep:  sleepCtx,
	}
}

func (j *Jobs) WithAlerter(a Alerter) *Jobs {
	j.alerter = a
	return j
}

func (j *Jobs) WithMetrics(m *metrics.Metrics) *Jobs {
	j.metrics = m
	return j
}

// Register adds both jobs to s.
func (j *Jobs) Register(s *Scheduler, openCron, settleCron string) error {
	if err := s.Add("open_round", openCron, j.OpenRound); err != nil {
		return err
	}
	return s.Add("settle_round", settleCron, j.SettleRound)
}

// OpenRound creates today's round.
func (j *Jobs) OpenRound(ctx context.Context) error {
	r, err := j.rounds.OpenDailyRound(ctx)
	if err != nil {
		return fmt.Errorf("open round: %w", err)
	}
	j.logger.InfoContext(ctx, "round_jobs: daily round ready",
		slog.String("round_id", string(r.ID)),
		slog.String("open_price", r.OpenPrice.String()),
	)
	return nil
}

// SettleRound settles the open round, retrying precondition failures
// (stale price, too early, quote outside the band, lock held) under the
// policy. Any other error ends the attempt loop at once.
func (j *Jobs) SettleRound(ctx context.Context) error {
	pool, err := j.rounds.CurrentPool(ctx)
	if errors.Is(err, domain.ErrNoActiveRound) {
		j.logger.InfoContext(ctx, "round_jobs: no open round to settle")
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle round: %w", err)
	}
	id := pool.RoundID

	var lastErr error
	for attempt := 1; attempt <= j.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := j.sleep(ctx, j.policy.Interval); err != nil {
				return err
			}
		}

		lastErr = j.attempt(ctx, id)
		switch {
		case lastErr == nil:
			j.metrics.SettleAttempt("settled")
			j.logger.InfoContext(ctx, "round_jobs: round settled",
				slog.String("round_id", string(id)),
				slog.Int("attempt", attempt),
			)
			return nil
		case errors.Is(lastErr, domain.ErrAlreadySettled):
			j.metrics.SettleAttempt("already_settled")
			return nil
		case domain.KindOf(lastErr) != domain.KindPrecondition:
			j.metrics.SettleAttempt("failed")
			j.giveUp(ctx, id, attempt, lastErr)
			return fmt.Errorf("settle round %s: %w", id, lastErr)
		}

		j.metrics.SettleAttempt("retry")
		j.logger.InfoContext(ctx, "round_jobs: settle attempt deferred",
			slog.String("round_id", string(id)),
			slog.Int("attempt", attempt),
			slog.String("reason", lastErr.Error()),
		)
	}

	j.metrics.SettleAttempt("exhausted")
	j.giveUp(ctx, id, j.policy.MaxAttempts, lastErr)
	return fmt.Errorf("settle round %s: gave up after %d attempts: %w", id, j.policy.MaxAttempts, lastErr)
}

func (j *Jobs) attempt(ctx context.Context, id domain.RoundID) error {
	if j.policy.MaxPriceAge > 0 {
		if _, err := j.prices.FreshPushed(ctx, j.policy.MaxPriceAge); err != nil {
			return err
		}
	}
	_, err := j.rounds.SettleFromFeed(ctx, id)
	return err
}

func (j *Jobs) giveUp(ctx context.Context, id domain.RoundID, attempts int, cause error) {
	j.logger.ErrorContext(ctx, "round_jobs: settlement failed, manual intervention needed",
		slog.String("round_id", string(id)),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
	if j.alerter == nil {
		return
	}
	if err := j.alerter.SettleFailed(ctx, id, attempts, cause); err != nil {
		j.logger.WarnContext(ctx, "round_jobs: alert failed", slog.String("error", err.Error()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
