package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
	"promohub/internal/service/promotion/domain"
	"promohub/internal/service/promotion/port"
)

const reconcileBatch = 100

// Reconciler 清扫滞留在 PENDING 的领取意图。
// 对每条意图先锁定分配行：能拿到锁说明没有进行中的领取，此时
// claimed=true 视为已提交，否则账本结果未知，标记为 UNRESOLVED 等待人工对账。
type Reconciler struct {
	intents    domain.ClaimIntentRepository
	uow        domain.UnitOfWork
	locker     port.Locker
	clock      clock.Clock
	tracer     trace.Tracer
	interval   time.Duration
	staleAfter time.Duration
}

func NewReconciler(
	intents domain.ClaimIntentRepository,
	uow domain.UnitOfWork,
	locker port.Locker,
	clk clock.Clock,
	tracer trace.Tracer,
	interval, staleAfter time.Duration,
) *Reconciler {
	if locker == nil {
		locker = port.NoopLocker{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		intents:    intents,
		uow:        uow,
		locker:     locker,
		clock:      clk,
		tracer:     tracer,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// SweepReport 汇总一次清扫的结果
type SweepReport struct {
	Scanned    int
	Committed  int
	Unresolved int
}

// Run 启动时立即清扫一次，之后按 interval 周期执行，直到 ctx 结束
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) sweepOnce(ctx context.Context) {
	// 拿不到锁说明其它实例正在清扫，本轮跳过
	lockCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	if err := r.locker.Lock(lockCtx); err != nil {
		if ctx.Err() == nil {
			logger.L().Debug().Err(err).Msg("claim reconciler lock not acquired, skipping round")
		}
		return
	}
	defer func() {
		if err := r.locker.Unlock(); err != nil {
			logger.L().Warn().Err(err).Msg("failed to release claim reconciler lock")
		}
	}()

	report, err := r.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		logger.L().Error().Err(err).Msg("claim reconciliation sweep failed")
		return
	}
	if report.Scanned > 0 {
		logger.L().Info().
			Int("scanned", report.Scanned).
			Int("committed", report.Committed).
			Int("unresolved", report.Unresolved).
			Msg("claim reconciliation sweep finished")
	}
}

// Sweep 处理一批过期的 PENDING 意图。调用方负责多实例互斥。
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.Sweep")
	defer span.End()

	var report SweepReport
	cutoff := r.clock.Now().UTC().Add(-r.staleAfter)
	stale, err := r.intents.ListStale(ctx, domain.IntentPending, cutoff, reconcileBatch)
	if err != nil {
		span.RecordError(err)
		return report, errors.Wrap(err, "list stale intents")
	}
	report.Scanned = len(stale)
	span.SetAttributes(attribute.Int("intents.stale", len(stale)))

	for _, intent := range stale {
		to, err := r.resolve(ctx, intent)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			logger.Ctx(ctx).Error().Err(err).Str("assignment_id", intent.AssignmentID.String()).Msg("failed to reconcile claim intent")
			continue
		}
		switch to {
		case domain.IntentCommitted:
			report.Committed++
		case domain.IntentUnresolved:
			report.Unresolved++
			metrics.ClaimIntentsUnresolved.Inc()
			logger.Ctx(ctx).Error().
				Str("assignment_id", intent.AssignmentID.String()).
				Str("player_id", intent.PlayerID.String()).
				Str("promotion_id", intent.PromotionID.String()).
				Str("amount", intent.Amount.StringFixed(2)).
				Str("correlation_id", intent.CorrelationID.String()).
				Msg("claim outcome unknown, ledger must be reconciled manually")
		}
	}
	return report, nil
}

// resolve 返回意图被迁移到的状态；并发领取已先行修改意图时返回空字符串
func (r *Reconciler) resolve(ctx context.Context, intent *domain.ClaimIntent) (domain.ClaimIntentStatus, error) {
	var applied domain.ClaimIntentStatus
	err := r.uow.Within(ctx, func(ctx context.Context, tx domain.AssignmentTx) error {
		to := domain.IntentUnresolved
		reason := "stale pending claim, ledger outcome unknown"

		pp, err := tx.LockAssignmentByID(ctx, intent.AssignmentID)
		switch {
		case err == nil && pp.Claimed:
			to, reason = domain.IntentCommitted, ""
		case err != nil && !errors.Is(err, domain.ErrAssignmentNotFound):
			return err
		}

		// 持锁期间迁移，避免与进行中的领取交错
		ok, err := r.intents.Transition(ctx, intent.AssignmentID, intent.CorrelationID, domain.IntentPending, to, reason)
		if err != nil {
			return err
		}
		if ok {
			applied = to
		}
		return nil
	})
	return applied, err
}
