package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
	"promohub/internal/service/promotion/domain"
	"promohub/internal/service/promotion/port"
)

// ClaimService 驱动"本地标记已领取 + 远端账本入账"这一跨服务事务
type ClaimService struct {
	promotions    domain.PromotionRepository
	assignments   domain.AssignmentRepository
	uow           domain.UnitOfWork
	intents       domain.ClaimIntentRepository
	ledger        port.Ledger
	producer      port.NotificationProducer
	clock         clock.Clock
	tracer        trace.Tracer
	ledgerTimeout time.Duration
}

type ClaimServiceDeps struct {
	Promotions    domain.PromotionRepository
	Assignments   domain.AssignmentRepository
	UnitOfWork    domain.UnitOfWork
	Intents       domain.ClaimIntentRepository
	Ledger        port.Ledger
	Producer      port.NotificationProducer
	Clock         clock.Clock
	Tracer        trace.Tracer
	LedgerTimeout time.Duration
}

func NewClaimService(d ClaimServiceDeps) *ClaimService {
	if d.LedgerTimeout <= 0 {
		d.LedgerTimeout = 5 * time.Second
	}
	return &ClaimService{
		promotions:    d.Promotions,
		assignments:   d.Assignments,
		uow:           d.UnitOfWork,
		intents:       d.Intents,
		ledger:        d.Ledger,
		producer:      d.Producer,
		clock:         d.Clock,
		tracer:        d.Tracer,
		ledgerTimeout: d.LedgerTimeout,
	}
}

// ClaimPromotion 为调用者领取一个已分配的活动。
// 分配行在整个账本调用期间被 FOR UPDATE 锁定；账本失败时事务回滚，claimed 保持 false。
func (s *ClaimService) ClaimPromotion(ctx context.Context, caller auth.Identity, req ClaimRequest, credential string) (result *ClaimResult, err error) {
	ctx, span := s.tracer.Start(ctx, "service.ClaimPromotion")
	defer span.End()
	defer func() {
		metrics.ClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	playerID, err := parseID("userId", caller.UserID)
	if err != nil {
		return nil, err
	}
	promotionID := uuid.MustParse(req.PromotionID)
	span.SetAttributes(attribute.String("player.id", playerID.String()), attribute.String("promotion.id", promotionID.String()))

	// 1. 活动校验
	promotion, err := s.promotions.FindByID(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if err := promotion.CheckAvailable(s.clock.Now()); err != nil {
		return nil, err
	}

	// 2. 分配校验，已领取时直接拒绝
	assignment, err := s.assignments.Find(ctx, playerID, promotionID)
	if err != nil {
		return nil, err
	}
	if assignment.Claimed {
		return nil, domain.ErrAlreadyClaimed
	}

	var (
		intent      *domain.ClaimIntent
		ledgerRes   *port.LedgerResult
		ledgerErr   error
		ledgerTried bool
	)
	// 事务不随请求取消：账本成功后客户端断开也要完成提交。账本调用仍受请求 ctx 和超时约束。
	reqCtx := ctx
	err = s.uow.Within(context.WithoutCancel(ctx), func(ctx context.Context, tx domain.AssignmentTx) error {
		// 3. 加锁后再次确认，防止并发请求重复入账
		pp, err := tx.LockAssignment(ctx, playerID, promotionID)
		if err != nil {
			return err
		}
		if pp.Claimed {
			return domain.ErrAlreadyClaimed
		}

		// 4. 写入 PENDING 意图（独立提交），进程若在账本调用期间退出可被对账发现
		intent, err = s.beginIntent(ctx, pp, promotion)
		if err != nil {
			return err
		}

		// 5. 标记已领取，随事务提交或回滚
		if err := pp.Claim(s.clock.Now()); err != nil {
			return err
		}
		if err := tx.Save(ctx, pp); err != nil {
			return err
		}

		// 6. 调用账本，必须有超时
		ledgerTried = true
		ledgerRes, ledgerErr = s.credit(reqCtx, pp, promotion, credential)
		return ledgerErr
	})
	if err != nil {
		switch {
		case intent == nil:
		case !ledgerTried || ledgerErr != nil:
			// 账本未入账或明确失败，本地已回滚，允许重试
			s.finishIntent(ctx, intent, domain.IntentFailed, err.Error())
		default:
			// 账本已成功但本地提交失败：意图保持 PENDING，由对账标记为 UNRESOLVED
			logger.Ctx(ctx).Error().Err(err).
				Str("assignment_id", intent.AssignmentID.String()).
				Msg("claim commit failed after ledger credit, left for reconciliation")
		}
		return nil, err
	}

	// 7. 本地已提交
	s.finishIntent(ctx, intent, domain.IntentCommitted, "")
	if err := s.producer.SendPromotionClaimed(ctx, playerID, promotion, ledgerRes.Balance); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("player_id", playerID.String()).Msg("failed to publish claim notification")
	}

	logger.Ctx(ctx).Info().
		Str("player_id", playerID.String()).
		Str("promotion_id", promotionID.String()).
		Str("amount", promotion.Amount.StringFixed(2)).
		Str("balance", ledgerRes.Balance.String()).
		Msg("promotion claimed")
	return &ClaimResult{AssignmentID: intent.AssignmentID, Balance: ledgerRes.Balance}, nil
}

// beginIntent 在尚无阻塞意图时写入新的 PENDING 意图
func (s *ClaimService) beginIntent(ctx context.Context, pp *domain.PlayerPromotion, promotion *domain.Promotion) (*domain.ClaimIntent, error) {
	now := s.clock.Now().UTC()
	intent := &domain.ClaimIntent{
		AssignmentID: pp.ID,
		PlayerID:     pp.PlayerID,
		PromotionID:  pp.PromotionID,
		CreatedAt:    now,
	}
	prev, err := s.intents.FindByAssignment(ctx, pp.ID)
	switch {
	case err == nil:
		if prev.Blocking() {
			return nil, domain.ErrClaimPendingReconciliation
		}
		intent.Attempts = prev.Attempts
		intent.CreatedAt = prev.CreatedAt
	case !errors.Is(err, domain.ErrClaimIntentNotFound):
		return nil, err
	}

	intent.CorrelationID = uuid.New()
	intent.Amount = promotion.Amount
	intent.Status = domain.IntentPending
	intent.Attempts++
	intent.UpdatedAt = now
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, errors.Wrap(err, "persist claim intent")
	}
	return intent, nil
}

// finishIntent 的失败只记录日志：意图停留在 PENDING 时由对账修正
func (s *ClaimService) finishIntent(ctx context.Context, intent *domain.ClaimIntent, to domain.ClaimIntentStatus, reason string) {
	ctx = context.WithoutCancel(ctx)
	ok, err := s.intents.Transition(ctx, intent.AssignmentID, intent.CorrelationID, domain.IntentPending, to, reason)
	if err != nil || !ok {
		logger.Ctx(ctx).Warn().Err(err).
			Str("assignment_id", intent.AssignmentID.String()).
			Str("to", string(to)).
			Msg("claim intent transition did not apply")
	}
}

func (s *ClaimService) credit(ctx context.Context, pp *domain.PlayerPromotion, promotion *domain.Promotion, credential string) (*port.LedgerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	additional, err := json.Marshal(NewPromotionResponse(promotion))
	if err != nil {
		return nil, errors.Wrap(err, "encode promotion")
	}

	start := time.Now()
	res, err := s.ledger.AddTransaction(ctx, port.LedgerRequest{
		UserID:         pp.PlayerID.String(),
		Amount:         promotion.Amount,
		Type:           port.TransactionCredit,
		Description:    "Promotion claimed: " + promotion.Title,
		AdditionalData: additional,
		IdempotencyKey: pp.ID.String(),
		Credential:     credential,
	})
	switch {
	case err == nil:
		metrics.LedgerLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		return res, nil
	case errors.Is(err, port.ErrLedgerRejected):
		metrics.LedgerLatency.WithLabelValues("rejected").Observe(time.Since(start).Seconds())
		return nil, errors.Wrap(domain.ErrLedgerRejected, errors.Cause(err).Error())
	default:
		// 超时或传输失败时入账结果未知，幂等键保证重试不会重复入账
		metrics.LedgerLatency.WithLabelValues("unavailable").Observe(time.Since(start).Seconds())
		return nil, errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
	}
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrLedgerRejected):
		return "ledger_rejected"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, domain.ErrClaimPendingReconciliation):
		return "pending_reconciliation"
	default:
		return "rejected"
	}
}
