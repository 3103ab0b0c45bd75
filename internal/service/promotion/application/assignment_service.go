package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
	"promohub/internal/service/promotion/domain"
	"promohub/internal/service/promotion/port"
)

// AssignmentService 负责把活动分配给玩家，每个 (玩家, 活动) 最多一行
type AssignmentService struct {
	promotions  domain.PromotionRepository
	assignments domain.AssignmentRepository
	producer    port.NotificationProducer
	clock       clock.Clock
	tracer      trace.Tracer
}

func NewAssignmentService(
	promotions domain.PromotionRepository,
	assignments domain.AssignmentRepository,
	producer port.NotificationProducer,
	clk clock.Clock,
	tracer trace.Tracer,
) *AssignmentService {
	return &AssignmentService{
		promotions:  promotions,
		assignments: assignments,
		producer:    producer,
		clock:       clk,
		tracer:      tracer,
	}
}

// AssignPromotion 员工批量分配。已持有该活动的玩家被跳过，全部已持有时返回 ErrAllAlreadyAssigned。
func (s *AssignmentService) AssignPromotion(ctx context.Context, caller auth.Identity, promotionID string, req AssignRequest) ([]*domain.PlayerPromotion, error) {
	ctx, span := s.tracer.Start(ctx, "service.AssignPromotion")
	defer span.End()

	if !caller.IsStaff() {
		return nil, domain.ErrForbidden
	}
	pid, err := parseID("promotion_id", promotionID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	span.SetAttributes(attribute.String("promotion.id", pid.String()), attribute.Int("players.requested", len(req.UserIDs)))

	// 1. 活动必须存在、激活且未过期
	now := s.clock.Now()
	promotion, err := s.promotions.FindByID(ctx, pid)
	if err != nil {
		return nil, err
	}
	if err := promotion.CheckAvailable(now); err != nil {
		return nil, err
	}

	// 2. 去重并排除已分配的玩家
	playerIDs := uniqueIDs(req.UserIDs)
	existing, err := s.assignments.ExistingAssignees(ctx, pid, playerIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	assigned := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		assigned[id] = true
	}
	rows := make([]*domain.PlayerPromotion, 0, len(playerIDs))
	for _, id := range playerIDs {
		if !assigned[id] {
			rows = append(rows, domain.NewPlayerPromotion(id, pid, now))
		}
	}
	if len(rows) == 0 {
		return nil, domain.ErrAllAlreadyAssigned
	}

	// 3. 一次批量写入；并发写入的重复对由唯一约束跳过
	inserted, err := s.assignments.InsertBatch(ctx, rows)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(inserted) == 0 {
		// 预检之后的并发分配已全部写入
		return nil, domain.ErrAllAlreadyAssigned
	}
	metrics.AssignmentsTotal.WithLabelValues("staff").Add(float64(len(inserted)))
	span.SetAttributes(attribute.Int("players.assigned", len(inserted)))

	// 4. 通知尽力而为，失败不回滚分配
	for _, pp := range inserted {
		s.notifyAssigned(ctx, pp.PlayerID, promotion)
	}

	logger.Ctx(ctx).Info().
		Str("promotion_id", pid.String()).
		Int("requested", len(playerIDs)).
		Int("assigned", len(inserted)).
		Msg("promotion assigned")
	return inserted, nil
}

// AssignRegisteredPromotion 处理玩家注册事件：分配当前有效的 WELCOME_BONUS。
// 没有有效活动或玩家已持有时什么也不做，因此消息重复投递是安全的。
func (s *AssignmentService) AssignRegisteredPromotion(ctx context.Context, playerID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "service.AssignRegisteredPromotion")
	defer span.End()
	span.SetAttributes(attribute.String("player.id", playerID.String()))

	now := s.clock.Now()
	promotion, err := s.promotions.FindActive(ctx, domain.TypeWelcomeBonus, now)
	if err != nil {
		if errors.Is(err, domain.ErrPromotionNotFound) {
			logger.Ctx(ctx).Debug().Str("player_id", playerID.String()).Msg("no active welcome promotion")
			return nil
		}
		span.RecordError(err)
		return err
	}

	inserted, err := s.assignments.InsertBatch(ctx, []*domain.PlayerPromotion{domain.NewPlayerPromotion(playerID, promotion.ID, now)})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if len(inserted) == 0 {
		logger.Ctx(ctx).Info().
			Str("player_id", playerID.String()).
			Str("promotion_id", promotion.ID.String()).
			Msg("welcome promotion already assigned, skipping")
		return nil
	}
	metrics.AssignmentsTotal.WithLabelValues("registration").Inc()

	s.notifyAssigned(ctx, playerID, promotion)
	logger.Ctx(ctx).Info().
		Str("player_id", playerID.String()).
		Str("promotion_id", promotion.ID.String()).
		Msg("welcome promotion assigned")
	return nil
}

func (s *AssignmentService) notifyAssigned(ctx context.Context, playerID uuid.UUID, promotion *domain.Promotion) {
	if err := s.producer.SendPromotionAssigned(ctx, playerID, promotion); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("player_id", playerID.String()).
			Str("promotion_id", promotion.ID.String()).
			Msg("failed to publish assignment notification")
	}
}

// uniqueIDs 保持首次出现顺序去重，输入已通过 UUID 校验
func uniqueIDs(raw []string) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(raw))
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id := uuid.MustParse(s)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
