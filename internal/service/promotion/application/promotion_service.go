package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/logger"
	"promohub/internal/service/promotion/domain"
)

// PromotionService 负责活动的创建与查询
type PromotionService struct {
	promotions domain.PromotionRepository
	tracer     trace.Tracer
}

// NewPromotionService 创建一个新的活动服务实例
func NewPromotionService(promotions domain.PromotionRepository, tracer trace.Tracer) *PromotionService {
	return &PromotionService{promotions: promotions, tracer: tracer}
}

// CreatePromotion 仅允许员工调用；唯一类型的重叠冲突由仓储层判定
func (s *PromotionService) CreatePromotion(ctx context.Context, caller auth.Identity, req CreatePromotionRequest) (*domain.Promotion, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreatePromotion")
	defer span.End()

	if !caller.IsStaff() {
		return nil, domain.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	promotion, err := req.toDomain()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("promotion.id", promotion.ID.String()),
		attribute.String("promotion.type", string(promotion.Type)),
	)

	if err := s.promotions.Create(ctx, promotion); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("promotion_id", promotion.ID.String()).
		Str("type", string(promotion.Type)).
		Str("created_by", caller.UserID).
		Msg("promotion created")
	return promotion, nil
}

// ListPromotions 是员工视角的分页查询
func (s *PromotionService) ListPromotions(ctx context.Context, caller auth.Identity, q ListPromotionsQuery) (*PageResult[*domain.Promotion], error) {
	ctx, span := s.tracer.Start(ctx, "service.ListPromotions")
	defer span.End()

	if !caller.IsStaff() {
		return nil, domain.ErrForbidden
	}
	if err := q.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	filter, page := q.toFilter()

	items, total, err := s.promotions.Query(ctx, filter, page)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &PageResult[*domain.Promotion]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

// ListPlayerPromotions 返回玩家被分配的活动。玩家只能查看自己的，playerID 参数对其无效。
func (s *PromotionService) ListPlayerPromotions(ctx context.Context, caller auth.Identity, playerID string, q ListPromotionsQuery) (*PageResult[*domain.PlayerPromotionView], error) {
	ctx, span := s.tracer.Start(ctx, "service.ListPlayerPromotions")
	defer span.End()

	if caller.Role == auth.RolePlayer {
		playerID = caller.UserID
	}
	pid, err := parseID("player_id", playerID)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, toValidationError(err)
	}
	filter, page := q.toFilter()
	span.SetAttributes(attribute.String("player.id", pid.String()))

	items, total, err := s.promotions.QueryForPlayer(ctx, pid, filter, page)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &PageResult[*domain.PlayerPromotionView]{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}
