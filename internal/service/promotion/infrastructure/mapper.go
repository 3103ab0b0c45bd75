package infrastructure

import (
	"promohub/internal/service/promotion/domain"
)

// ToDomainPromotion 将数据库模型转换为领域模型
func ToDomainPromotion(model *PromotionModel) *domain.Promotion {
	if model == nil {
		return nil
	}
	return &domain.Promotion{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		Type:        domain.PromotionType(model.Type),
		Amount:      model.Amount,
		IsActive:    model.IsActive,
		StartDate:   domain.DateOf(model.StartDate),
		EndDate:     domain.DateOf(model.EndDate),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

// FromDomainPromotion 将领域模型转换为数据库模型
func FromDomainPromotion(p *domain.Promotion) *PromotionModel {
	return &PromotionModel{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Type:        string(p.Type),
		Amount:      p.Amount,
		IsActive:    p.IsActive,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func ToDomainPlayerPromotion(model *PlayerPromotionModel) *domain.PlayerPromotion {
	if model == nil {
		return nil
	}
	return &domain.PlayerPromotion{
		ID:          model.ID,
		PlayerID:    model.PlayerID,
		PromotionID: model.PromotionID,
		Claimed:     model.Claimed,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func FromDomainPlayerPromotion(pp *domain.PlayerPromotion) *PlayerPromotionModel {
	return &PlayerPromotionModel{
		ID:          pp.ID,
		PlayerID:    pp.PlayerID,
		PromotionID: pp.PromotionID,
		Claimed:     pp.Claimed,
		CreatedAt:   pp.CreatedAt,
		UpdatedAt:   pp.UpdatedAt,
	}
}

func ToDomainClaimIntent(model *ClaimIntentModel) *domain.ClaimIntent {
	if model == nil {
		return nil
	}
	return &domain.ClaimIntent{
		AssignmentID:  model.AssignmentID,
		CorrelationID: model.CorrelationID,
		PlayerID:      model.PlayerID,
		PromotionID:   model.PromotionID,
		Amount:        model.Amount,
		Status:        domain.ClaimIntentStatus(model.Status),
		Attempts:      model.Attempts,
		LastError:     model.LastError,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

func FromDomainClaimIntent(ci *domain.ClaimIntent) *ClaimIntentModel {
	return &ClaimIntentModel{
		AssignmentID:  ci.AssignmentID,
		CorrelationID: ci.CorrelationID,
		PlayerID:      ci.PlayerID,
		PromotionID:   ci.PromotionID,
		Amount:        ci.Amount,
		Status:        string(ci.Status),
		Attempts:      ci.Attempts,
		LastError:     ci.LastError,
		CreatedAt:     ci.CreatedAt,
		UpdatedAt:     ci.UpdatedAt,
	}
}
