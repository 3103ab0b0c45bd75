package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"promohub/internal/service/promotion/domain"
)

// GormClaimIntentRepository 是 ClaimIntentRepository 的 GORM 实现，
// 每次调用独立提交，不参与领取事务。
type GormClaimIntentRepository struct {
	db *gorm.DB
}

func NewGormClaimIntentRepository(db *gorm.DB) *GormClaimIntentRepository {
	return &GormClaimIntentRepository{db: db}
}

func (r *GormClaimIntentRepository) FindByAssignment(ctx context.Context, assignmentID uuid.UUID) (*domain.ClaimIntent, error) {
	var model ClaimIntentModel
	err := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClaimIntentNotFound
		}
		return nil, errors.Wrap(err, "find claim intent")
	}
	return ToDomainClaimIntent(&model), nil
}

// Save 按 assignment_id upsert
func (r *GormClaimIntentRepository) Save(ctx context.Context, intent *domain.ClaimIntent) error {
	model := FromDomainClaimIntent(intent)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "assignment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"correlation_id", "amount", "status", "attempts", "last_error", "updated_at",
		}),
	}).Create(model).Error
	return errors.Wrap(err, "save claim intent")
}

func (r *GormClaimIntentRepository) Transition(ctx context.Context, assignmentID, correlationID uuid.UUID, from, to domain.ClaimIntentStatus, lastError string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&ClaimIntentModel{}).
		Where("assignment_id = ? AND correlation_id = ? AND status = ?", assignmentID, correlationID, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"last_error": truncate(lastError, 512),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "transition claim intent")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormClaimIntentRepository) ListStale(ctx context.Context, status domain.ClaimIntentStatus, before time.Time, limit int) ([]*domain.ClaimIntent, error) {
	var models []ClaimIntentModel
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(status), before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list stale claim intents")
	}
	out := make([]*domain.ClaimIntent, 0, len(models))
	for i := range models {
		out = append(out, ToDomainClaimIntent(&models[i]))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
