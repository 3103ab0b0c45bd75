package infrastructure

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"promohub/internal/service/promotion/domain"
)

const insertBatchSize = 500

// GormAssignmentRepository 同时实现 AssignmentRepository 和 UnitOfWork
type GormAssignmentRepository struct {
	db *gorm.DB
}

func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: db}
}

func (r *GormAssignmentRepository) Find(ctx context.Context, playerID, promotionID uuid.UUID) (*domain.PlayerPromotion, error) {
	var model PlayerPromotionModel
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND promotion_id = ?", playerID, promotionID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAssignmentNotFound
		}
		return nil, errors.Wrap(err, "find assignment")
	}
	return ToDomainPlayerPromotion(&model), nil
}

func (r *GormAssignmentRepository) ExistingAssignees(ctx context.Context, promotionID uuid.UUID, playerIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(playerIDs) == 0 {
		return nil, nil
	}
	var raw []string
	err := r.db.WithContext(ctx).Model(&PlayerPromotionModel{}).
		Where("promotion_id = ? AND player_id IN ?", promotionID, playerIDs).
		Pluck("player_id", &raw).Error
	if err != nil {
		return nil, errors.Wrap(err, "query existing assignees")
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt player_id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}

// InsertBatch 使用 INSERT ... ON DUPLICATE KEY UPDATE id=id 跳过已存在的分配，
// 再按本次生成的主键回查，得到真正写入的行。
func (r *GormAssignmentRepository) InsertBatch(ctx context.Context, rows []*domain.PlayerPromotion) ([]*domain.PlayerPromotion, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	models := make([]*PlayerPromotionModel, 0, len(rows))
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		models = append(models, FromDomainPlayerPromotion(row))
		ids = append(ids, row.ID)
	}

	var inserted []PlayerPromotionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Omit(clause.Associations).
			CreateInBatches(models, insertBatchSize).Error
		if err != nil {
			if classify(err) == errMissingRef {
				return domain.ErrPromotionNotFound
			}
			return errors.Wrap(err, "insert assignments")
		}
		return tx.Where("id IN ?", ids).Order("created_at ASC").Find(&inserted).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.PlayerPromotion, 0, len(inserted))
	for i := range inserted {
		out = append(out, ToDomainPlayerPromotion(&inserted[i]))
	}
	return out, nil
}

// Within 在数据库事务中执行 fn，fn 内的 Lock* 使用 SELECT ... FOR UPDATE
func (r *GormAssignmentRepository) Within(ctx context.Context, fn func(ctx context.Context, tx domain.AssignmentTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormAssignmentTx{db: tx})
	})
}

type gormAssignmentTx struct {
	db *gorm.DB
}

func (t *gormAssignmentTx) lockWhere(ctx context.Context, query string, args ...interface{}) (*domain.PlayerPromotion, error) {
	var model PlayerPromotionModel
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, args...).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAssignmentNotFound
		}
		return nil, errors.Wrap(err, "lock assignment")
	}
	return ToDomainPlayerPromotion(&model), nil
}

func (t *gormAssignmentTx) LockAssignment(ctx context.Context, playerID, promotionID uuid.UUID) (*domain.PlayerPromotion, error) {
	return t.lockWhere(ctx, "player_id = ? AND promotion_id = ?", playerID, promotionID)
}

func (t *gormAssignmentTx) LockAssignmentByID(ctx context.Context, id uuid.UUID) (*domain.PlayerPromotion, error) {
	return t.lockWhere(ctx, "id = ?", id)
}

// Save 只更新领取状态相关字段
func (t *gormAssignmentTx) Save(ctx context.Context, pp *domain.PlayerPromotion) error {
	res := t.db.WithContext(ctx).Model(&PlayerPromotionModel{}).
		Where("id = ?", pp.ID).
		Updates(map[string]interface{}{
			"claimed":    pp.Claimed,
			"updated_at": pp.UpdatedAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "save assignment")
	}
	if res.RowsAffected == 0 {
		return domain.ErrAssignmentNotFound
	}
	return nil
}
