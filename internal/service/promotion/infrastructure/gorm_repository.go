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

// GormPromotionRepository 是 PromotionRepository 的 GORM 实现
type GormPromotionRepository struct {
	db *gorm.DB
}

// NewGormPromotionRepository 创建一个新的 GORM 仓储实例
func NewGormPromotionRepository(db *gorm.DB) *GormPromotionRepository {
	return &GormPromotionRepository{db: db}
}

// Create 在事务中完成"锁定类型守护行 -> 检查重叠 -> 插入"。
// 同一唯一类型的并发创建会在守护行上排队，因此两个重叠窗口不可能同时提交。
func (r *GormPromotionRepository) Create(ctx context.Context, p *domain.Promotion) error {
	model := FromDomainPromotion(p)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.Type.IsUnique() && p.IsActive {
			// 1. 守护行不存在时创建，然后 FOR UPDATE 锁定
			guard := PromotionTypeGuardModel{PromotionType: string(p.Type)}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&guard).Error; err != nil {
				return errors.Wrap(err, "ensure type guard")
			}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("promotion_type = ?", guard.PromotionType).First(&guard).Error; err != nil {
				return errors.Wrap(err, "lock type guard")
			}

			// 2. 闭区间重叠：existing.start <= new.end && new.start <= existing.end
			var overlapping int64
			err := tx.Model(&PromotionModel{}).
				Where("promotion_type = ? AND is_active = ?", p.Type, true).
				Where("start_date <= ? AND end_date >= ?", p.EndDate, p.StartDate).
				Count(&overlapping).Error
			if err != nil {
				return errors.Wrap(err, "check overlap")
			}
			if overlapping > 0 {
				return domain.ErrPromotionConflict
			}
		}

		// 3. 插入
		if err := tx.Create(model).Error; err != nil {
			if classify(err) == errDuplicateKey {
				return domain.ErrPromotionConflict
			}
			return errors.Wrap(err, "insert promotion")
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.CreatedAt = model.CreatedAt
	p.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormPromotionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	var model PromotionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromotionNotFound
		}
		return nil, errors.Wrap(err, "find promotion")
	}
	return ToDomainPromotion(&model), nil
}

func (r *GormPromotionRepository) FindActive(ctx context.Context, t domain.PromotionType, at time.Time) (*domain.Promotion, error) {
	day := domain.DateOf(at)
	var model PromotionModel
	err := r.db.WithContext(ctx).
		Where("promotion_type = ? AND is_active = ?", t, true).
		Where("start_date <= ? AND end_date >= ?", day, day).
		Order("created_at ASC, id ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPromotionNotFound
		}
		return nil, errors.Wrap(err, "find active promotion")
	}
	return ToDomainPromotion(&model), nil
}

// applyFilter 以 table 为前缀拼接过滤条件，联表查询时避免列名歧义
func applyFilter(q *gorm.DB, table string, f domain.PromotionFilter) *gorm.DB {
	col := func(name string) string { return table + "." + name }
	if f.PromotionID != nil {
		q = q.Where(col("id")+" = ?", *f.PromotionID)
	}
	if f.IsActive != nil {
		q = q.Where(col("is_active")+" = ?", *f.IsActive)
	}
	if f.StartFrom != nil {
		q = q.Where(col("start_date")+" >= ?", domain.DateOf(*f.StartFrom))
	}
	if f.EndUntil != nil {
		q = q.Where(col("end_date")+" <= ?", domain.DateOf(*f.EndUntil))
	}
	if f.Type != nil {
		q = q.Where(col("promotion_type")+" = ?", string(*f.Type))
	}
	return q
}

func (r *GormPromotionRepository) Query(ctx context.Context, f domain.PromotionFilter, page domain.Page) ([]*domain.Promotion, int64, error) {
	db := r.db.WithContext(ctx)

	var total int64
	if err := applyFilter(db.Model(&PromotionModel{}), "promotions", f).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count promotions")
	}

	var models []PromotionModel
	err := applyFilter(db.Model(&PromotionModel{}), "promotions", f).
		Order("promotions.created_at ASC, promotions.id ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "query promotions")
	}

	out := make([]*domain.Promotion, 0, len(models))
	for i := range models {
		out = append(out, ToDomainPromotion(&models[i]))
	}
	return out, total, nil
}

type playerPromotionRow struct {
	PromotionModel
	Claimed bool
}

func (r *GormPromotionRepository) QueryForPlayer(ctx context.Context, playerID uuid.UUID, f domain.PromotionFilter, page domain.Page) ([]*domain.PlayerPromotionView, int64, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Table("promotions").
			Joins("JOIN player_promotions ON player_promotions.promotion_id = promotions.id AND player_promotions.player_id = ?", playerID)
		return applyFilter(q, "promotions", f)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count player promotions")
	}

	var rows []playerPromotionRow
	err := base().
		Select("promotions.*, player_promotions.claimed").
		Order("promotions.created_at ASC, promotions.id ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "query player promotions")
	}

	out := make([]*domain.PlayerPromotionView, 0, len(rows))
	for i := range rows {
		out = append(out, &domain.PlayerPromotionView{
			Promotion: *ToDomainPromotion(&rows[i].PromotionModel),
			Claimed:   rows[i].Claimed,
		})
	}
	return out, total, nil
}
