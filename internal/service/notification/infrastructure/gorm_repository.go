package infrastructure

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"promohub/internal/service/notification/domain"
)

// GormNotificationRepository 是 domain.Repository 的 MySQL 实现
type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) Append(ctx context.Context, entry *domain.Entry) (bool, error) {
	var created bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 文档不存在时创建
		doc := NotificationDocumentModel{PlayerID: entry.PlayerID, CreatedAt: entry.CreatedAt}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&doc).Error; err != nil {
			return errors.Wrap(err, "ensure notification document")
		}

		// 2. (player_id, event_id) 冲突说明是重复投递
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(fromDomainEntry(entry))
		if res.Error != nil {
			return errors.Wrap(res.Error, "append notification entry")
		}
		created = res.RowsAffected == 1
		return nil
	})
	return created, err
}

func (r *GormNotificationRepository) Unread(ctx context.Context, playerID string) ([]*domain.Entry, error) {
	var models []NotificationEntryModel
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND is_read = ?", playerID, false).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list unread notifications")
	}
	return toDomainEntries(models), nil
}

func (r *GormNotificationRepository) MarkRead(ctx context.Context, playerID string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&NotificationEntryModel{}).
		Where("player_id = ? AND id IN ? AND is_read = ?", playerID, ids, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "mark notifications read")
	}
	return res.RowsAffected, nil
}

func (r *GormNotificationRepository) Document(ctx context.Context, playerID string) (*domain.Document, error) {
	var doc NotificationDocumentModel
	if err := r.db.WithContext(ctx).Where("player_id = ?", playerID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, errors.Wrap(err, "find notification document")
	}
	var models []NotificationEntryModel
	if err := r.db.WithContext(ctx).Where("player_id = ?", playerID).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	return &domain.Document{PlayerID: doc.PlayerID, CreatedAt: doc.CreatedAt, Entries: toDomainEntries(models)}, nil
}

func toDomainEntries(models []NotificationEntryModel) []*domain.Entry {
	out := make([]*domain.Entry, 0, len(models))
	for i := range models {
		out = append(out, toDomainEntry(&models[i]))
	}
	return out
}
