package infrastructure

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"promohub/internal/service/notification/domain"
)

// NotificationDocumentModel 对应 notification_documents 表，每个玩家一行
type NotificationDocumentModel struct {
	PlayerID  string    `gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `gorm:"type:datetime(6)"`
}

func (NotificationDocumentModel) TableName() string {
	return "notification_documents"
}

// NotificationEntryModel 对应 notification_entries 表。
// Seq 决定文档内的顺序，(player_id, event_id) 唯一用于消息去重。
type NotificationEntryModel struct {
	Seq       uint64         `gorm:"primaryKey;autoIncrement"`
	ID        uuid.UUID      `gorm:"type:char(36);not null;uniqueIndex"`
	PlayerID  string         `gorm:"type:varchar(64);not null;uniqueIndex:uk_player_event,priority:1;index:idx_entries_unread,priority:1"`
	EventID   string         `gorm:"type:varchar(191);not null;uniqueIndex:uk_player_event,priority:2"`
	Type      string         `gorm:"column:entry_type;type:varchar(16);not null"`
	Content   datatypes.JSON `gorm:"type:json;not null"`
	Read      bool           `gorm:"column:is_read;not null;default:false;index:idx_entries_unread,priority:2"`
	CreatedAt time.Time      `gorm:"type:datetime(6)"`
}

func (NotificationEntryModel) TableName() string {
	return "notification_entries"
}

// Models 返回需要迁移的表
func Models() []interface{} {
	return []interface{}{&NotificationDocumentModel{}, &NotificationEntryModel{}}
}

func toDomainEntry(m *NotificationEntryModel) *domain.Entry {
	return &domain.Entry{
		ID:        m.ID,
		PlayerID:  m.PlayerID,
		EventID:   m.EventID,
		Type:      domain.EntryType(m.Type),
		Content:   []byte(m.Content),
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func fromDomainEntry(e *domain.Entry) *NotificationEntryModel {
	return &NotificationEntryModel{
		ID:        e.ID,
		PlayerID:  e.PlayerID,
		EventID:   e.EventID,
		Type:      string(e.Type),
		Content:   datatypes.JSON(e.Content),
		Read:      e.Read,
		CreatedAt: e.CreatedAt,
	}
}
