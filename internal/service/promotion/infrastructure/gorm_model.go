// internal/service/promotion/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PromotionModel 对应数据库中的 promotions 表
type PromotionModel struct {
	ID          uuid.UUID       `gorm:"type:char(36);primaryKey"`
	Title       string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text"`
	IsActive    bool            `gorm:"column:is_active;not null;default:true;index:idx_promotions_type_window,priority:2"`
	Type        string          `gorm:"column:promotion_type;type:varchar(32);not null;default:BONUS;index:idx_promotions_type_window,priority:1"`
	Amount      decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	StartDate   time.Time       `gorm:"column:start_date;type:date;not null;index:idx_promotions_type_window,priority:3"`
	EndDate     time.Time       `gorm:"column:end_date;type:date;not null"`
	CreatedAt   time.Time       `gorm:"type:datetime(6);index"`
	UpdatedAt   time.Time       `gorm:"type:datetime(6)"`
}

// TableName 指定 GORM 应该使用的表名
func (PromotionModel) TableName() string {
	return "promotions"
}

// PlayerPromotionModel 对应数据库中的 player_promotions 表，(player_id, promotion_id) 唯一
type PlayerPromotionModel struct {
	ID          uuid.UUID       `gorm:"type:char(36);primaryKey"`
	PlayerID    uuid.UUID       `gorm:"type:char(36);not null;uniqueIndex:uk_player_promotion,priority:1"`
	PromotionID uuid.UUID       `gorm:"type:char(36);not null;uniqueIndex:uk_player_promotion,priority:2;index"`
	Claimed     bool            `gorm:"not null;default:false"`
	CreatedAt   time.Time       `gorm:"type:datetime(6)"`
	UpdatedAt   time.Time       `gorm:"type:datetime(6)"`
	Promotion   *PromotionModel `gorm:"foreignKey:PromotionID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (PlayerPromotionModel) TableName() string {
	return "player_promotions"
}

// PromotionTypeGuardModel 每个唯一类型一行，创建活动时 FOR UPDATE 锁定以串行化重叠检查
type PromotionTypeGuardModel struct {
	PromotionType string `gorm:"type:varchar(32);primaryKey"`
}

func (PromotionTypeGuardModel) TableName() string {
	return "promotion_type_guards"
}

// ClaimIntentModel 对应 claim_intents 表，每个分配一行
type ClaimIntentModel struct {
	AssignmentID  uuid.UUID       `gorm:"type:char(36);primaryKey"`
	CorrelationID uuid.UUID       `gorm:"type:char(36);not null"`
	PlayerID      uuid.UUID       `gorm:"type:char(36);not null"`
	PromotionID   uuid.UUID       `gorm:"type:char(36);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Status        string          `gorm:"type:varchar(16);not null;index:idx_claim_intents_status,priority:1"`
	Attempts      int             `gorm:"not null;default:0"`
	LastError     string          `gorm:"type:varchar(512)"`
	CreatedAt     time.Time       `gorm:"type:datetime(6)"`
	UpdatedAt     time.Time       `gorm:"type:datetime(6);index:idx_claim_intents_status,priority:2"`
}

func (ClaimIntentModel) TableName() string {
	return "claim_intents"
}

// Models 返回需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{&PromotionModel{}, &PlayerPromotionModel{}, &PromotionTypeGuardModel{}, &ClaimIntentModel{}}
}
