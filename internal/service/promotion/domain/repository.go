// internal/service/promotion/domain/repository.go
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PromotionFilter 中为 nil 的字段不参与过滤。
type PromotionFilter struct {
	PromotionID *uuid.UUID
	IsActive    *bool
	StartFrom   *time.Time // start_date >= StartFrom
	EndUntil    *time.Time // end_date <= EndUntil
	Type        *PromotionType
}

// Page 从 1 开始计页。
type Page struct {
	Page  int
	Limit int
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

// PromotionRepository 定义了活动数据的持久化接口
type PromotionRepository interface {
	// Create 对唯一类型在存储层串行化"重叠检查 + 插入"，冲突时返回 ErrPromotionConflict
	Create(ctx context.Context, p *Promotion) error
	FindByID(ctx context.Context, id uuid.UUID) (*Promotion, error)
	// FindActive 返回 at 当天有效的激活活动，没有时返回 ErrPromotionNotFound
	FindActive(ctx context.Context, t PromotionType, at time.Time) (*Promotion, error)
	// Query 按创建顺序分页，total 为忽略分页后的总数
	Query(ctx context.Context, f PromotionFilter, page Page) ([]*Promotion, int64, error)
	QueryForPlayer(ctx context.Context, playerID uuid.UUID, f PromotionFilter, page Page) ([]*PlayerPromotionView, int64, error)
}

// AssignmentRepository 定义了玩家分配关系的持久化接口
type AssignmentRepository interface {
	Find(ctx context.Context, playerID, promotionID uuid.UUID) (*PlayerPromotion, error)
	ExistingAssignees(ctx context.Context, promotionID uuid.UUID, playerIDs []uuid.UUID) ([]uuid.UUID, error)
	// InsertBatch 一次批量写入，已存在的 (player, promotion) 被跳过；返回本次真正插入的行
	InsertBatch(ctx context.Context, rows []*PlayerPromotion) ([]*PlayerPromotion, error)
}

// AssignmentTx 是领取事务内可用的操作，锁一直持有到事务结束。
type AssignmentTx interface {
	LockAssignment(ctx context.Context, playerID, promotionID uuid.UUID) (*PlayerPromotion, error)
	LockAssignmentByID(ctx context.Context, id uuid.UUID) (*PlayerPromotion, error)
	Save(ctx context.Context, pp *PlayerPromotion) error
}

// UnitOfWork 在一个事务中执行 fn：fn 返回 nil 时提交，否则回滚。
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, tx AssignmentTx) error) error
}

// ClaimIntentRepository 的写入不参与领取事务，调用返回即已持久化。
type ClaimIntentRepository interface {
	FindByAssignment(ctx context.Context, assignmentID uuid.UUID) (*ClaimIntent, error)
	// Save 以 AssignmentID 为键插入或覆盖
	Save(ctx context.Context, intent *ClaimIntent) error
	// Transition 仅当当前 CorrelationID 与状态匹配时更新状态，返回是否更新
	Transition(ctx context.Context, assignmentID, correlationID uuid.UUID, from, to ClaimIntentStatus, lastError string) (bool, error)
	ListStale(ctx context.Context, status ClaimIntentStatus, before time.Time, limit int) ([]*ClaimIntent, error)
}
