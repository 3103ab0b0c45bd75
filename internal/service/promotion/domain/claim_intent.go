// internal/service/promotion/domain/claim_intent.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimIntentStatus 描述一次领取在账本调用前后的状态。
type ClaimIntentStatus string

const (
	IntentPending    ClaimIntentStatus = "PENDING"    // 已准备调用账本，结果未知
	IntentCommitted  ClaimIntentStatus = "COMMITTED"  // 账本成功且本地已提交
	IntentFailed     ClaimIntentStatus = "FAILED"     // 账本失败，本地已回滚，可重试
	IntentUnresolved ClaimIntentStatus = "UNRESOLVED" // 进程在调用期间崩溃，需人工对账
)

// ClaimIntent 在调用账本之前落库，独立于领取事务提交。
// 每个分配最多一条记录（以 AssignmentID 为主键），每次尝试生成新的 CorrelationID。
type ClaimIntent struct {
	AssignmentID  uuid.UUID
	CorrelationID uuid.UUID
	PlayerID      uuid.UUID
	PromotionID   uuid.UUID
	Amount        decimal.Decimal
	Status        ClaimIntentStatus
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Blocking 为 true 时不允许发起新的领取。
func (ci *ClaimIntent) Blocking() bool {
	return ci.Status == IntentPending || ci.Status == IntentUnresolved
}
