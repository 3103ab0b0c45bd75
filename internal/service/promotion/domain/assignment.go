// internal/service/promotion/domain/assignment.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PlayerPromotion 是玩家与活动的分配关系。
// 状态机：未分配 -> 已分配(Claimed=false) -> 已领取(Claimed=true)，不可回退。
type PlayerPromotion struct {
	ID          uuid.UUID
	PlayerID    uuid.UUID
	PromotionID uuid.UUID
	Claimed     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewPlayerPromotion(playerID, promotionID uuid.UUID, now time.Time) *PlayerPromotion {
	return &PlayerPromotion{
		ID:          uuid.New(),
		PlayerID:    playerID,
		PromotionID: promotionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Claim 把分配标记为已领取，只能发生一次。
func (pp *PlayerPromotion) Claim(now time.Time) error {
	if pp.Claimed {
		return ErrAlreadyClaimed
	}
	pp.Claimed = true
	pp.UpdatedAt = now
	return nil
}

// PlayerPromotionView 是玩家视角的活动，附带该玩家自己的领取状态。
type PlayerPromotionView struct {
	Promotion
	Claimed bool
}
