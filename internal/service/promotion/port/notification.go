// internal/service/promotion/port/notification.go
package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"promohub/internal/service/promotion/domain"
)

// NotificationProducer 是通知事件的出站端口。
type NotificationProducer interface {
	// SendPromotionAssigned 通知玩家获得了一个活动。
	SendPromotionAssigned(ctx context.Context, playerID uuid.UUID, promotion *domain.Promotion) error

	// SendPromotionClaimed 通知玩家领取成功以及最新余额。
	SendPromotionClaimed(ctx context.Context, playerID uuid.UUID, promotion *domain.Promotion, balance decimal.Decimal) error
}
