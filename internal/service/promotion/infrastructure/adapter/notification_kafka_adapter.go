package adapter

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"promohub/internal/pkg/mq"
	"promohub/internal/service/promotion/application"
	"promohub/internal/service/promotion/domain"
)

// notificationEvent 是 notification 主题的消息体，由通知服务消费
type notificationEvent struct {
	EventID   string              `json:"event_id"`
	UserID    string              `json:"user_id"`
	Content   notificationContent `json:"content"`
	EventType string              `json:"event_type"`
}

type notificationContent struct {
	Kind      domain.NotificationKind       `json:"kind"`
	Promotion application.PromotionResponse `json:"promotion"`
	Balance   *string                       `json:"balance,omitempty"`
}

// NotificationKafkaAdapter 实现了 port.NotificationProducer 接口。
type NotificationKafkaAdapter struct {
	writer mq.Writer
}

// NewNotificationKafkaAdapter 创建一个新的通知生产者适配器。
func NewNotificationKafkaAdapter(writer mq.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// SendPromotionAssigned 通知玩家获得了一个活动。
func (a *NotificationKafkaAdapter) SendPromotionAssigned(ctx context.Context, playerID uuid.UUID, promotion *domain.Promotion) error {
	return a.send(ctx, playerID, notificationContent{
		Kind:      domain.NotificationAssigned,
		Promotion: application.NewPromotionResponse(promotion),
	})
}

// SendPromotionClaimed 通知玩家领取成功，并附带最新余额。
func (a *NotificationKafkaAdapter) SendPromotionClaimed(ctx context.Context, playerID uuid.UUID, promotion *domain.Promotion, balance decimal.Decimal) error {
	b := balance.StringFixed(2)
	return a.send(ctx, playerID, notificationContent{
		Kind:      domain.NotificationClaimed,
		Promotion: application.NewPromotionResponse(promotion),
		Balance:   &b,
	})
}

func (a *NotificationKafkaAdapter) send(ctx context.Context, playerID uuid.UUID, content notificationContent) error {
	event := notificationEvent{
		EventID:   uuid.NewString(),
		UserID:    playerID.String(),
		Content:   content,
		EventType: domain.EventTypePromotions,
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification event")
	}

	// 按玩家分区，同一玩家的通知保持顺序
	if err := mq.ProduceMessage(ctx, a.writer, []byte(event.UserID), eventBytes); err != nil {
		return errors.Wrap(err, "failed to publish notification event")
	}
	return nil
}

// Close 关闭底层的Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
