// Package interfaces 是通知服务的驱动适配器：Kafka 消费、WebSocket 网关和 HTTP 查询。
package interfaces

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"promohub/internal/pkg/mq"
	"promohub/internal/service/notification/application"
	"promohub/internal/service/notification/domain"
)

// EventHandler 消费 notification 主题
type EventHandler struct {
	delivery *application.DeliveryService
}

func NewEventHandler(delivery *application.DeliveryService) *EventHandler {
	return &EventHandler{delivery: delivery}
}

// Handle 满足 mq.Handler。格式错误的消息标记为 Permanent 直接进入死信队列。
func (h *EventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return mq.Permanent(errors.Wrap(err, "decode notification event"))
	}
	// 上游没有 event_id 时用消息位置去重
	fallback := fmt.Sprintf("kafka:%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
	err := h.delivery.HandleEvent(ctx, event, fallback)
	if errors.Is(err, domain.ErrInvalidEvent) {
		return mq.Permanent(err)
	}
	return err
}
