package interfaces

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/mq"
	"promohub/internal/service/promotion/application"
	"promohub/internal/service/promotion/domain"
)

// PlayerEventHandler 消费 player 主题，为新注册的玩家分配欢迎奖励
type PlayerEventHandler struct {
	assignments *application.AssignmentService
}

func NewPlayerEventHandler(assignments *application.AssignmentService) *PlayerEventHandler {
	return &PlayerEventHandler{assignments: assignments}
}

// Handle 满足 mq.Handler。消息体无法解析时返回 Permanent，直接进入死信队列。
func (h *PlayerEventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var event domain.PlayerEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return mq.Permanent(errors.Wrap(err, "decode player event"))
	}
	if event.EventType != domain.PlayerEventRegistered {
		logger.Ctx(ctx).Debug().Str("event_type", event.EventType).Msg("ignoring player event")
		return nil
	}
	playerID, err := uuid.Parse(event.UserID)
	if err != nil {
		return mq.Permanent(errors.Wrapf(err, "invalid user_id %q", event.UserID))
	}
	return h.assignments.AssignRegisteredPromotion(ctx, playerID)
}
