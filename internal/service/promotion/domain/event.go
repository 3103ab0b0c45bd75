// internal/service/promotion/domain/event.go
package domain

// PlayerEventRegistered 是用户服务在 player 主题上发布的注册事件类型。
const PlayerEventRegistered = "PLAYER_REGISTERED"

// PlayerEvent 是 player 主题的消息体
type PlayerEvent struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
}

// NotificationKind 区分通知内容，落在通知事件的 content.kind 中。
type NotificationKind string

const (
	NotificationAssigned NotificationKind = "PROMOTION_ASSIGNED"
	NotificationClaimed  NotificationKind = "PROMOTION_CLAIMED"
)

// NotificationEventType 是 notification 主题上的事件类型
const (
	EventTypePromotions = "PROMOTIONS"
	EventTypeAlert      = "ALERT"
)
