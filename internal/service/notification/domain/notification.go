// Package domain 定义玩家通知文档及其投递状态。
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EntryType 是通知条目的分类
type EntryType string

const (
	EntryPromotion EntryType = "PROMOTION"
	EntryOther     EntryType = "OTHER"
)

// notification 主题上的事件类型
const (
	EventTypePromotions = "PROMOTIONS"
	EventTypeAlert      = "ALERT"
)

// TypeForEvent 把总线上的事件类型映射为条目类型
func TypeForEvent(eventType string) EntryType {
	if eventType == EventTypePromotions {
		return EntryPromotion
	}
	return EntryOther
}

var (
	ErrDocumentNotFound = errors.New("notification document not found")
	ErrInvalidEvent     = errors.New("invalid notification event")
)

// Event 是 notification 主题的消息体。content 原样保存并推送。
type Event struct {
	EventID   string          `json:"event_id"`
	UserID    string          `json:"user_id"`
	Content   json.RawMessage `json:"content"`
	EventType string          `json:"event_type"`
}

// Validate 检查消费到的事件是否可以落库
func (e Event) Validate() error {
	if e.UserID == "" {
		return errors.Wrap(ErrInvalidEvent, "missing user_id")
	}
	if len(e.Content) == 0 || !json.Valid(e.Content) {
		return errors.Wrap(ErrInvalidEvent, "content must be a JSON value")
	}
	return nil
}

// Entry 是文档中的一条通知。Read 只会从 false 变为 true。
type Entry struct {
	ID        uuid.UUID
	PlayerID  string
	EventID   string
	Type      EntryType
	Content   json.RawMessage
	Read      bool
	CreatedAt time.Time
}

// NewEntry 根据事件创建条目，delivered 表示事件到达时玩家是否在线
func NewEntry(e Event, eventID string, delivered bool, now time.Time) *Entry {
	return &Entry{
		ID:        uuid.New(),
		PlayerID:  e.UserID,
		EventID:   eventID,
		Type:      TypeForEvent(e.EventType),
		Content:   e.Content,
		Read:      delivered,
		CreatedAt: now,
	}
}

// Document 是某个玩家的全部通知，按到达顺序排列
type Document struct {
	PlayerID  string
	Entries   []*Entry
	CreatedAt time.Time
}

// Unread 返回未读条目数
func (d *Document) Unread() int {
	n := 0
	for _, e := range d.Entries {
		if !e.Read {
			n++
		}
	}
	return n
}
