package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository 持久化玩家通知文档
type Repository interface {
	// Append 追加一条通知，文档不存在时一并创建。
	// 同一玩家的 EventID 已存在时不写入并返回 false。
	Append(ctx context.Context, entry *Entry) (bool, error)

	// Unread 按到达顺序返回玩家的未读条目
	Unread(ctx context.Context, playerID string) ([]*Entry, error)

	// MarkRead 在一次批量更新中把指定条目标记为已读，返回实际更新的条数
	MarkRead(ctx context.Context, playerID string, ids []uuid.UUID) (int64, error)

	// Document 返回玩家的通知文档，不存在时返回 ErrDocumentNotFound
	Document(ctx context.Context, playerID string) (*Document, error)
}
