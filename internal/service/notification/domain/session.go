package domain

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Session 是一个玩家的在线连接。Send 不阻塞。
type Session interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// SessionDirectory 记录玩家的在线会话并负责推送。
// 推送失败的会话会被剔除，不影响同一玩家的其他会话。
type SessionDirectory interface {
	Register(ctx context.Context, playerID string, s Session) error
	Unregister(ctx context.Context, playerID string, s Session) error

	// Online 判断玩家当前是否至少有一个会话
	Online(ctx context.Context, playerID string) (bool, error)

	// Push 把 payload 推送到玩家的所有会话，返回成功送达的会话（或节点）数
	Push(ctx context.Context, playerID string, payload []byte) (int, error)
}
