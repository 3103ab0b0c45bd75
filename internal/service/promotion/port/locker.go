package port

import "context"

// Locker 保证多实例部署时只有一个实例执行对账清扫。
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// NoopLocker 用于单实例部署。
type NoopLocker struct{}

func (NoopLocker) Lock(context.Context) error { return nil }
func (NoopLocker) Unlock() error              { return nil }
