package clock

import (
	"sync"
	"time"
)

// Clock 抽象了当前时间，便于在测试中固定"现在"。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// NewRealClock 返回基于系统时间的 Clock。
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

// MockClock 是一个可手动拨动的时钟。
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
