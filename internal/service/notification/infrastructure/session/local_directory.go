// Package session 提供玩家在线会话的注册表，单机版和基于 Redis 的集群版。
package session

import (
	"context"
	"hash/fnv"
	"sync"

	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
	"promohub/internal/service/notification/domain"
)

const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[string]map[string]domain.Session // playerID -> sessionID -> session
}

// LocalDirectory 是进程内的会话表，按玩家分片加锁，不同玩家之间互不阻塞。
type LocalDirectory struct {
	shards [shardCount]*shard
}

func NewLocalDirectory() *LocalDirectory {
	d := &LocalDirectory{}
	for i := range d.shards {
		d.shards[i] = &shard{sessions: make(map[string]map[string]domain.Session)}
	}
	return d
}

func (d *LocalDirectory) shardFor(playerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return d.shards[h.Sum32()%shardCount]
}

func (d *LocalDirectory) Register(_ context.Context, playerID string, s domain.Session) error {
	sh := d.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sessions[playerID]
	if !ok {
		set = make(map[string]domain.Session)
		sh.sessions[playerID] = set
	}
	if _, dup := set[s.ID()]; !dup {
		set[s.ID()] = s
		metrics.LiveSessions.Inc()
	}
	return nil
}

func (d *LocalDirectory) Unregister(_ context.Context, playerID string, s domain.Session) error {
	d.remove(playerID, s.ID())
	return nil
}

// remove 删除会话；集合为空时删除玩家条目。返回是否真的删除了。
func (d *LocalDirectory) remove(playerID, sessionID string) bool {
	sh := d.shardFor(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sessions[playerID]
	if !ok {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	delete(set, sessionID)
	metrics.LiveSessions.Dec()
	if len(set) == 0 {
		delete(sh.sessions, playerID)
	}
	return true
}

// Count 返回玩家在本节点的会话数
func (d *LocalDirectory) Count(playerID string) int {
	sh := d.shardFor(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions[playerID])
}

func (d *LocalDirectory) Online(_ context.Context, playerID string) (bool, error) {
	return d.Count(playerID) > 0, nil
}

// Players 返回本节点有会话的玩家
func (d *LocalDirectory) Players() []string {
	var out []string
	for _, sh := range d.shards {
		sh.mu.RLock()
		for p := range sh.sessions {
			out = append(out, p)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (d *LocalDirectory) snapshot(playerID string) []domain.Session {
	sh := d.shardFor(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set := sh.sessions[playerID]
	out := make([]domain.Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Push 在锁外逐个发送，失败的会话被剔除并关闭
func (d *LocalDirectory) Push(ctx context.Context, playerID string, payload []byte) (int, error) {
	delivered := 0
	for _, s := range d.snapshot(playerID) {
		if err := s.Send(payload); err != nil {
			metrics.PushFailuresTotal.Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Str("player_id", playerID).
				Str("session_id", s.ID()).
				Msg("push failed, evicting session")
			if d.remove(playerID, s.ID()) {
				_ = s.Close()
			}
			continue
		}
		delivered++
	}
	return delivered, nil
}
