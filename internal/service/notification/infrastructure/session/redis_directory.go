package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"promohub/internal/pkg/logger"
	"promohub/internal/service/notification/domain"
)

func presenceKey(playerID string) string { return fmt.Sprintf("presence:{%s}", playerID) }

func nodeChannel(nodeID string) string { return "push:node:" + nodeID }

// relayMessage 是节点间转发的推送
type relayMessage struct {
	PlayerID string          `json:"player_id"`
	Payload  json.RawMessage `json:"payload"`
}

// ClusterDirectory 在本地会话表之上维护 Redis 在线集合 presence:{player}（成员为节点 ID），
// 并通过 push:node:{id} 频道把推送转发给持有会话的节点。
type ClusterDirectory struct {
	local  *LocalDirectory
	rdb    goredis.UniversalClient
	nodeID string
	ttl    time.Duration
}

func NewClusterDirectory(local *LocalDirectory, rdb goredis.UniversalClient, nodeID string, ttl time.Duration) *ClusterDirectory {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ClusterDirectory{local: local, rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func (d *ClusterDirectory) Register(ctx context.Context, playerID string, s domain.Session) error {
	if err := d.local.Register(ctx, playerID, s); err != nil {
		return err
	}
	if err := d.announce(ctx, playerID); err != nil {
		// 本地会话仍可用，只是其他节点暂时看不到
		logger.Ctx(ctx).Error().Err(err).Str("player_id", playerID).Msg("failed to publish presence")
	}
	return nil
}

func (d *ClusterDirectory) announce(ctx context.Context, playerID string) error {
	key := presenceKey(playerID)
	pipe := d.rdb.TxPipeline()
	pipe.SAdd(ctx, key, d.nodeID)
	pipe.Expire(ctx, key, d.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "announce presence")
}

func (d *ClusterDirectory) Unregister(ctx context.Context, playerID string, s domain.Session) error {
	if err := d.local.Unregister(ctx, playerID, s); err != nil {
		return err
	}
	if d.local.Count(playerID) > 0 {
		return nil
	}
	if err := d.rdb.SRem(ctx, presenceKey(playerID), d.nodeID).Err(); err != nil {
		return errors.Wrap(err, "remove presence")
	}
	// Count 与 SRem 之间可能有新会话注册，其在线记录刚被删掉，需要重新声明
	if d.local.Count(playerID) > 0 {
		return d.announce(ctx, playerID)
	}
	return nil
}

func (d *ClusterDirectory) Online(ctx context.Context, playerID string) (bool, error) {
	if d.local.Count(playerID) > 0 {
		return true, nil
	}
	n, err := d.rdb.SCard(ctx, presenceKey(playerID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "read presence")
	}
	return n > 0, nil
}

// Push 先推送本地会话，再转发给其他持有会话的节点。
// 频道没有订阅者说明节点已下线，其在线记录被剔除。
func (d *ClusterDirectory) Push(ctx context.Context, playerID string, payload []byte) (int, error) {
	delivered, _ := d.local.Push(ctx, playerID, payload)

	key := presenceKey(playerID)
	nodes, err := d.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return delivered, errors.Wrap(err, "read presence")
	}
	msg, err := json.Marshal(relayMessage{PlayerID: playerID, Payload: payload})
	if err != nil {
		return delivered, errors.Wrap(err, "encode relay message")
	}
	for _, node := range nodes {
		if node == d.nodeID {
			continue
		}
		receivers, err := d.rdb.Publish(ctx, nodeChannel(node), msg).Result()
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("node", node).Msg("failed to relay push")
			continue
		}
		if receivers == 0 {
			logger.Ctx(ctx).Warn().Str("node", node).Str("player_id", playerID).Msg("evicting stale presence")
			_ = d.rdb.SRem(ctx, key, node).Err()
			continue
		}
		delivered++
	}
	return delivered, nil
}

// Run 订阅本节点的转发频道，并定期刷新本节点玩家的在线记录，直到 ctx 取消
func (d *ClusterDirectory) Run(ctx context.Context) error {
	sub := d.rdb.Subscribe(ctx, nodeChannel(d.nodeID))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "subscribe relay channel")
	}
	log := logger.L().With().Str("node", d.nodeID).Logger()
	log.Info().Msg("push relay subscribed")

	refresh := time.NewTicker(d.ttl / 2)
	defer refresh.Stop()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			for _, p := range d.local.Players() {
				if err := d.announce(ctx, p); err != nil {
					log.Warn().Err(err).Str("player_id", p).Msg("failed to refresh presence")
				}
			}
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var relay relayMessage
			if err := json.Unmarshal([]byte(m.Payload), &relay); err != nil {
				log.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			_, _ = d.local.Push(ctx, relay.PlayerID, relay.Payload)
		}
	}
}

// Subscribed 在测试中等待订阅生效
func (d *ClusterDirectory) Subscribed(ctx context.Context) (bool, error) {
	n, err := d.rdb.PubSubNumSub(ctx, nodeChannel(d.nodeID)).Result()
	if err != nil {
		return false, err
	}
	return n[nodeChannel(d.nodeID)] > 0, nil
}
