package application

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/metrics"
	"promohub/internal/service/notification/domain"
)

// DeliveryService 把通知事件推送给在线会话并持久化已读状态
type DeliveryService struct {
	repo      domain.Repository
	directory domain.SessionDirectory
	clock     clock.Clock
	tracer    trace.Tracer
}

func NewDeliveryService(repo domain.Repository, directory domain.SessionDirectory, clk clock.Clock, tracer trace.Tracer) *DeliveryService {
	return &DeliveryService{repo: repo, directory: directory, clock: clk, tracer: tracer}
}

// HandleEvent 处理一条通知事件。
// 事件没有 event_id 时使用 fallbackID（消息的 topic/partition/offset），保证重复投递不会重复写入。
func (s *DeliveryService) HandleEvent(ctx context.Context, event domain.Event, fallbackID string) error {
	ctx, span := s.tracer.Start(ctx, "service.HandleNotification")
	defer span.End()

	if err := event.Validate(); err != nil {
		return err
	}
	eventID := event.EventID
	if eventID == "" {
		eventID = fallbackID
	}
	span.SetAttributes(attribute.String("player.id", event.UserID), attribute.String("event.id", eventID))

	// 1. 事件到达时是否在线决定 read 标记
	delivered, err := s.directory.Online(ctx, event.UserID)
	if err != nil {
		// 在线状态未知时按离线处理，连接时会补推
		logger.Ctx(ctx).Warn().Err(err).Str("player_id", event.UserID).Msg("presence lookup failed, treating as offline")
		delivered = false
	}

	// 2. 追加到文档，重复事件直接忽略
	entry := domain.NewEntry(event, eventID, delivered, s.clock.Now().UTC())
	created, err := s.repo.Append(ctx, entry)
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "persist notification")
	}
	if !created {
		logger.Ctx(ctx).Info().Str("player_id", event.UserID).Str("event_id", eventID).Msg("duplicate notification event, skipping")
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues(strconv.FormatBool(delivered)).Inc()

	// 3. 在线时推送，推送失败不影响已记录的 read
	if delivered {
		n, err := s.directory.Push(ctx, event.UserID, entry.Content)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("player_id", event.UserID).Msg("push relay failed")
		}
		span.SetAttributes(attribute.Int("push.delivered", n))
	}
	return nil
}

// OnConnect 注册会话并补推未读通知，只把成功推送的条目标记为已读
func (s *DeliveryService) OnConnect(ctx context.Context, playerID string, session domain.Session) error {
	ctx, span := s.tracer.Start(ctx, "service.OnConnect")
	defer span.End()
	span.SetAttributes(attribute.String("player.id", playerID))

	if err := s.directory.Register(ctx, playerID, session); err != nil {
		return errors.Wrap(err, "register session")
	}

	unread, err := s.repo.Unread(ctx, playerID)
	if err != nil {
		return errors.Wrap(err, "load unread notifications")
	}
	if len(unread) == 0 {
		return nil
	}

	pushed := make([]uuid.UUID, 0, len(unread))
	for _, e := range unread {
		if err := session.Send(e.Content); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("player_id", playerID).
				Int("pushed", len(pushed)).
				Int("unread", len(unread)).
				Msg("catch-up push interrupted")
			break
		}
		pushed = append(pushed, e.ID)
	}
	if len(pushed) == 0 {
		return nil
	}
	n, err := s.repo.MarkRead(ctx, playerID, pushed)
	if err != nil {
		return errors.Wrap(err, "mark notifications read")
	}
	logger.Ctx(ctx).Info().Str("player_id", playerID).Int64("marked", n).Msg("flushed unread notifications")
	return nil
}

func (s *DeliveryService) OnDisconnect(ctx context.Context, playerID string, session domain.Session) error {
	return s.directory.Unregister(ctx, playerID, session)
}

func (s *DeliveryService) Document(ctx context.Context, playerID string) (*domain.Document, error) {
	ctx, span := s.tracer.Start(ctx, "service.Document")
	defer span.End()
	return s.repo.Document(ctx, playerID)
}
