// cmd/notification-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"promohub/internal/pkg/auth"
	"promohub/internal/pkg/bootstrap"
	"promohub/internal/pkg/clock"
	"promohub/internal/pkg/db"
	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/mq"
	"promohub/internal/pkg/redis"
	"promohub/internal/service/notification/application"
	"promohub/internal/service/notification/domain"
	"promohub/internal/service/notification/infrastructure"
	"promohub/internal/service/notification/infrastructure/session"
	"promohub/internal/service/notification/interfaces"
)

const serviceName = "notification-service"

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		RegisterHandlers: register,
	})
}

func register(app bootstrap.AppCtx) error {
	cfg := app.Config

	gdb, err := db.Open(cfg.Infra.MySQL, infrastructure.Models()...)
	if err != nil {
		return err
	}
	app.OnShutdown(func(context.Context) error { return db.Close(gdb) })

	// 1. 会话表：启用 Redis 时跨节点转发推送
	local := session.NewLocalDirectory()
	var directory domain.SessionDirectory = local
	if cfg.Infra.Redis.Enabled {
		rdb, err := redis.NewClient(context.Background(), cfg.Infra.Redis)
		if err != nil {
			return err
		}
		app.OnShutdown(func(context.Context) error { return rdb.Close() })
		cluster := session.NewClusterDirectory(local, rdb, app.NodeID, cfg.Push.PresenceTTL)
		app.AddWorker(cluster)
		directory = cluster
		logger.L().Info().Str("node", app.NodeID).Msg("cluster push relay enabled")
	}

	delivery := application.NewDeliveryService(
		infrastructure.NewGormNotificationRepository(gdb),
		directory,
		clock.NewRealClock(),
		otel.Tracer(serviceName),
	)

	// 2. notification 主题消费者和死信日志
	kc := cfg.Infra.Kafka
	events := mq.NewTopicConsumers(kc.Brokers, kc.NotificationTopic, kc.NotificationGroup,
		interfaces.NewEventHandler(delivery).Handle, kc.MaxAttempts, kc.RetryBackoff)
	app.AddWorker(events.Main)
	app.AddWorker(events.DeadLetter)
	app.OnShutdown(events.Close)

	// 3. WebSocket 网关与查询接口
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	interfaces.NewNotificationHandler(delivery, verifier).
		RegisterRoutes(app.Mux, interfaces.NewGateway(delivery, verifier, cfg.Push))
	return nil
}
