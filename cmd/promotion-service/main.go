// cmd/promotion-service/main.go
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
	"promohub/internal/pkg/zookeeper"
	"promohub/internal/service/promotion/application"
	"promohub/internal/service/promotion/infrastructure"
	"promohub/internal/service/promotion/infrastructure/adapter"
	"promohub/internal/service/promotion/interfaces"
	"promohub/internal/service/promotion/port"
)

const serviceName = "promotion-service"

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		RegisterHandlers: register,
	})
}

func register(app bootstrap.AppCtx) error {
	cfg := app.Config
	tracer := otel.Tracer(serviceName)
	clk := clock.NewRealClock()

	// 1. 存储
	gdb, err := db.Open(cfg.Infra.MySQL, infrastructure.Models()...)
	if err != nil {
		return err
	}
	app.OnShutdown(func(context.Context) error { return db.Close(gdb) })
	promotions := infrastructure.NewGormPromotionRepository(gdb)
	assignments := infrastructure.NewGormAssignmentRepository(gdb)
	intents := infrastructure.NewGormClaimIntentRepository(gdb)

	// 2. 钱包账本：配置了地址时直连，否则通过 Nacos 发现
	var discover func(string) (string, error)
	if app.Nacos != nil {
		discover = app.Nacos.DiscoverServiceInstance
	}
	conn, err := adapter.DialLedger(cfg.Ledger, discover)
	if err != nil {
		return err
	}
	app.OnShutdown(func(context.Context) error { return conn.Close() })
	ledger, err := adapter.NewLedgerGRPCAdapter(conn)
	if err != nil {
		return err
	}

	// 3. 通知生产者
	producer := adapter.NewNotificationKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic))
	app.OnShutdown(func(context.Context) error { return producer.Close() })

	promotionSvc := application.NewPromotionService(promotions, tracer)
	assignmentSvc := application.NewAssignmentService(promotions, assignments, producer, clk, tracer)
	claimSvc := application.NewClaimService(application.ClaimServiceDeps{
		Promotions:    promotions,
		Assignments:   assignments,
		UnitOfWork:    assignments,
		Intents:       intents,
		Ledger:        ledger,
		Producer:      producer,
		Clock:         clk,
		Tracer:        tracer,
		LedgerTimeout: cfg.Ledger.Timeout,
	})

	// 4. player 主题消费者和死信日志
	kc := cfg.Infra.Kafka
	players := mq.NewTopicConsumers(kc.Brokers, kc.PlayerTopic, kc.PromotionsGroup,
		interfaces.NewPlayerEventHandler(assignmentSvc).Handle, kc.MaxAttempts, kc.RetryBackoff)
	app.AddWorker(players.Main)
	app.AddWorker(players.DeadLetter)
	app.OnShutdown(players.Close)

	// 5. 领取意图对账，多实例时由 ZooKeeper 锁保证只有一个在清扫
	var locker port.Locker = port.NoopLocker{}
	if cfg.Infra.Zookeeper.Enabled {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		app.OnShutdown(func(context.Context) error { zkConn.Close(); return nil })
		lock, err := zookeeper.NewDistributedLock(zkConn, "claim-reconciler")
		if err != nil {
			return err
		}
		locker = lock
	}
	app.AddWorker(application.NewReconciler(intents, assignments, locker, clk, tracer, cfg.Claim.SweepInterval, cfg.Claim.StaleThreshold))

	// 6. HTTP
	interfaces.NewPromotionHandler(promotionSvc, assignmentSvc, claimSvc, auth.NewVerifier(cfg.Auth.JWTSecret)).RegisterRoutes(app.Mux)
	logger.L().Info().Str("ledger", cfg.Ledger.Addr).Msg("promotion service wired")
	return nil
}
