// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"promohub/internal/pkg/logger"
	"promohub/internal/pkg/nacos"
	"promohub/internal/pkg/tracing"
)

// Worker 是随服务启动、在 ctx 取消时退出的后台任务（Kafka 消费者、清扫任务等）。
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc 让普通函数满足 Worker 接口。
type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未启用 Nacos 时为 nil
	Config Config
	NodeID string

	lc *lifecycle
}

// AddWorker 注册一个后台任务。
func (a AppCtx) AddWorker(w Worker) {
	a.lc.mu.Lock()
	a.lc.workers = append(a.lc.workers, w)
	a.lc.mu.Unlock()
}

// OnShutdown 注册一个关停时执行的清理函数，按注册的逆序执行。
func (a AppCtx) OnShutdown(fn func(ctx context.Context) error) {
	a.lc.mu.Lock()
	a.lc.closers = append([]func(context.Context) error{fn}, a.lc.closers...)
	a.lc.mu.Unlock()
}

type lifecycle struct {
	mu      sync.Mutex
	workers []Worker
	closers []func(context.Context) error
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	// Port 为 0 时使用配置中的 app.port
	Port int
	// RegisterHandlers 注册路由、后台任务和清理函数；返回错误时进程退出
	RegisterHandlers func(appCtx AppCtx) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	// 1. 加载配置
	cfg, err := LoadConfig(getEnv("CONFIG_FILE", ""))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(info.ServiceName, cfg.App.LogLevel, cfg.App.LogPretty)
	port := info.Port
	if port == 0 {
		port = cfg.App.Port
	}

	// 2. 初始化核心组件
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	var namingClient *nacos.Client
	var ip string
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		if ip, err = getOutboundIP(); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to get outbound IP address")
		}
	}

	// 3. 注册业务路由和后台任务
	lc := &lifecycle{}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	appCtx := AppCtx{
		Mux:    mux,
		Nacos:  namingClient,
		Config: cfg,
		NodeID: info.ServiceName + "-" + uuid.NewString()[:8],
		lc:     lc,
	}
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to register handlers")
		}
	}

	// 4. 启动 HTTP Server 与后台任务
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info().Str("service", info.ServiceName).Int("port", port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	for _, w := range lc.workers {
		g.Go(func() error { return w.Run(gctx) })
	}

	// 5. 服务注册在监听之后进行
	instance := nacos.Instance{
		ServiceName: info.ServiceName,
		IP:          ip,
		Port:        port,
		Metadata:    map[string]string{"node": appCtx.NodeID, "env": cfg.App.Env},
	}
	if namingClient != nil {
		if err := namingClient.RegisterServiceInstance(instance); err != nil {
			logger.L().Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 6. 优雅关停：收到信号或任一任务失败
	<-gctx.Done()
	logger.L().Info().Str("service", info.ServiceName).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 从 Nacos 注销服务，停止接收新流量
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(instance); err != nil {
			logger.L().Error().Err(err).Msg("error deregistering from nacos")
		}
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("error shutting down http server")
	}

	// c. 等待后台任务退出
	stop()
	if err := g.Wait(); err != nil {
		logger.L().Error().Err(err).Msg("service stopped with error")
	}

	// d. 释放外部资源（后注册的先关闭）
	for _, closer := range lc.closers {
		if err := closer(shutdownCtx); err != nil {
			logger.L().Error().Err(err).Msg("error during cleanup")
		}
	}

	// e. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("error shutting down tracer provider")
	}

	logger.L().Info().Str("service", info.ServiceName).Msg("gracefully shut down")
}

func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
