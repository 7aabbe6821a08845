// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nexus-cart/internal/pkg/nacos"
	"nexus-cart/internal/pkg/tracing"
	"nexus-cart/internal/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type AppCtx struct {
	Router chi.Router
	Nacos  *nacos.Client
	Config *Config
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己的 HTTP 路由
	// Background 是与 HTTP 服务并行运行的后台任务，ctx 取消时必须返回
	Background []func(ctx context.Context) error
	// Cleanup 在 HTTP 服务和后台任务都退出后按顺序执行
	Cleanup []func(ctx context.Context) error
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) error {
	cfg := GetCurrentConfig()

	// Cleanup 在所有退出路径上执行，包括启动失败
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		RunCleanups(cleanupCtx, info.Cleanup)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracer provider")
	}

	// 2. 服务注册 (可选)
	var namingClient *nacos.Client
	var ip string
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			return err
		}
		if ip, err = utils.GetOutboundIP(); err != nil {
			return errors.Wrap(err, "failed to get outbound IP address")
		}
		if err = namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	// 3. HTTP Server
	router := chi.NewRouter()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Router: router, Nacos: namingClient, Config: cfg})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "could not listen on %s", server.Addr)
		}
		return nil
	})
	for _, task := range info.Background {
		task := task
		g.Go(func() error { return task(gctx) })
	}

	// 4. 优雅关停: 收到信号或任一任务失败
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Str("service", info.ServiceName).Msg("🛑 Shutting down service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if namingClient != nil {
			if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				zlog.Error().Err(err).Msg("Error deregistering from Nacos")
			}
			namingClient.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down http server")
		}
		// 关闭 Tracer Provider，确保缓冲的 span 被发送
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down tracer provider")
		}
		return nil
	})

	err = g.Wait()
	zlog.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
	return err
}

// RunCleanups 按顺序执行清理函数，单个失败不影响后续
func RunCleanups(ctx context.Context, cleanups []func(ctx context.Context) error) {
	for _, c := range cleanups {
		if err := c(ctx); err != nil {
			zlog.Error().Err(err).Msg("Error during cleanup")
		}
	}
}
