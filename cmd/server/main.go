package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	clog "chatrelay/internal/log"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/store"
	"chatrelay/internal/ws"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// main 函数负责加载配置、初始化日志、选择凭据存储并启动 HTTP 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credentials := openStore(ctx, cfg)
	userSvc := service.NewUserService(credentials, cfg)

	gw := ws.NewGateway(userSvc, ws.Options{
		MaxRoomSize:       cfg.MaxRoomSize,
		MessageRateLimit:  cfg.MessageRateLimit,
		MessageRateWindow: cfg.MessageRateWindow,
	})
	go gw.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(ctx, cfg, userSvc, service.NewRoomService(gw), gw),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	// SIGINT/SIGTERM 时关闭网关（断开所有 websocket）并关闭 HTTP 服务。
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"gateway": func(ctx context.Context) error {
			cancel()
			select {
			case <-gw.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"http": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	code := <-wait
	log.Info().Int("exit_code", code).Msg("stopped")
	os.Exit(code)
}

// openStore 配置了 DATABASE_DSN 时使用 Postgres，否则退回内存存储。
func openStore(ctx context.Context, cfg config.Config) store.Store {
	if cfg.DatabaseDSN == "" {
		log.Warn().Msg("DATABASE_DSN not set, using in-memory credential store")
		return store.NewMemoryStore()
	}
	gdb, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	return store.NewGormStore(gdb)
}
