package server

import (
	"context"
	"net/http"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"
	"chatrelay/internal/service"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// ctx 结束时限速器的清理 goroutine 随之退出。
func SetupRouter(ctx context.Context, cfg config.Config, userSvc *service.UserService, roomSvc *service.RoomService, gw *ws.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSAllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(userSvc, roomSvc)

	api := r.Group("/api")
	api.Use(mw.RateLimit(ctx, rate.Limit(cfg.APIRatePerSecond), cfg.APIRateBurst))
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(userSvc))
	authed.GET("/rooms", h.ListRooms)

	r.GET("/ws", ws.Serve(gw, cfg))
	return r
}
