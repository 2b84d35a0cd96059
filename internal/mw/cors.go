package mw

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy 判断来源是否可信：dev 环境允许所有来源；其他环境允许同源以及 allowed 中列出的来源。
// CORS 和 websocket 握手共用这一策略。
func OriginPolicy(env string, allowed []string) func(origin, host string) bool {
	extra := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			extra[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(origin, host string) bool {
		if env == "dev" {
			return true
		}
		if _, ok := extra[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, host)
	}
}

// CORS 返回跨域中间件，来源判断见 OriginPolicy。
func CORS(env string, allowed []string) gin.HandlerFunc {
	permitted := OriginPolicy(env, allowed)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if permitted(origin, c.Request.Host) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
