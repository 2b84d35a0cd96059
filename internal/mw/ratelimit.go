package mw

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// RL 按 key 维护令牌桶，长时间不活跃的 key 会被定期清理。
type RL struct {
	mu  sync.Mutex
	m   map[string]*keyLimiter
	r   rate.Limit
	b   int
	ttl time.Duration
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RL {
	return &RL{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl}
}

// Allow 消耗 key 对应桶中的一个令牌。
func (rl *RL) Allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	kl, ok := rl.m[key]
	if !ok {
		kl = &keyLimiter{lim: rate.NewLimiter(rl.r, rl.b)}
		rl.m[key] = kl
	}
	kl.ts = now
	return kl.lim.AllowN(now, 1)
}

// Sweep 删除 ttl 内没有访问过的 key，返回剩余数量。
func (rl *RL) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, v := range rl.m {
		if now.Sub(v.ts) > rl.ttl {
			delete(rl.m, k)
		}
	}
	return len(rl.m)
}

func (rl *RL) gc(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.Sweep(now)
		}
	}
}

// RateLimit 返回一个基于 IP+路径的令牌桶限速中间件，ctx 结束时停止清理。
func RateLimit(ctx context.Context, r rate.Limit, burst int) gin.HandlerFunc {
	rl := NewRateLimiter(r, burst, 2*time.Minute)
	go rl.gc(ctx, 30*time.Second)
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !rl.Allow(ip+"|"+path, time.Now()) {
			metrics.HttpThrottledTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
