package chat

import "time"

const (
	DefaultMessageRateLimit  = 5
	DefaultMessageRateWindow = time.Second
)

// RateLimiter 按身份维护滑动窗口内的发送时间戳。
// 不做并发保护，由网关的事件循环独占使用。
type RateLimiter struct {
	limit   int
	window  time.Duration
	windows map[string][]time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultMessageRateLimit
	}
	if window <= 0 {
		window = DefaultMessageRateWindow
	}
	return &RateLimiter{limit: limit, window: window, windows: make(map[string][]time.Time)}
}

// CheckAndRecord 返回本次发送是否被允许；被拒绝的尝试不计入窗口。
func (rl *RateLimiter) CheckAndRecord(identityID string, now time.Time) bool {
	recent := rl.windows[identityID]
	// entries exactly one window old are already expired
	keep := 0
	for keep < len(recent) && now.Sub(recent[keep]) >= rl.window {
		keep++
	}
	recent = recent[keep:]
	if len(recent) >= rl.limit {
		rl.windows[identityID] = recent
		return false
	}
	rl.windows[identityID] = append(recent, now)
	return true
}

func (rl *RateLimiter) Forget(identityID string) {
	delete(rl.windows, identityID)
}

// Tracked reports how many identities currently hold a window.
func (rl *RateLimiter) Tracked() int { return len(rl.windows) }
