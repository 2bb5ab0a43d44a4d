package middleware

import (
	"net/http"
	"sync"
	"time"

	"ragchat/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleTTL 超过该时长没有请求的客户端状态会被清理
const idleTTL = 10 * time.Minute

// clientState 客户端状态
type clientState struct {
	perSecond *rate.Limiter // RequestsPerSecond 与 Burst
	perMinute *rate.Limiter // RequestsPerMinute，为 nil 时不限制
	lastSeen  time.Time
}

// RateLimiter 按客户端限流，令牌桶之外附带每分钟请求上限
type RateLimiter struct {
	cfg     config.RateLimitConfig
	clients map[string]*clientState
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
	stopped sync.Once
}

// NewRateLimiter 创建限流器，RequestsPerSecond 为 0 时返回 nil
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerSecond
	}
	return &RateLimiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

func (rl *RateLimiter) newClient() *clientState {
	state := &clientState{
		perSecond: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
	}
	if n := rl.cfg.RequestsPerMinute; n > 0 {
		state.perMinute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
	return state
}

// Allow 检查是否允许请求
// 被每分钟上限拒绝的请求不消耗每秒令牌
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, ok := rl.clients[key]
	if !ok {
		state = rl.newClient()
		rl.clients[key] = state
	}
	state.lastSeen = now

	if state.perMinute != nil && state.perMinute.TokensAt(now) < 1 {
		return false
	}
	if !state.perSecond.AllowN(now, 1) {
		return false
	}
	if state.perMinute != nil {
		state.perMinute.AllowN(now, 1)
	}
	return true
}

// Run 定期清理空闲客户端，直到 Stop
func (rl *RateLimiter) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, state := range rl.clients {
		if now.Sub(state.lastSeen) > idleTTL {
			delete(rl.clients, key)
		}
	}
}

// Stop 停止清理协程，可重复调用
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stopCh) })
}

// RateLimitMiddleware 按端点与客户端 IP 限流
// limiter 为 nil 时不限流
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := c.FullPath() + ":" + c.ClientIP()
		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "请求过于频繁，请稍后重试",
			})
			return
		}

		c.Next()
	}
}
