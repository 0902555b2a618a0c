package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SessionLimiter 按会话限制请求频率，用于保护下游的建议服务。
type SessionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*sessionLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSessionLimiter 创建一个每分钟最多 perMinute 次、允许突发 burst 次的限流器。perMinute <= 0 时不限流。
func NewSessionLimiter(perMinute, burst int) *SessionLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &SessionLimiter{
		limiters: make(map[string]*sessionLimiter),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 判断该会话此刻是否还能发起请求。
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	sl, ok := l.limiters[sessionID]
	if !ok {
		l.evict(now)
		sl = &sessionLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[sessionID] = sl
	}
	sl.lastSeen = now
	return sl.limiter.AllowN(now, 1)
}

// evict 清理长时间未活动的会话。
func (l *SessionLimiter) evict(now time.Time) {
	for id, sl := range l.limiters {
		if now.Sub(sl.lastSeen) > l.idle {
			delete(l.limiters, id)
		}
	}
}

// RateLimit 按会话限流，必须在 SessionAuth 之后使用。
func RateLimit(limiter *SessionLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(SessionID(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": http.StatusTooManyRequests, "message": "请求过于频繁，请稍后再试", "data": nil})
			return
		}
		c.Next()
	}
}
