package mw

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"airspace/internal/auth"
	"airspace/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ActivityWindow 是同一用户两次活跃记录之间的最短间隔。
const ActivityWindow = 60 * time.Second

// Throttle 在窗口内对同一个 key 只放行一次。
type Throttle interface {
	Allow(ctx context.Context, key string) bool
}

// RedisThrottle 用 SET NX EX 实现，多实例共享同一个窗口。
type RedisThrottle struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

func NewRedisThrottle(client redis.UniversalClient, window time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, prefix: "airspace:activity:", window: window}
}

// Allow 在 redis 不可用时放行，活跃记录本身是幂等的。
func (t *RedisThrottle) Allow(ctx context.Context, key string) bool {
	ok, err := t.client.SetNX(ctx, t.prefix+key, 1, t.window).Result()
	if err != nil {
		log.Warn().Err(err).Msg("activity throttle: redis unavailable")
		return true
	}
	return ok
}

// MemoryThrottle 是单实例部署时的进程内实现。
type MemoryThrottle struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewMemoryThrottle(window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{seen: make(map[string]time.Time), window: window, now: time.Now}
}

func (t *MemoryThrottle) Allow(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.seen[key]; ok && now.Sub(last) < t.window {
		return false
	}
	t.seen[key] = now
	// 顺带清理过期 key，避免 map 无限增长
	if len(t.seen) > 4096 {
		for k, v := range t.seen {
			if now.Sub(v) >= t.window {
				delete(t.seen, k)
			}
		}
	}
	return true
}

// ActivityRecorder 是活跃中间件依赖的业务操作。
type ActivityRecorder interface {
	ClaimLoginBonus(ctx context.Context, userID uint) (service.ClaimResult, error)
	Touch(ctx context.Context, userID uint, mobile bool, at time.Time) error
	EmitGrants(ctx context.Context, grants []service.Grant)
}

// Activity 在已认证请求上发放每日登录奖励并刷新最后活跃时间，
// 每个用户每个窗口最多执行一次。失败只记日志，不影响请求本身。
func Activity(rec ActivityRecorder, throttle Throttle) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := auth.GetUserID(c)
		if uid == 0 {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if throttle.Allow(ctx, strconv.FormatUint(uint64(uid), 10)) {
			if res, err := rec.ClaimLoginBonus(ctx, uid); err != nil {
				log.Warn().Err(err).Uint("user_id", uid).Msg("login bonus")
			} else if res.Status == service.ClaimGranted {
				rec.EmitGrants(ctx, res.Grants)
			}
			if err := rec.Touch(ctx, uid, IsMobile(c.Request.UserAgent()), time.Now()); err != nil {
				log.Warn().Err(err).Uint("user_id", uid).Msg("touch activity")
			}
		}
		c.Next()
	}
}

// IsMobile 按 User-Agent 粗略判断移动端。
func IsMobile(ua string) bool {
	ua = strings.ToLower(ua)
	for _, k := range []string{"mobile", "android", "iphone"} {
		if strings.Contains(ua, k) {
			return true
		}
	}
	return false
}
