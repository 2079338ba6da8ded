package server

import (
	"context"
	"net/http"
	"time"

	"airspace/internal/auth"
	"airspace/internal/broker"
	"airspace/internal/chat"
	"airspace/internal/config"
	"airspace/internal/metrics"
	"airspace/internal/mw"
	"airspace/internal/service"
	"airspace/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps 是路由需要的全部组件，由 main 组装。
type Deps struct {
	Config      config.Config
	DB          *gorm.DB
	Broker      broker.Broker
	Users       *service.UserService
	Rooms       *service.RoomService
	Messages    *service.MessageService
	Profiles    *service.ProfileService
	Ledger      *service.Ledger
	SiteConfigs *service.SiteConfigs
	Chat        *chat.Service
	// Throttle 为 nil 时使用进程内实现。
	Throttle mw.Throttle
	// Limiter 为 nil 时按默认速率创建。
	Limiter *mw.RL
}

// activity 把登录奖励、活跃时间与事件上报拼成 mw.ActivityRecorder。
type activity struct {
	ledger   *service.Ledger
	profiles *service.ProfileService
	chat     *chat.Service
}

func (a activity) ClaimLoginBonus(ctx context.Context, userID uint) (service.ClaimResult, error) {
	return a.ledger.ClaimLoginBonus(ctx, userID)
}

func (a activity) Touch(ctx context.Context, userID uint, mobile bool, at time.Time) error {
	return a.profiles.Touch(ctx, userID, mobile, at)
}

func (a activity) EmitGrants(ctx context.Context, grants []service.Grant) {
	a.chat.EmitGrants(ctx, grants)
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	if d.Throttle == nil {
		d.Throttle = mw.NewMemoryThrottle(mw.ActivityWindow)
	}
	if d.Limiter == nil {
		d.Limiter = mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	}
	h := NewHandler(d)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.MediaRoot != "" && cfg.MediaURL != "" {
		r.Static(cfg.MediaURL, cfg.MediaRoot)
	}

	api := r.Group("/api/v1")
	// 匿名接口按 IP+路由限速
	public := api.Group("/auth", mw.RateLimit(d.Limiter))
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	public.POST("/guest", h.Guest)
	public.POST("/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口，限速按用户计。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, d.DB), mw.RateLimit(d.Limiter), mw.Activity(activity{d.Ledger, d.Profiles, d.Chat}, d.Throttle))

	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:name/messages", h.ListMessages)
	authed.POST("/rooms/:name/messages", h.PostMessage)
	authed.POST("/messages/:id/vote/:type", h.Vote)

	authed.GET("/me", h.Me)
	authed.GET("/me/rewards", h.Rewards)
	authed.PUT("/me/theme", h.UpdateTheme)
	authed.POST("/me/favorites/:track", h.ToggleFavorite)
	authed.POST("/rewards/ads/:kind", h.ClaimAd)
	authed.GET("/leaderboard", h.Leaderboard)

	admin := authed.Group("/admin", auth.RequireStaff())
	admin.GET("/config", h.GetConfig)
	admin.PUT("/config", h.UpdateConfig)

	authenticate := auth.RequestAuthenticator(cfg, d.DB)
	r.GET("/ws/chat/:room", ws.ServeChat(d.Broker, d.Chat, authenticate))
	r.GET("/ws/notifications", ws.ServeNotifications(d.Broker, authenticate))
	return r
}
