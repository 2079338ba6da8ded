package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"airspace/internal/auth"
	"airspace/internal/chat"
	"airspace/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	msgs     *service.MessageService
	profiles *service.ProfileService
	ledger   *service.Ledger
	configs  *service.SiteConfigs
	chat     *chat.Service
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		users:    d.Users,
		rooms:    d.Rooms,
		msgs:     d.Messages,
		profiles: d.Profiles,
		ledger:   d.Ledger,
		configs:  d.SiteConfigs,
		chat:     d.Chat,
	}
}

// statusOf 把业务错误映射为 HTTP 状态码，未知错误一律 500。
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidRoomName),
		errors.Is(err, service.ErrMessageDeleted),
		errors.Is(err, service.ErrSelfVote),
		errors.Is(err, service.ErrUnknownVote),
		errors.Is(err, service.ErrUnknownAd),
		errors.Is(err, service.ErrUnknownTheme),
		errors.Is(err, service.ErrUnknownBoard),
		errors.Is(err, service.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail 写错误响应；500 只返回笼统信息，细节进日志。
func fail(c *gin.Context, err error, op string) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Uint("user_id", auth.GetUserID(c)).Msg("request failed")
		c.JSON(code, gin.H{"error": op + " failed"})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusOfResult(r chat.Result) int {
	switch r.Status {
	case chat.StatusInvalid:
		return http.StatusBadRequest
	case chat.StatusForbidden:
		return http.StatusForbidden
	case chat.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func failResult(c *gin.Context, r chat.Result) {
	code := statusOfResult(r)
	if code == http.StatusInternalServerError {
		c.JSON(code, gin.H{"error": r.Command + " failed"})
		return
	}
	c.JSON(code, gin.H{"error": r.Err.Error()})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 2 || len(req.Username) > 64 || strings.ContainsAny(req.Username, " @") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, loginBody(result))
}

// Guest 创建访客账号并直接签发 token。
func (h *Handler) Guest(c *gin.Context) {
	result, err := h.users.CreateGuest(c.Request.Context())
	if err != nil {
		fail(c, err, "guest")
		return
	}
	c.JSON(http.StatusOK, loginBody(result))
}

func loginBody(r *service.LoginResult) gin.H {
	return gin.H{
		"access_token":  r.AccessToken,
		"refresh_token": r.RefreshToken,
		"user":          gin.H{"id": r.User.ID, "username": r.User.Username},
	}
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListRooms 处理获取房间列表请求。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.List(c.Request.Context(), 100)
	if err != nil {
		fail(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// ListMessages 返回当前用户可见的房间历史，按 id 升序。
func (h *Handler) ListMessages(c *gin.Context) {
	var beforeID uint
	if v := queryInt(c, "before_id"); v > 0 {
		beforeID = uint(v)
	}
	msgs, err := h.msgs.History(c.Request.Context(), c.Param("name"), auth.GetUserID(c), queryInt(c, "limit"), beforeID)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage 是 new_message 命令的 HTTP 入口，广播与提及通知和 websocket 一致。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
		Image   string `json:"image"`
		Audio   string `json:"audio"`
		ReplyID uint   `json:"reply_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	in := chat.PostInput{Room: c.Param("name"), Content: req.Message, Image: req.Image, Audio: req.Audio}
	if req.ReplyID != 0 {
		in.ReplyToID = &req.ReplyID
	}
	res, post := h.chat.Post(c.Request.Context(), auth.GetUserID(c), in)
	if !res.OK() {
		failResult(c, res)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": post.View, "streak": post.Streak, "daily": post.Daily})
}

// Vote 切换赞/踩，返回最新计数。
func (h *Handler) Vote(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, vote := h.chat.Vote(c.Request.Context(), auth.GetUserID(c), id, c.Param("type"))
	if !res.OK() {
		failResult(c, res)
		return
	}
	c.JSON(http.StatusOK, vote)
}

// Me 返回当前用户资料与奖励状态。
func (h *Handler) Me(c *gin.Context) {
	uid := auth.GetUserID(c)
	p, err := h.profiles.Get(c.Request.Context(), uid)
	if err != nil {
		fail(c, err, "profile")
		return
	}
	c.JSON(http.StatusOK, p)
}

// Rewards 返回 streak 与当天额度使用情况。
func (h *Handler) Rewards(c *gin.Context) {
	st, err := h.ledger.Status(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "rewards")
		return
	}
	c.JSON(http.StatusOK, st)
}

// ClaimAd 处理 xp/aura/booster/recover 四种广告奖励；额度用尽返回 200 与对应状态。
func (h *Handler) ClaimAd(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := h.ledger.ClaimAd(ctx, auth.GetUserID(c), service.AdKind(c.Param("kind")))
	if err != nil {
		fail(c, err, "claim")
		return
	}
	h.chat.EmitGrants(ctx, res.Grants)
	c.JSON(http.StatusOK, res)
}

// Leaderboard 按 ?by=xp|aura 返回排行榜。
func (h *Handler) Leaderboard(c *gin.Context) {
	by := c.DefaultQuery("by", service.KindXP)
	rows, err := h.profiles.Leaderboard(c.Request.Context(), by, queryInt(c, "limit"))
	if err != nil {
		fail(c, err, "leaderboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{"by": by, "leaders": rows})
}

func (h *Handler) UpdateTheme(c *gin.Context) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.profiles.UpdateTheme(c.Request.Context(), auth.GetUserID(c), req.Theme); err != nil {
		fail(c, err, "update theme")
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": req.Theme})
}

func (h *Handler) ToggleFavorite(c *gin.Context) {
	id, ok := paramID(c, "track")
	if !ok {
		return
	}
	fav, err := h.profiles.ToggleFavorite(c.Request.Context(), auth.GetUserID(c), id)
	if err != nil {
		fail(c, err, "favorite")
		return
	}
	c.JSON(http.StatusOK, gin.H{"track_id": id, "favorite": fav})
}

// GetConfig 返回全站奖励配置。
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.configs.Get(c.Request.Context())
	if err != nil {
		fail(c, err, "site config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig 部分更新全站奖励配置，立即对后续奖励生效。
func (h *Handler) UpdateConfig(c *gin.Context) {
	var patch service.SiteConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	cfg, err := h.configs.Update(c.Request.Context(), patch)
	if err != nil {
		fail(c, err, "update site config")
		return
	}
	log.Info().Uint("user_id", auth.GetUserID(c)).Msg("site config updated")
	c.JSON(http.StatusOK, cfg)
}
