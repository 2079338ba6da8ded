package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"airspace/internal/models"
	"airspace/internal/reward"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeletedPlaceholder 是墓碑消息对所有人显示的文本。
const DeletedPlaceholder = "🚫 Message deleted"

var mentionRe = regexp.MustCompile(`@(\w+)`)

// MessageService 封装消息生命周期：发送、编辑、删除、对自己隐藏与点赞。
type MessageService struct {
	db     *gorm.DB
	ledger *Ledger
}

func NewMessageService(db *gorm.DB, ledger *Ledger) *MessageService {
	return &MessageService{db: db, ledger: ledger}
}

// ReplyContext 是被回复消息的摘要，原消息删除后显示占位文本。
type ReplyContext struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// MessageView 是某个观察者看到的消息。
type MessageView struct {
	ID        uint          `json:"id"`
	Room      string        `json:"room"`
	UserID    uint          `json:"user_id"`
	Username  string        `json:"username"`
	Content   string        `json:"message"`
	Deleted   bool          `json:"is_deleted"`
	ImageURL  string        `json:"image_url,omitempty"`
	AudioURL  string        `json:"audio_url,omitempty"`
	FileURL   string        `json:"file_url,omitempty"`
	Tier      string        `json:"tier"`
	Aura      int           `json:"aura"`
	AvatarURL string        `json:"user_avatar,omitempty"`
	Reply     *ReplyContext `json:"reply_context,omitempty"`
	Likes     int64         `json:"likes"`
	Dislikes  int64         `json:"dislikes"`
	CreatedAt time.Time     `json:"created_at"`
}

type PostParams struct {
	Room      string
	AuthorID  uint
	Content   string
	ImageURL  string
	AudioURL  string
	FileURL   string
	ReplyToID *uint
}

// Mention 是消息里能解析到真实用户的 @username。
type Mention struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

// PostResult 列出一次发送触发的全部副作用，由调用方负责广播与上报。
type PostResult struct {
	View     MessageView
	Streak   StreakOutcome
	Daily    DailyOutcome
	Grants   []Grant
	Mentions []Mention
}

// Post 在一个事务里写入消息并结算 streak、当日计数与消息 XP，任何一步失败都整体回滚。
func (s *MessageService) Post(ctx context.Context, p PostParams) (*PostResult, error) {
	p.Content = strings.TrimSpace(p.Content)
	if p.Content == "" && p.ImageURL == "" && p.AudioURL == "" && p.FileURL == "" {
		return nil, ErrEmptyMessage
	}

	var res PostResult
	err := s.ledger.withUser(ctx, p.AuthorID, func(tx *gorm.DB) error {
		profile, err := lockProfile(tx, p.AuthorID)
		if err != nil {
			return err
		}
		var author models.User
		if err := tx.First(&author, p.AuthorID).Error; err != nil {
			return notFound(err, "author")
		}
		if !author.IsActive {
			return fmt.Errorf("inactive author %d: %w", author.ID, ErrForbidden)
		}
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		room, err := roomByName(tx, p.Room)
		if err != nil {
			return err
		}
		if room.Name == AnnouncementsRoom && !author.IsStaff && profile.XP < cfg.AnnouncementMinXP {
			return fmt.Errorf("announcements need %d xp: %w", cfg.AnnouncementMinXP, ErrForbidden)
		}

		msg := models.Message{
			RoomID:    room.ID,
			UserID:    author.ID,
			Content:   p.Content,
			ImageURL:  p.ImageURL,
			AudioURL:  p.AudioURL,
			FileURL:   p.FileURL,
			CreatedAt: s.ledger.Now(),
		}
		if p.ReplyToID != nil {
			// 找不到或不在同一房间的回复目标直接忽略。
			var target models.Message
			if err := tx.Where("id = ? AND room_id = ?", *p.ReplyToID, room.ID).Limit(1).Find(&target).Error; err != nil {
				return err
			}
			if target.ID != 0 {
				msg.ReplyToID = &target.ID
			}
		}
		if err := tx.Omit(clause.Associations).Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		today := s.ledger.Today()
		res.Streak, err = updateStreak(tx, author.ID, today, cfg)
		if err != nil {
			return fmt.Errorf("update streak: %w", err)
		}
		res.Daily, err = countMessage(tx, author.ID, today, cfg)
		if err != nil {
			return fmt.Errorf("count message: %w", err)
		}
		base, err := flatXP(tx, author.ID, cfg.XPPerMessage, SourceMessage)
		if err != nil {
			return err
		}
		res.Grants = append(res.Grants, res.Streak.Grants...)
		if res.Daily.Grant != nil {
			res.Grants = append(res.Grants, *res.Daily.Grant)
		}
		res.Grants = append(res.Grants, base)

		res.Mentions, err = resolveMentions(tx, p.Content)
		if err != nil {
			return err
		}

		views, err := loadViews(tx, room.Name, []uint{msg.ID})
		if err != nil {
			return err
		}
		res.View = views[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ParseMentions 按出现顺序返回去重后的 @username。
func ParseMentions(content string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range mentionRe.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// resolveMentions 跳过不存在的用户名，不报错。
func resolveMentions(tx *gorm.DB, content string) ([]Mention, error) {
	names := ParseMentions(content)
	if len(names) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := tx.Select("id", "username").Where("username IN ?", names).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolve mentions: %w", err)
	}
	byName := make(map[string]uint, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}
	out := make([]Mention, 0, len(names))
	for _, n := range names {
		if id, ok := byName[n]; ok {
			out = append(out, Mention{UserID: id, Username: n})
		}
	}
	return out, nil
}

// ChangeResult 描述一次删除或编辑，Room 用于决定广播到哪个房间。
type ChangeResult struct {
	MessageID uint   `json:"msg_id"`
	Room      string `json:"room"`
	Content   string `json:"new_content,omitempty"`
	Changed   bool   `json:"changed"`
}

// SoftDelete 对所有人删除：作者或管理员可用，重复删除是成功的空操作。
func (s *MessageService) SoftDelete(ctx context.Context, messageID, actorID uint) (ChangeResult, error) {
	var out ChangeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, actor, err := messageAndActor(tx, messageID, actorID)
		if err != nil {
			return err
		}
		if msg.UserID != actor.ID && !actor.IsStaff {
			return fmt.Errorf("delete message %d: %w", messageID, ErrForbidden)
		}
		out = ChangeResult{MessageID: msg.ID, Room: msg.Room.Name}
		if msg.IsDeleted {
			return nil
		}
		err = tx.Model(&models.Message{}).Where("id = ?", msg.ID).Updates(map[string]any{
			"is_deleted": true,
			"content":    "",
			"image_url":  "",
			"audio_url":  "",
			"file_url":   "",
		}).Error
		if err != nil {
			return fmt.Errorf("delete message %d: %w", messageID, err)
		}
		out.Changed = true
		return nil
	})
	return out, err
}

// HideForSelf 只影响 actor 自己的视图。
func (s *MessageService) HideForSelf(ctx context.Context, messageID, actorID uint) (ChangeResult, error) {
	var out ChangeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, _, err := messageAndActor(tx, messageID, actorID)
		if err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.MessageHide{MessageID: msg.ID, UserID: actorID})
		if res.Error != nil {
			return fmt.Errorf("hide message %d: %w", messageID, res.Error)
		}
		out = ChangeResult{MessageID: msg.ID, Room: msg.Room.Name, Changed: res.RowsAffected > 0}
		return nil
	})
	return out, err
}

// Edit 只允许作者修改未删除的消息，时间与位置保持不变。
func (s *MessageService) Edit(ctx context.Context, messageID, actorID uint, newContent string) (ChangeResult, error) {
	newContent = strings.TrimSpace(newContent)
	var out ChangeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg, _, err := messageAndActor(tx, messageID, actorID)
		if err != nil {
			return err
		}
		if msg.UserID != actorID {
			return fmt.Errorf("edit message %d: %w", messageID, ErrForbidden)
		}
		if msg.IsDeleted {
			return fmt.Errorf("edit message %d: %w", messageID, ErrMessageDeleted)
		}
		if newContent == "" && !msg.HasAttachment() {
			return ErrEmptyMessage
		}
		if err := tx.Model(&models.Message{}).Where("id = ?", msg.ID).Update("content", newContent).Error; err != nil {
			return fmt.Errorf("edit message %d: %w", messageID, err)
		}
		out = ChangeResult{MessageID: msg.ID, Room: msg.Room.Name, Content: newContent, Changed: newContent != msg.Content}
		return nil
	})
	return out, err
}

// ClearHistory 把房间里现有的每条消息都对 actor 隐藏，不删除任何数据。
func (s *MessageService) ClearHistory(ctx context.Context, roomName string, actorID uint) (int64, error) {
	tx := s.db.WithContext(ctx)
	var room models.Room
	if err := tx.Where("name = ?", roomName).First(&room).Error; err != nil {
		return 0, notFound(err, "room "+roomName)
	}
	res := tx.Exec(
		"INSERT INTO message_hides (message_id, user_id, created_at) "+
			"SELECT id, ?, ? FROM messages WHERE room_id = ? ON CONFLICT DO NOTHING",
		actorID, s.ledger.Now(), room.ID,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("clear history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// History 返回 viewer 看到的房间消息，按插入顺序升序，跳过 viewer 隐藏的消息。
func (s *MessageService) History(ctx context.Context, roomName string, viewerID uint, limit int, beforeID uint) ([]MessageView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tx := s.db.WithContext(ctx)
	var room models.Room
	if err := tx.Where("name = ?", roomName).Limit(1).Find(&room).Error; err != nil {
		return nil, err
	}
	if room.ID == 0 {
		return []MessageView{}, nil
	}

	q := tx.Model(&models.Message{}).Where("room_id = ?", room.ID).
		Where("NOT EXISTS (SELECT 1 FROM message_hides h WHERE h.message_id = messages.id AND h.user_id = ?)", viewerID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var ids []uint
	if err := q.Order("id desc").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return loadViews(tx, room.Name, ids)
}

// VoteResult 是点赞/点踩后的计数。
type VoteResult struct {
	Action   string  `json:"action"`
	Likes    int64   `json:"likes_count"`
	Dislikes int64   `json:"dislikes_count"`
	Grants   []Grant `json:"-"`
}

// Vote 切换 voter 对消息的赞或踩，并调整作者的 aura。
// 作者当天第一次收到赞时奖励翻倍。
func (s *MessageService) Vote(ctx context.Context, messageID, voterID uint, kind string) (VoteResult, error) {
	if kind != "like" && kind != "dislike" {
		return VoteResult{}, fmt.Errorf("vote %q: %w", kind, ErrUnknownVote)
	}
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, messageID).Error; err != nil {
		return VoteResult{}, notFound(err, "message")
	}
	if msg.UserID == voterID {
		return VoteResult{}, ErrSelfVote
	}
	if msg.IsDeleted {
		return VoteResult{}, ErrMessageDeleted
	}

	var res VoteResult
	err := s.ledger.withUser(ctx, msg.UserID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, msg.UserID); err != nil {
			return err
		}
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		var g []Grant
		if kind == "like" {
			res.Action, g, err = toggleLike(tx, msg, voterID, s.ledger.Today(), cfg)
		} else {
			res.Action, g, err = toggleDislike(tx, msg, voterID, cfg)
		}
		if err != nil {
			return err
		}
		res.Grants = g
		likes, dislikes, err := voteCounts(tx, []uint{msg.ID})
		if err != nil {
			return err
		}
		res.Likes, res.Dislikes = likes[msg.ID], dislikes[msg.ID]
		return nil
	})
	return res, err
}

func toggleLike(tx *gorm.DB, msg models.Message, voterID uint, today string, cfg models.SiteConfig) (string, []Grant, error) {
	del := tx.Where("message_id = ? AND user_id = ?", msg.ID, voterID).Delete(&models.MessageLike{})
	if del.Error != nil {
		return "", nil, del.Error
	}
	if del.RowsAffected > 0 {
		g, err := addAura(tx, msg.UserID, -cfg.AuraPerLike, SourceUnlike)
		return "removed", []Grant{g}, err
	}
	if err := tx.Create(&models.MessageLike{MessageID: msg.ID, UserID: voterID}).Error; err != nil {
		return "", nil, err
	}
	var grants []Grant
	d, err := dailyFor(tx, msg.UserID, today)
	if err != nil {
		return "", nil, err
	}
	if !d.FirstLikeReceived {
		g, err := addAura(tx, msg.UserID, cfg.AuraPerLike, SourceFirstLike)
		if err != nil {
			return "", nil, err
		}
		d.FirstLikeReceived = true
		if err := saveDaily(tx, d); err != nil {
			return "", nil, err
		}
		grants = append(grants, g)
	}
	g, err := addAura(tx, msg.UserID, cfg.AuraPerLike, SourceLike)
	if err != nil {
		return "", nil, err
	}
	return "added", append(grants, g), nil
}

func toggleDislike(tx *gorm.DB, msg models.Message, voterID uint, cfg models.SiteConfig) (string, []Grant, error) {
	del := tx.Where("message_id = ? AND user_id = ?", msg.ID, voterID).Delete(&models.MessageDislike{})
	if del.Error != nil {
		return "", nil, del.Error
	}
	if del.RowsAffected > 0 {
		g, err := addAura(tx, msg.UserID, cfg.AuraPerDislike, SourceUndislike)
		return "removed", []Grant{g}, err
	}
	if err := tx.Create(&models.MessageDislike{MessageID: msg.ID, UserID: voterID}).Error; err != nil {
		return "", nil, err
	}
	g, err := addAura(tx, msg.UserID, -cfg.AuraPerDislike, SourceDislike)
	return "added", []Grant{g}, err
}

func messageAndActor(tx *gorm.DB, messageID, actorID uint) (*models.Message, *models.User, error) {
	var msg models.Message
	if err := tx.Preload("Room").First(&msg, messageID).Error; err != nil {
		return nil, nil, notFound(err, "message")
	}
	var actor models.User
	if err := tx.First(&actor, actorID).Error; err != nil {
		return nil, nil, notFound(err, "actor")
	}
	return &msg, &actor, nil
}

type voteCount struct {
	MessageID uint
	N         int64
}

func voteCounts(tx *gorm.DB, ids []uint) (map[uint]int64, map[uint]int64, error) {
	likes := make(map[uint]int64, len(ids))
	dislikes := make(map[uint]int64, len(ids))
	if len(ids) == 0 {
		return likes, dislikes, nil
	}
	for _, t := range []struct {
		model any
		out   map[uint]int64
	}{
		{&models.MessageLike{}, likes},
		{&models.MessageDislike{}, dislikes},
	} {
		var rows []voteCount
		err := tx.Model(t.model).Select("message_id, count(*) AS n").
			Where("message_id IN ?", ids).Group("message_id").Scan(&rows).Error
		if err != nil {
			return nil, nil, err
		}
		for _, r := range rows {
			t.out[r.MessageID] = r.N
		}
	}
	return likes, dislikes, nil
}

// loadViews 按 ids 的顺序组装视图，墓碑消息不带内容和附件。
func loadViews(tx *gorm.DB, roomName string, ids []uint) ([]MessageView, error) {
	out := make([]MessageView, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []models.Message
	if err := tx.Preload("User").Preload("ReplyTo.User").Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Message, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		userIDs = append(userIDs, m.UserID)
	}
	var profiles []models.Profile
	if err := tx.Where("user_id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, err
	}
	byUser := make(map[uint]models.Profile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}
	likes, dislikes, err := voteCounts(tx, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			continue
		}
		p := byUser[m.UserID]
		v := MessageView{
			ID:        m.ID,
			Room:      roomName,
			UserID:    m.UserID,
			Username:  m.User.Username,
			Content:   m.Content,
			Deleted:   m.IsDeleted,
			ImageURL:  m.ImageURL,
			AudioURL:  m.AudioURL,
			FileURL:   m.FileURL,
			Tier:      reward.TierName(p.XP),
			Aura:      p.Aura,
			AvatarURL: p.AvatarURL,
			Likes:     likes[m.ID],
			Dislikes:  dislikes[m.ID],
			CreatedAt: m.CreatedAt,
		}
		if m.IsDeleted {
			v.Content = DeletedPlaceholder
			v.ImageURL, v.AudioURL, v.FileURL = "", "", ""
		}
		if m.ReplyTo != nil {
			rc := &ReplyContext{ID: m.ReplyTo.ID, Username: m.ReplyTo.User.Username, Message: m.ReplyTo.Content}
			if m.ReplyTo.IsDeleted {
				rc.Message = DeletedPlaceholder
			}
			v.Reply = rc
		}
		out = append(out, v)
	}
	return out, nil
}
