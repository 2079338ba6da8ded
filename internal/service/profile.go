package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"airspace/internal/models"
	"airspace/internal/reward"

	"gorm.io/gorm"
)

// 可选主题。
var themes = map[string]struct{}{
	"soft-glass": {},
	"midnight":   {},
	"aurora":     {},
	"sunset":     {},
	"classic":    {},
}

// ProfileService 处理资料编辑、排行榜与活跃度记录，XP/aura 只由 Ledger 修改。
type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

// ProfileDTO 是对外输出的用户资料。
type ProfileDTO struct {
	UserID           uint        `json:"user_id"`
	Username         string      `json:"username"`
	DisplayName      string      `json:"display_name"`
	AvatarURL        string      `json:"avatar_url,omitempty"`
	XP               int         `json:"xp"`
	Aura             int         `json:"aura"`
	Tier             reward.Tier `json:"tier"`
	Theme            string      `json:"theme"`
	SubscriptionTier string      `json:"subscription_tier"`
	City             string      `json:"city"`
	Favorites        []uint      `json:"favorites"`
}

// Get 返回用户资料。
func (s *ProfileService) Get(ctx context.Context, userID uint) (*ProfileDTO, error) {
	var u models.User
	err := s.db.WithContext(ctx).Preload("Profile.Favorites").First(&u, userID).Error
	if err != nil {
		return nil, notFound(err, "user")
	}
	return toProfileDTO(u), nil
}

func toProfileDTO(u models.User) *ProfileDTO {
	p := u.Profile
	favs := make([]uint, 0, len(p.Favorites))
	for _, t := range p.Favorites {
		favs = append(favs, t.ID)
	}
	return &ProfileDTO{
		UserID:           u.ID,
		Username:         u.Username,
		DisplayName:      p.DisplayName,
		AvatarURL:        p.AvatarURL,
		XP:               p.XP,
		Aura:             p.Aura,
		Tier:             reward.TierFor(p.XP),
		Theme:            p.Theme,
		SubscriptionTier: p.SubscriptionTier,
		City:             p.City,
		Favorites:        favs,
	}
}

// LeaderRow 是排行榜中的一行。
type LeaderRow struct {
	Rank     int    `json:"rank"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	XP       int    `json:"xp"`
	Aura     int    `json:"aura"`
	Tier     string `json:"tier"`
}

// Leaderboard 按 xp 或 aura 倒序返回前 limit 名。
func (s *ProfileService) Leaderboard(ctx context.Context, by string, limit int) ([]LeaderRow, error) {
	if by != KindXP && by != KindAura {
		return nil, fmt.Errorf("leaderboard by %q: %w", by, ErrUnknownBoard)
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var rows []struct {
		UserID   uint
		Username string
		XP       int
		Aura     int
	}
	err := s.db.WithContext(ctx).Table("profiles").
		Select("profiles.user_id, users.username, profiles.xp, profiles.aura").
		Joins("JOIN users ON users.id = profiles.user_id").
		Where("users.is_active = ?", true).
		Order("profiles." + by + " desc").Order("profiles.user_id asc").
		Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]LeaderRow, 0, len(rows))
	for i, r := range rows {
		out = append(out, LeaderRow{
			Rank: i + 1, UserID: r.UserID, Username: r.Username,
			XP: r.XP, Aura: r.Aura, Tier: reward.TierName(r.XP),
		})
	}
	return out, nil
}

// UpdateTheme 修改界面主题，未知主题返回 ErrUnknownTheme。
func (s *ProfileService) UpdateTheme(ctx context.Context, userID uint, theme string) error {
	theme = strings.TrimSpace(theme)
	if _, ok := themes[theme]; !ok {
		return fmt.Errorf("theme %q: %w", theme, ErrUnknownTheme)
	}
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).Update("theme", theme)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile of user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// ToggleFavorite 收藏或取消收藏一首曲目，返回操作后是否处于收藏状态。
func (s *ProfileService) ToggleFavorite(ctx context.Context, userID, trackID uint) (bool, error) {
	var favored bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Profile
		if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
			return notFound(err, "profile")
		}
		var track models.MusicTrack
		if err := tx.First(&track, trackID).Error; err != nil {
			return notFound(err, "track")
		}
		var n int64
		err := tx.Table("profile_favorites").
			Where("profile_id = ? AND music_track_id = ?", p.ID, track.ID).Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			favored = false
			return tx.Model(&p).Association("Favorites").Delete(&track)
		}
		favored = true
		return tx.Model(&p).Association("Favorites").Append(&track)
	})
	return favored, err
}

// Touch 记录最近活跃时间与设备类型。
func (s *ProfileService) Touch(ctx context.Context, userID uint, mobile bool, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Profile{}).Where("user_id = ?", userID).
		Updates(map[string]any{"last_activity": at, "is_mobile": mobile}).Error
}
