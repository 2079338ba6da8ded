package service

import (
	"context"
	"errors"
	"fmt"

	"airspace/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SiteConfigs 读写全站唯一的奖励配置。
type SiteConfigs struct {
	db *gorm.DB
}

func NewSiteConfigs(db *gorm.DB) *SiteConfigs {
	return &SiteConfigs{db: db}
}

// Get 返回当前配置，首次访问时写入默认值。
func (s *SiteConfigs) Get(ctx context.Context) (models.SiteConfig, error) {
	return loadSiteConfig(s.db.WithContext(ctx))
}

// SiteConfigPatch 只覆盖非 nil 字段。
type SiteConfigPatch struct {
	SiteName          *string `json:"site_name"`
	XPPerMessage      *int    `json:"xp_per_message"`
	AuraPerLike       *int    `json:"aura_per_like"`
	AuraPerDislike    *int    `json:"aura_per_dislike"`
	AnnouncementMinXP *int    `json:"announcement_min_xp"`
	DailyLoginXP      *int    `json:"daily_login_xp"`
	DailyMsgBonusXP   *int    `json:"daily_msg_bonus_xp"`
	StreakRecoverCost *int    `json:"streak_recover_cost"`
	StreakBonus7Day   *int    `json:"streak_bonus_7_day"`
	StreakBonus30Day  *int    `json:"streak_bonus_30_day"`
	AdXPReward        *int    `json:"ad_xp_reward"`
	AdAuraReward      *int    `json:"ad_aura_reward"`
}

// Update 由管理接口调用，修改后立即对后续奖励事务生效。
func (s *SiteConfigs) Update(ctx context.Context, p SiteConfigPatch) (models.SiteConfig, error) {
	var out models.SiteConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		setStr(&cfg.SiteName, p.SiteName)
		for _, f := range []struct {
			dst *int
			src *int
		}{
			{&cfg.XPPerMessage, p.XPPerMessage},
			{&cfg.AuraPerLike, p.AuraPerLike},
			{&cfg.AuraPerDislike, p.AuraPerDislike},
			{&cfg.AnnouncementMinXP, p.AnnouncementMinXP},
			{&cfg.DailyLoginXP, p.DailyLoginXP},
			{&cfg.DailyMsgBonusXP, p.DailyMsgBonusXP},
			{&cfg.StreakRecoverCost, p.StreakRecoverCost},
			{&cfg.StreakBonus7Day, p.StreakBonus7Day},
			{&cfg.StreakBonus30Day, p.StreakBonus30Day},
			{&cfg.AdXPReward, p.AdXPReward},
			{&cfg.AdAuraReward, p.AdAuraReward},
		} {
			if f.src == nil {
				continue
			}
			if *f.src < 0 {
				return fmt.Errorf("site config: negative value %d: %w", *f.src, ErrInvalidConfig)
			}
			*f.dst = *f.src
		}
		if cfg.StreakRecoverCost == 0 {
			cfg.StreakRecoverCost = 1
		}
		if err := tx.Save(&cfg).Error; err != nil {
			return err
		}
		out = cfg
		return nil
	})
	return out, err
}

func setStr(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

// loadSiteConfig 在给定事务内读取单例，不存在时以默认值创建。
func loadSiteConfig(tx *gorm.DB) (models.SiteConfig, error) {
	var cfg models.SiteConfig
	err := tx.First(&cfg, models.SiteConfigID).Error
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return cfg, err
	}
	def := models.DefaultSiteConfig()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return cfg, err
	}
	err = tx.First(&cfg, models.SiteConfigID).Error
	return cfg, err
}
