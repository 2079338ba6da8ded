package service

import (
	"context"

	"airspace/internal/clock"
	"airspace/internal/models"
	"airspace/internal/reward"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StreakOutcome 描述一次“有效行为”对 streak 的影响。
type StreakOutcome struct {
	Previous  int     `json:"previous"`
	Current   int     `json:"current"`
	Highest   int     `json:"highest"`
	Changed   bool    `json:"changed"`
	Reset     bool    `json:"reset"`
	Milestone int     `json:"milestone,omitempty"`
	Grants    []Grant `json:"grants,omitempty"`
}

// UpdateStreak 记录一次有效行为（目前是发送消息）。同一天重复调用是空操作。
func (l *Ledger) UpdateStreak(ctx context.Context, userID uint) (StreakOutcome, error) {
	var out StreakOutcome
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, userID); err != nil {
			return err
		}
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		out, err = updateStreak(tx, userID, l.Today(), cfg)
		return err
	})
	return out, err
}

// streakFor 只读，用户从未触发过时返回零值。
func streakFor(tx *gorm.DB, userID uint) (models.UserStreak, error) {
	var s models.UserStreak
	err := tx.Where("user_id = ?", userID).Limit(1).Find(&s).Error
	return s, err
}

// streakForUpdate 读取或创建 streak 行。
func streakForUpdate(tx *gorm.DB, userID uint) (*models.UserStreak, error) {
	s := models.UserStreak{UserID: userID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
		return nil, err
	}
	var row models.UserStreak
	if err := tx.Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func saveStreak(tx *gorm.DB, s *models.UserStreak) error {
	return tx.Model(&models.UserStreak{}).Where("id = ?", s.ID).Updates(map[string]any{
		"current_streak":       s.CurrentStreak,
		"highest_streak":       s.HighestStreak,
		"last_action_date":     s.LastActionDate,
		"is_frozen":            s.IsFrozen,
		"recovery_ads_watched": s.RecoveryAdsWatched,
	}).Error
}

// updateStreak 推进状态机：Fresh -> Active(1)；隔 1 天 -> Active(n+1)；隔多天 -> Active(1)。
// 到达 7 天与 30 天时发放里程碑奖励，倍率按新的天数计算。
func updateStreak(tx *gorm.DB, userID uint, today string, cfg models.SiteConfig) (StreakOutcome, error) {
	s, err := streakForUpdate(tx, userID)
	if err != nil {
		return StreakOutcome{}, err
	}
	out := StreakOutcome{Previous: s.CurrentStreak, Current: s.CurrentStreak, Highest: s.HighestStreak}

	if s.LastActionDate == nil {
		s.CurrentStreak = 1
	} else {
		gap, err := clock.DaysBetween(*s.LastActionDate, today)
		if err != nil {
			return out, err
		}
		switch {
		case gap <= 0:
			// 今天已经计过，或时区调整导致记录在未来。
			return out, nil
		case gap == 1:
			s.CurrentStreak++
			switch s.CurrentStreak {
			case reward.Milestone7Days, reward.Milestone30Days:
				out.Milestone = s.CurrentStreak
			}
		default:
			s.CurrentStreak = 1
			s.RecoveryAdsWatched = 0
			out.Reset = true
		}
	}

	day := today
	s.LastActionDate = &day
	s.IsFrozen = false
	if s.CurrentStreak > s.HighestStreak {
		s.HighestStreak = s.CurrentStreak
	}
	if err := saveStreak(tx, s); err != nil {
		return out, err
	}
	out.Current = s.CurrentStreak
	out.Highest = s.HighestStreak
	out.Changed = true

	switch out.Milestone {
	case reward.Milestone7Days:
		g, err := grantXP(tx, userID, cfg.StreakBonus7Day, SourceStreak7, today)
		if err != nil {
			return out, err
		}
		out.Grants = append(out.Grants, g)
	case reward.Milestone30Days:
		g, err := grantXP(tx, userID, cfg.StreakBonus30Day, SourceStreak30, today)
		if err != nil {
			return out, err
		}
		a, err := addAura(tx, userID, reward.Milestone30Aura, SourceStreak30)
		if err != nil {
			return out, err
		}
		out.Grants = append(out.Grants, g, a)
	}
	return out, nil
}
