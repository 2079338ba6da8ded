package service

import (
	"context"
	"fmt"

	"airspace/internal/clock"
	"airspace/internal/models"
	"airspace/internal/reward"

	"gorm.io/gorm"
)

// ClaimStatus 是每日额度类操作的结果，额度用尽不是错误。
type ClaimStatus string

const (
	ClaimGranted        ClaimStatus = "granted"
	ClaimProgress       ClaimStatus = "progress"
	ClaimQuotaExhausted ClaimStatus = "quota_exhausted"
	ClaimAlreadyClaimed ClaimStatus = "already_claimed"
	ClaimNotApplicable  ClaimStatus = "not_applicable"
)

type AdKind string

const (
	AdXP      AdKind = "xp"
	AdAura    AdKind = "aura"
	AdBooster AdKind = "booster"
	AdRecover AdKind = "recover"
)

type ClaimResult struct {
	Status  ClaimStatus `json:"status"`
	Message string      `json:"msg"`
	Amount  int         `json:"amount,omitempty"`
	Count   int         `json:"count"`
	Limit   int         `json:"limit,omitempty"`
	Grants  []Grant     `json:"-"`
}

// ClaimAd 处理看广告奖励；上限在这里检查而不是在存储层。
func (l *Ledger) ClaimAd(ctx context.Context, userID uint, kind AdKind) (ClaimResult, error) {
	switch kind {
	case AdXP, AdAura, AdBooster, AdRecover:
	default:
		return ClaimResult{}, fmt.Errorf("claim %q: %w", kind, ErrUnknownAd)
	}

	var res ClaimResult
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, userID); err != nil {
			return err
		}
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		today := l.Today()
		if kind == AdRecover {
			res, err = recoverStreak(tx, userID, today, cfg)
			return err
		}
		d, err := dailyFor(tx, userID, today)
		if err != nil {
			return err
		}
		switch kind {
		case AdXP:
			res, err = claimXPAd(tx, d, cfg)
		case AdAura:
			res, err = claimAuraAd(tx, d, cfg)
		case AdBooster:
			res, err = claimBooster(tx, d)
		}
		return err
	})
	return res, err
}

// claimXPAd 发放固定数额，不乘 streak 倍率。
func claimXPAd(tx *gorm.DB, d *models.DailyActivity, cfg models.SiteConfig) (ClaimResult, error) {
	res := ClaimResult{Count: d.XPAdsWatched, Limit: reward.XPAdLimit}
	if d.XPAdsWatched >= reward.XPAdLimit {
		res.Status = ClaimQuotaExhausted
		res.Message = "Daily limit reached"
		return res, nil
	}
	g, err := flatXP(tx, d.UserID, cfg.AdXPReward, SourceAdXP)
	if err != nil {
		return res, err
	}
	d.XPAdsWatched++
	if err := saveDaily(tx, d); err != nil {
		return res, err
	}
	res.Status = ClaimGranted
	res.Amount = g.Amount
	res.Count = d.XPAdsWatched
	res.Message = fmt.Sprintf("+%d XP", g.Amount)
	res.Grants = []Grant{g}
	return res, nil
}

func claimAuraAd(tx *gorm.DB, d *models.DailyActivity, cfg models.SiteConfig) (ClaimResult, error) {
	res := ClaimResult{Count: d.AuraAdsWatched, Limit: reward.AuraAdLimit}
	if d.AuraAdsWatched >= reward.AuraAdLimit {
		res.Status = ClaimQuotaExhausted
		res.Message = "Daily limit reached"
		return res, nil
	}
	g, err := addAura(tx, d.UserID, cfg.AdAuraReward, SourceAdAura)
	if err != nil {
		return res, err
	}
	d.AuraAdsWatched++
	if err := saveDaily(tx, d); err != nil {
		return res, err
	}
	res.Status = ClaimGranted
	res.Amount = g.Amount
	res.Count = d.AuraAdsWatched
	res.Message = fmt.Sprintf("+%d Aura", g.Amount)
	res.Grants = []Grant{g}
	return res, nil
}

func claimBooster(tx *gorm.DB, d *models.DailyActivity) (ClaimResult, error) {
	res := ClaimResult{Limit: reward.BoosterLimit}
	if d.BoosterClaimed {
		res.Status = ClaimAlreadyClaimed
		res.Count = 1
		res.Message = "Already claimed today"
		return res, nil
	}
	d.BoosterClaimed = true
	if err := saveDaily(tx, d); err != nil {
		return res, err
	}
	res.Status = ClaimGranted
	res.Count = 1
	res.Message = fmt.Sprintf("+%.1fx XP booster active", reward.BoosterBonus)
	return res, nil
}

// recoverStreak 只在 streak 已断（上次行为距今超过 1 天）时可用。
// 看满 streak_recover_cost 次广告后把最后行为日期改为今天，计数清零。
func recoverStreak(tx *gorm.DB, userID uint, today string, cfg models.SiteConfig) (ClaimResult, error) {
	cost := cfg.StreakRecoverCost
	if cost <= 0 {
		cost = 1
	}
	res := ClaimResult{Limit: cost}
	s, err := streakForUpdate(tx, userID)
	if err != nil {
		return res, err
	}
	broken := false
	if s.LastActionDate != nil && s.CurrentStreak > 0 {
		gap, err := clock.DaysBetween(*s.LastActionDate, today)
		if err != nil {
			return res, err
		}
		broken = gap > 1
	}
	if !broken {
		res.Status = ClaimNotApplicable
		res.Count = s.RecoveryAdsWatched
		res.Message = "Streak is not broken"
		return res, nil
	}

	s.RecoveryAdsWatched++
	if s.RecoveryAdsWatched >= cost {
		day := today
		s.LastActionDate = &day
		s.RecoveryAdsWatched = 0
		s.IsFrozen = false
		res.Status = ClaimGranted
		res.Count = cost
		res.Message = "Streak Recovered!"
	} else {
		s.IsFrozen = true
		res.Status = ClaimProgress
		res.Count = s.RecoveryAdsWatched
		res.Message = fmt.Sprintf("%d/%d Watched", s.RecoveryAdsWatched, cost)
	}
	return res, saveStreak(tx, s)
}

// ClaimLoginBonus 每天第一次活跃时发放登录 XP。
func (l *Ledger) ClaimLoginBonus(ctx context.Context, userID uint) (ClaimResult, error) {
	var res ClaimResult
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, userID); err != nil {
			return err
		}
		cfg, err := loadSiteConfig(tx)
		if err != nil {
			return err
		}
		today := l.Today()
		d, err := dailyFor(tx, userID, today)
		if err != nil {
			return err
		}
		res.Limit = 1
		if d.LoginClaimed {
			res.Status = ClaimAlreadyClaimed
			res.Count = 1
			res.Message = "Already claimed today"
			return nil
		}
		g, err := grantXP(tx, userID, cfg.DailyLoginXP, SourceLogin, today)
		if err != nil {
			return err
		}
		d.LoginClaimed = true
		if err := saveDaily(tx, d); err != nil {
			return err
		}
		res.Status = ClaimGranted
		res.Amount = g.Amount
		res.Count = 1
		res.Message = fmt.Sprintf("+%d XP", g.Amount)
		res.Grants = []Grant{g}
		return nil
	})
	return res, err
}

// DailyOutcome 是发消息对当天计数的影响。
type DailyOutcome struct {
	MessagesToday int    `json:"messages_today"`
	BonusGranted  bool   `json:"bonus_granted"`
	Grant         *Grant `json:"grant,omitempty"`
}

// countMessage 计入当天消息数，正好第 5 条时发放一次消息奖励。
func countMessage(tx *gorm.DB, userID uint, today string, cfg models.SiteConfig) (DailyOutcome, error) {
	d, err := dailyFor(tx, userID, today)
	if err != nil {
		return DailyOutcome{}, err
	}
	d.MessagesSentToday++
	out := DailyOutcome{MessagesToday: d.MessagesSentToday}
	if d.MessagesSentToday == reward.MsgBonusAt && !d.MsgBonusClaimed {
		g, err := grantXP(tx, userID, cfg.DailyMsgBonusXP, SourceMsgBonus, today)
		if err != nil {
			return out, err
		}
		d.MsgBonusClaimed = true
		out.BonusGranted = true
		out.Grant = &g
	}
	return out, saveDaily(tx, d)
}

// RewardStatus 是只读的奖励面板数据。
type RewardStatus struct {
	XP                 int         `json:"xp"`
	Aura               int         `json:"aura"`
	Tier               reward.Tier `json:"tier"`
	CurrentStreak      int         `json:"current_streak"`
	HighestStreak      int         `json:"highest_streak"`
	LastActionDate     *string     `json:"last_action_date"`
	IsFrozen           bool        `json:"is_frozen"`
	StreakBroken       bool        `json:"streak_broken"`
	RecoveryAdsWatched int         `json:"recovery_ads_watched"`
	Multiplier         float64     `json:"multiplier"`
	Today              string      `json:"today"`
	MessagesToday      int         `json:"messages_today"`
	MsgBonusClaimed    bool        `json:"msg_bonus_claimed"`
	LoginClaimed       bool        `json:"login_claimed"`
	XPAdsWatched       int         `json:"xp_ads_watched"`
	AuraAdsWatched     int         `json:"aura_ads_watched"`
	BoosterClaimed     bool        `json:"booster_claimed"`
}

// Status 汇总用户的奖励状态，不会创建当天记录。
func (l *Ledger) Status(ctx context.Context, userID uint) (RewardStatus, error) {
	tx := l.db.WithContext(ctx)
	today := l.Today()
	var p models.Profile
	if err := tx.Where("user_id = ?", userID).First(&p).Error; err != nil {
		return RewardStatus{}, notFound(err, "profile")
	}
	s, err := streakFor(tx, userID)
	if err != nil {
		return RewardStatus{}, err
	}
	var d models.DailyActivity
	if err := tx.Where("user_id = ? AND day = ?", userID, today).Limit(1).Find(&d).Error; err != nil {
		return RewardStatus{}, err
	}
	st := RewardStatus{
		XP:                 p.XP,
		Aura:               p.Aura,
		Tier:               reward.TierFor(p.XP),
		CurrentStreak:      s.CurrentStreak,
		HighestStreak:      s.HighestStreak,
		LastActionDate:     s.LastActionDate,
		IsFrozen:           s.IsFrozen,
		RecoveryAdsWatched: s.RecoveryAdsWatched,
		Multiplier:         reward.Multiplier(s.CurrentStreak, d.BoosterClaimed),
		Today:              today,
		MessagesToday:      d.MessagesSentToday,
		MsgBonusClaimed:    d.MsgBonusClaimed,
		LoginClaimed:       d.LoginClaimed,
		XPAdsWatched:       d.XPAdsWatched,
		AuraAdsWatched:     d.AuraAdsWatched,
		BoosterClaimed:     d.BoosterClaimed,
	}
	if s.LastActionDate != nil {
		if gap, err := clock.DaysBetween(*s.LastActionDate, today); err == nil {
			st.StreakBroken = gap > 1
		}
	}
	return st, nil
}
