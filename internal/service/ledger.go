package service

import (
	"context"
	"fmt"
	"time"

	"airspace/internal/clock"
	"airspace/internal/models"
	"airspace/internal/reward"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 奖励来源，同时作为事件与指标的标签。
const (
	SourceMessage   = "message"
	SourceMsgBonus  = "daily_msg_bonus"
	SourceLogin     = "daily_login"
	SourceStreak7   = "streak_7_day"
	SourceStreak30  = "streak_30_day"
	SourceAdXP      = "ad_xp"
	SourceAdAura    = "ad_aura"
	SourceLike      = "like"
	SourceFirstLike = "first_like_bonus"
	SourceUnlike    = "unlike"
	SourceDislike   = "dislike"
	SourceUndislike = "undislike"
	SourceAdmin     = "admin"

	KindXP   = "xp"
	KindAura = "aura"
)

// Grant 记录一次已经持久化的 XP 或 aura 变动。
type Grant struct {
	UserID     uint    `json:"user_id"`
	Kind       string  `json:"kind"`
	Source     string  `json:"source"`
	Base       int     `json:"base"`
	Multiplier float64 `json:"multiplier"`
	Amount     int     `json:"amount"`
}

// Ledger 负责所有按用户串行的奖励读改写：XP、aura、streak 与每日额度。
// 同一用户的并发请求先拿进程内的用户锁，再在事务里对 profile 行加 FOR UPDATE。
type Ledger struct {
	db      *gorm.DB
	clock   clock.Clock
	loc     *time.Location
	locks   *userLocks
	configs *SiteConfigs
}

func NewLedger(db *gorm.DB, clk clock.Clock, loc *time.Location, configs *SiteConfigs) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{db: db, clock: clk, loc: loc, locks: newUserLocks(), configs: configs}
}

// Today 返回业务时区下的今天。
func (l *Ledger) Today() string { return clock.Today(l.clock, l.loc) }

// Now 返回 ledger 时钟的当前时间。
func (l *Ledger) Now() time.Time { return l.clock.Now() }

// Location 返回业务时区。
func (l *Ledger) Location() *time.Location { return l.loc }

// withUser 持有 userID 的锁执行一个事务，事务失败时所有奖励一起回滚。
func (l *Ledger) withUser(ctx context.Context, userID uint, fn func(tx *gorm.DB) error) error {
	unlock := l.locks.lock(userID)
	defer unlock()
	return l.db.WithContext(ctx).Transaction(fn)
}

// GrantXP 按当前 streak 与 booster 结算 XP 并写入 profile。
func (l *Ledger) GrantXP(ctx context.Context, userID uint, base int, source string) (Grant, error) {
	var g Grant
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, userID); err != nil {
			return err
		}
		var err error
		g, err = grantXP(tx, userID, base, source, l.Today())
		return err
	})
	return g, err
}

// AdjustAura 直接增减 aura，可以变成负数。
func (l *Ledger) AdjustAura(ctx context.Context, userID uint, delta int, source string) (Grant, error) {
	var g Grant
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		if _, err := lockProfile(tx, userID); err != nil {
			return err
		}
		var err error
		g, err = addAura(tx, userID, delta, source)
		return err
	})
	return g, err
}

// Daily 返回今天的每日记录，不存在时创建。
func (l *Ledger) Daily(ctx context.Context, userID uint) (models.DailyActivity, error) {
	var d models.DailyActivity
	err := l.withUser(ctx, userID, func(tx *gorm.DB) error {
		row, err := dailyFor(tx, userID, l.Today())
		if err != nil {
			return err
		}
		d = *row
		return nil
	})
	return d, err
}

// lockProfile 在事务内锁住用户的 profile 行。SQLite 会忽略锁子句，由用户锁兜底。
func lockProfile(tx *gorm.DB, userID uint) (*models.Profile, error) {
	var p models.Profile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		return nil, notFound(err, "profile")
	}
	return &p, nil
}

// grantXP 是 GrantXP 的事务内版本，调用方必须已持有该用户的锁。
func grantXP(tx *gorm.DB, userID uint, base int, source, day string) (Grant, error) {
	g := Grant{UserID: userID, Kind: KindXP, Source: source, Base: base, Multiplier: 1}
	if base <= 0 {
		return g, nil
	}
	streak, err := streakFor(tx, userID)
	if err != nil {
		return g, err
	}
	// 只读当天记录，不为了判断 booster 而创建新行。
	var d models.DailyActivity
	if err := tx.Where("user_id = ? AND day = ?", userID, day).Limit(1).Find(&d).Error; err != nil {
		return g, err
	}
	booster := d.ID != 0 && d.BoosterClaimed

	g.Multiplier = reward.Multiplier(streak.CurrentStreak, booster)
	g.Amount = reward.Apply(base, g.Multiplier)
	return g, addXP(tx, userID, g.Amount)
}

// flatXP 不乘倍率，用于每条消息的基础 XP。
func flatXP(tx *gorm.DB, userID uint, amount int, source string) (Grant, error) {
	g := Grant{UserID: userID, Kind: KindXP, Source: source, Base: amount, Multiplier: 1, Amount: amount}
	if amount <= 0 {
		g.Amount = 0
		return g, nil
	}
	return g, addXP(tx, userID, amount)
}

func addXP(tx *gorm.DB, userID uint, amount int) error {
	res := tx.Model(&models.Profile{}).Where("user_id = ?", userID).
		Update("xp", gorm.Expr("xp + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("grant xp: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("grant xp: profile of user %d: %w", userID, ErrNotFound)
	}
	return nil
}

func addAura(tx *gorm.DB, userID uint, delta int, source string) (Grant, error) {
	g := Grant{UserID: userID, Kind: KindAura, Source: source, Base: delta, Multiplier: 1, Amount: delta}
	if delta == 0 {
		return g, nil
	}
	res := tx.Model(&models.Profile{}).Where("user_id = ?", userID).
		Update("aura", gorm.Expr("aura + ?", delta))
	if res.Error != nil {
		return g, fmt.Errorf("adjust aura: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return g, fmt.Errorf("adjust aura: profile of user %d: %w", userID, ErrNotFound)
	}
	return g, nil
}

// dailyFor 是 getOrCreateToday：按 (user, day) 惰性创建当天记录。
func dailyFor(tx *gorm.DB, userID uint, day string) (*models.DailyActivity, error) {
	d := models.DailyActivity{UserID: userID, Day: day}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&d).Error
	if err != nil {
		return nil, fmt.Errorf("daily activity: %w", err)
	}
	var row models.DailyActivity
	if err := tx.Where("user_id = ? AND day = ?", userID, day).First(&row).Error; err != nil {
		return nil, fmt.Errorf("daily activity: %w", err)
	}
	return &row, nil
}

// saveDaily 用 map 写回，零值字段也会落库。
func saveDaily(tx *gorm.DB, d *models.DailyActivity) error {
	return tx.Model(&models.DailyActivity{}).Where("id = ?", d.ID).Updates(map[string]any{
		"login_claimed":       d.LoginClaimed,
		"messages_sent_today": d.MessagesSentToday,
		"msg_bonus_claimed":   d.MsgBonusClaimed,
		"first_like_received": d.FirstLikeReceived,
		"xp_ads_watched":      d.XPAdsWatched,
		"aura_ads_watched":    d.AuraAdsWatched,
		"booster_claimed":     d.BoosterClaimed,
	}).Error
}
