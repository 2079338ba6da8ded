package models

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null;default:''"`
	IsStaff      bool   `gorm:"not null;default:false"`
	IsActive     bool   `gorm:"not null;default:true"`
	Profile      Profile
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile 与 User 一一对应，在创建用户的同一事务里创建。
type Profile struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           uint   `gorm:"uniqueIndex;not null"`
	DisplayName      string `gorm:"size:50"`
	AvatarURL        string `gorm:"size:500"`
	XP               int    `gorm:"index;not null"`
	Aura             int    `gorm:"index;not null"`
	Theme            string `gorm:"size:50;not null"`
	SubscriptionTier string `gorm:"size:50;not null"`
	City             string `gorm:"size:100;not null"`
	IsMobile         bool   `gorm:"not null"`
	LastActivity     time.Time
	Favorites        []MusicTrack `gorm:"many2many:profile_favorites"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type MusicTrack struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:100;not null"`
	Artist    string `gorm:"size:100;not null"`
	AudioURL  string `gorm:"size:500;not null"`
	Category  string `gorm:"size:20;not null"`
	CreatedAt time.Time
}

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:100;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message 删除后只保留 id、作者与位置，内容与附件清空。
type Message struct {
	ID        uint     `gorm:"primaryKey"`
	RoomID    uint     `gorm:"index:idx_msg_room_id;not null"`
	Room      Room     `gorm:"constraint:OnDelete:CASCADE"`
	UserID    uint     `gorm:"index;not null"`
	User      User     `gorm:"constraint:OnDelete:CASCADE"`
	Content   string   `gorm:"type:text;not null"`
	ImageURL  string   `gorm:"size:500"`
	AudioURL  string   `gorm:"size:500"`
	FileURL   string   `gorm:"size:500"`
	ReplyToID *uint    `gorm:"index"`
	ReplyTo   *Message `gorm:"constraint:OnDelete:SET NULL"`
	IsDeleted bool     `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAttachment 报告消息是否带有任意附件。
func (m *Message) HasAttachment() bool {
	return m.ImageURL != "" || m.AudioURL != "" || m.FileURL != ""
}

// MessageLike、MessageDislike、MessageHide 都以 (message, user) 为主键，天然去重。
type MessageLike struct {
	MessageID uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey"`
	CreatedAt time.Time
}

type MessageDislike struct {
	MessageID uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey"`
	CreatedAt time.Time
}

type MessageHide struct {
	MessageID uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

type UserStreak struct {
	ID            uint `gorm:"primaryKey"`
	UserID        uint `gorm:"uniqueIndex;not null"`
	CurrentStreak int  `gorm:"not null"`
	HighestStreak int  `gorm:"not null"`
	// LastActionDate 形如 2006-01-02，从未触发过时为 nil。
	LastActionDate     *string `gorm:"size:10"`
	IsFrozen           bool    `gorm:"not null"`
	RecoveryAdsWatched int     `gorm:"not null"`
	UpdatedAt          time.Time
}

// DailyActivity 每个 (用户, 日期) 一行，跨天不复用，新行即重置。
type DailyActivity struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            uint   `gorm:"uniqueIndex:idx_daily_user_day;not null"`
	Day               string `gorm:"uniqueIndex:idx_daily_user_day;size:10;not null"`
	LoginClaimed      bool   `gorm:"not null"`
	MessagesSentToday int    `gorm:"not null"`
	MsgBonusClaimed   bool   `gorm:"not null"`
	FirstLikeReceived bool   `gorm:"not null"`
	XPAdsWatched      int    `gorm:"not null"`
	AuraAdsWatched    int    `gorm:"not null"`
	BoosterClaimed    bool   `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SiteConfigID 是全站配置唯一一行的主键。
const SiteConfigID = 1

type SiteConfig struct {
	ID                   uint           `gorm:"primaryKey"`
	SiteName             string         `gorm:"size:50;not null" json:"site_name"`
	XPPerMessage         int            `gorm:"not null" json:"xp_per_message"`
	AuraPerLike          int            `gorm:"not null" json:"aura_per_like"`
	AuraPerDislike       int            `gorm:"not null" json:"aura_per_dislike"`
	AnnouncementMinXP    int            `gorm:"not null" json:"announcement_min_xp"`
	DailyLoginXP         int            `gorm:"not null" json:"daily_login_xp"`
	DailyMsgBonusXP      int            `gorm:"not null" json:"daily_msg_bonus_xp"`
	StreakRecoverCost    int            `gorm:"not null" json:"streak_recover_cost"`
	StreakBonus7Day      int            `gorm:"not null" json:"streak_bonus_7_day"`
	StreakBonus30Day     int            `gorm:"not null" json:"streak_bonus_30_day"`
	AdXPReward           int            `gorm:"not null" json:"ad_xp_reward"`
	AdAuraReward         int            `gorm:"not null" json:"ad_aura_reward"`
	SubscriptionPackages datatypes.JSON `json:"subscription_packages"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// DefaultSiteConfig 返回首次创建单例时写入的默认值。
func DefaultSiteConfig() SiteConfig {
	return SiteConfig{
		ID:                   SiteConfigID,
		SiteName:             "AirSpace",
		XPPerMessage:         10,
		AuraPerLike:          15,
		AuraPerDislike:       10,
		AnnouncementMinXP:    500,
		DailyLoginXP:         5,
		DailyMsgBonusXP:      19,
		StreakRecoverCost:    3,
		StreakBonus7Day:      500,
		StreakBonus30Day:     2000,
		AdXPReward:           25,
		AdAuraReward:         30,
		SubscriptionPackages: datatypes.JSON(`{"Pilot":{"price":100,"xp_mult":2},"Ace":{"price":250,"xp_mult":3},"Commander":{"price":500,"xp_mult":4}}`),
	}
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
