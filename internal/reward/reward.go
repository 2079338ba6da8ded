// Package reward 是奖励账本的纯计算部分：连续天数倍率、XP 结算、段位与每日上限。
// 这里不做任何 I/O，持久化由 service 包负责。
package reward

import "math"

// 每日额度上限，由调用方在领取时检查。
const (
	XPAdLimit       = 5
	AuraAdLimit     = 7
	BoosterLimit    = 1
	MsgBonusAt      = 5
	BoosterBonus    = 0.5
	MaxMultiplier   = 3.5
	Milestone7Days  = 7
	Milestone30Days = 30
	// Milestone30Aura 是 30 天连续时额外发放的 aura。
	Milestone30Aura = 100
)

var progression = map[int]float64{
	2: 1.5, 3: 1.8, 4: 2.0, 5: 2.1,
	6: 2.2, 7: 2.4, 8: 2.5, 9: 2.6, 10: 2.7,
}

// StreakMultiplier 根据连续天数返回 XP 倍率，超过 10 天后每天 +0.05，封顶 3.5。
func StreakMultiplier(days int) float64 {
	if days <= 1 {
		return 1.0
	}
	if m, ok := progression[days]; ok {
		return m
	}
	return math.Min(2.7+float64(days-10)*0.05, MaxMultiplier)
}

// Multiplier 在连续倍率之上叠加当日 booster。
func Multiplier(streak int, booster bool) float64 {
	m := StreakMultiplier(streak)
	if booster {
		m += BoosterBonus
	}
	return m
}

// Apply 返回 floor(base × mult)。加一个极小量避免 10×2.9 因浮点误差算成 28。
func Apply(base int, mult float64) int {
	if base <= 0 {
		return 0
	}
	return int(math.Floor(float64(base)*mult + 1e-9))
}
