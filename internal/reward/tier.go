package reward

type Tier struct {
	Name     string `json:"name"`
	Floor    int    `json:"floor"`
	NextXP   int    `json:"next_xp"`
	Progress int    `json:"progress"`
}

// tiers 按门槛从高到低排列。
var tiers = []struct {
	Name  string
	Floor int
}{
	{"LEGEND", 500000},
	{"CONQUEROR", 200000},
	{"DOMINATOR", 100000},
	{"MASTER", 50000},
	{"ACE", 25000},
	{"CROWN", 10000},
	{"DIAMOND", 5000},
	{"PLATINUM", 1000},
	{"GOLD", 100},
	{"BRONZE", 0},
}

// TierFor 是 xp 的单调函数；负 xp 视为 BRONZE。
// 最高段位的 NextXP 等于自身门槛，Progress 为 100。
func TierFor(xp int) Tier {
	for i, t := range tiers {
		if xp < t.Floor {
			continue
		}
		if i == 0 {
			return Tier{Name: t.Name, Floor: t.Floor, NextXP: t.Floor, Progress: 100}
		}
		next := tiers[i-1].Floor
		progress := (xp - t.Floor) * 100 / (next - t.Floor)
		return Tier{Name: t.Name, Floor: t.Floor, NextXP: next, Progress: progress}
	}
	return Tier{Name: "BRONZE", Floor: 0, NextXP: 100, Progress: 0}
}

// TierName 是 TierFor(xp).Name 的简写。
func TierName(xp int) string { return TierFor(xp).Name }
