package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreakMultiplier_Table(t *testing.T) {
	tests := []struct {
		days int
		want float64
	}{
		{-3, 1.0}, {0, 1.0}, {1, 1.0},
		{2, 1.5}, {3, 1.8}, {4, 2.0}, {5, 2.1}, {6, 2.2},
		{7, 2.4}, {8, 2.5}, {9, 2.6}, {10, 2.7},
		{11, 2.75}, {20, 3.2}, {26, 3.5}, {30, 3.5}, {365, 3.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, StreakMultiplier(tt.days), 1e-9, "days=%d", tt.days)
	}
}

func TestStreakMultiplier_MonotonicAndCapped(t *testing.T) {
	prev := StreakMultiplier(0)
	for d := 1; d <= 1000; d++ {
		m := StreakMultiplier(d)
		assert.GreaterOrEqual(t, m, prev, "day %d decreased", d)
		assert.LessOrEqual(t, m, MaxMultiplier, "day %d above cap", d)
		prev = m
	}
}

func TestApply(t *testing.T) {
	assert.Equal(t, 24, Apply(10, Multiplier(7, false)))
	assert.Equal(t, 29, Apply(10, Multiplier(7, true)))
	assert.Equal(t, 19, Apply(19, Multiplier(1, false)))
	assert.Equal(t, 28, Apply(19, Multiplier(2, false)))
	assert.Equal(t, 15, Apply(10, Multiplier(0, true)))
	assert.Equal(t, 0, Apply(0, 3.5))
	assert.Equal(t, 0, Apply(-5, 2.0))
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		xp       int
		name     string
		next     int
		progress int
	}{
		{-10, "BRONZE", 100, 0},
		{0, "BRONZE", 100, 0},
		{50, "BRONZE", 100, 50},
		{100, "GOLD", 1000, 0},
		{550, "GOLD", 1000, 50},
		{5000, "DIAMOND", 10000, 0},
		{499999, "CONQUEROR", 500000, 99},
		{500000, "LEGEND", 500000, 100},
		{900000, "LEGEND", 500000, 100},
	}
	for _, tt := range tests {
		got := TierFor(tt.xp)
		assert.Equal(t, tt.name, got.Name, "xp=%d", tt.xp)
		assert.Equal(t, tt.next, got.NextXP, "xp=%d", tt.xp)
		assert.Equal(t, tt.progress, got.Progress, "xp=%d", tt.xp)
	}
}

func TestTierFor_Monotonic(t *testing.T) {
	rank := map[string]int{}
	for i, tr := range tiers {
		rank[tr.Name] = len(tiers) - i
	}
	prev := rank[TierName(0)]
	for xp := 0; xp <= 600000; xp += 250 {
		r := rank[TierName(xp)]
		assert.GreaterOrEqual(t, r, prev, "xp=%d", xp)
		prev = r
	}
}
