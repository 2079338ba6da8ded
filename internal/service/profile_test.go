package service

import (
	"testing"
	"time"

	"airspace/internal/models"
	"airspace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	svc := NewProfileService(f.db)
	for name, xp := range map[string]int{"alice": 300, "bob": 1200, "carol": 50} {
		u := testutil.CreateUser(t, f.db, name)
		require.NoError(t, f.db.Model(&models.Profile{}).Where("user_id = ?", u.ID).
			Updates(map[string]any{"xp": xp, "aura": -xp}).Error)
	}

	rows, err := svc.Leaderboard(f.ctx, KindXP, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0].Username)
	assert.Equal(t, "PLATINUM", rows[0].Tier)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, "alice", rows[1].Username)

	rows, err = svc.Leaderboard(f.ctx, KindAura, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "carol", rows[0].Username)

	_, err = svc.Leaderboard(f.ctx, "likes", 10)
	assert.ErrorIs(t, err, ErrUnknownBoard)
}

func TestUpdateTheme(t *testing.T) {
	f := newFixture(t)
	svc := NewProfileService(f.db)
	u := testutil.CreateUser(t, f.db, "alice")

	require.NoError(t, svc.UpdateTheme(f.ctx, u.ID, "midnight"))
	assert.Equal(t, "midnight", testutil.Profile(t, f.db, u.ID).Theme)
	assert.ErrorIs(t, svc.UpdateTheme(f.ctx, u.ID, "neon"), ErrUnknownTheme)
	assert.ErrorIs(t, svc.UpdateTheme(f.ctx, 9999, "midnight"), ErrNotFound)
}

func TestToggleFavorite(t *testing.T) {
	f := newFixture(t)
	svc := NewProfileService(f.db)
	u := testutil.CreateUser(t, f.db, "alice")
	track := models.MusicTrack{Title: "Skyline", Artist: "Jet", AudioURL: "/media/tracks/skyline.mp3", Category: "lofi"}
	require.NoError(t, f.db.Create(&track).Error)

	on, err := svc.ToggleFavorite(f.ctx, u.ID, track.ID)
	require.NoError(t, err)
	assert.True(t, on)

	dto, err := svc.Get(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{track.ID}, dto.Favorites)

	on, err = svc.ToggleFavorite(f.ctx, u.ID, track.ID)
	require.NoError(t, err)
	assert.False(t, on)

	_, err = svc.ToggleFavorite(f.ctx, u.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouch(t *testing.T) {
	f := newFixture(t)
	svc := NewProfileService(f.db)
	u := testutil.CreateUser(t, f.db, "alice")
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Touch(f.ctx, u.ID, true, at))
	p := testutil.Profile(t, f.db, u.ID)
	assert.True(t, p.IsMobile)
	assert.True(t, p.LastActivity.Equal(at))
}
