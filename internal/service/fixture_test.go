package service

import (
	"context"
	"testing"
	"time"

	"airspace/internal/clock"
	"airspace/internal/models"
	"airspace/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clk     *clock.Fixed
	configs *SiteConfigs
	ledger  *Ledger
	msgs    *MessageService
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	configs := NewSiteConfigs(gdb)
	ledger := NewLedger(gdb, clk, time.UTC, configs)
	return &fixture{
		db:      gdb,
		clk:     clk,
		configs: configs,
		ledger:  ledger,
		msgs:    NewMessageService(gdb, ledger),
		ctx:     context.Background(),
	}
}

func (f *fixture) nextDay(days int) {
	f.clk.Advance(time.Duration(days) * 24 * time.Hour)
}

func (f *fixture) setStreak(t *testing.T, userID uint, current int, last string) {
	t.Helper()
	day := last
	s := models.UserStreak{UserID: userID, CurrentStreak: current, HighestStreak: current, LastActionDate: &day}
	require.NoError(t, f.db.Create(&s).Error)
}

func (f *fixture) streak(t *testing.T, userID uint) models.UserStreak {
	t.Helper()
	var s models.UserStreak
	require.NoError(t, f.db.Where("user_id = ?", userID).First(&s).Error)
	return s
}

func (f *fixture) post(t *testing.T, room string, author uint, content string) *PostResult {
	t.Helper()
	res, err := f.msgs.Post(f.ctx, PostParams{Room: room, AuthorID: author, Content: content})
	require.NoError(t, err)
	return res
}
