package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToday_UsesLocation(t *testing.T) {
	// 23:30 UTC is already the next day in Karachi (UTC+5).
	c := &Fixed{T: time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)}
	karachi, err := time.LoadLocation("Asia/Karachi")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-10", Today(c, time.UTC))
	assert.Equal(t, "2024-03-11", Today(c, karachi))
	assert.Equal(t, "2024-03-10", Today(c, nil))
}

func TestFixed_Advance(t *testing.T) {
	c := &Fixed{T: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	c.Advance(24 * time.Hour)
	assert.Equal(t, "2024-03-11", Today(c, time.UTC))
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"2024-03-10", "2024-03-10", 0},
		{"2024-03-10", "2024-03-11", 1},
		{"2024-02-28", "2024-03-01", 2},
		{"2024-03-31", "2024-04-03", 3},
		{"2024-03-11", "2024-03-10", -1},
	}
	for _, tt := range tests {
		got, err := DaysBetween(tt.from, tt.to)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}

	_, err := DaysBetween("yesterday", "2024-03-10")
	assert.Error(t, err)
}
