// Package clock 提供可替换的时间源以及按业务时区计算“今天”的工具。
package clock

import (
	"fmt"
	"time"
)

// DayLayout 是每日记录使用的日期格式。
const DayLayout = "2006-01-02"

type Clock interface {
	Now() time.Time
}

// System 使用真实时间。
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed 总是返回同一时刻，供测试推进日期。
type Fixed struct{ T time.Time }

func (f *Fixed) Now() time.Time { return f.T }

// Advance 将时钟向前推进 d。
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

// Today 返回 loc 时区下的日期字符串。
func Today(c Clock, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return c.Now().In(loc).Format(DayLayout)
}

// DaysBetween 返回从 from 到 to 相隔的自然日数，to 早于 from 时为负数。
func DaysBetween(from, to string) (int, error) {
	a, err := time.Parse(DayLayout, from)
	if err != nil {
		return 0, fmt.Errorf("clock: parse %q: %w", from, err)
	}
	b, err := time.Parse(DayLayout, to)
	if err != nil {
		return 0, fmt.Errorf("clock: parse %q: %w", to, err)
	}
	return int(b.Sub(a).Hours() / 24), nil
}
