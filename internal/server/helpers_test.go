package server

import (
	"strconv"
	"sync"
	"time"

	"airspace/internal/mw"

	"golang.org/x/time/rate"
)

// testLimiter 的容量足够普通用例，但能被 TestRateLimitOnAuth 用满。
func testLimiter() *mw.RL {
	return mw.NewRateLimiter(rate.Limit(0.001), 4, time.Minute)
}

type recorder struct {
	mu sync.Mutex
	n  int
}

func (r *recorder) Send([]byte) bool {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	return true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }
