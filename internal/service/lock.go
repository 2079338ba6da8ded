package service

import "sync"

// userLocks 是按用户 id 分段的互斥锁，只覆盖奖励相关的读改写窗口。
// 无人持有时条目被回收。
type userLocks struct {
	mu sync.Mutex
	m  map[uint]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[uint]*userLock)}
}

// lock 阻塞直到拿到 id 的锁，返回的函数负责释放。
func (l *userLocks) lock(id uint) (unlock func()) {
	l.mu.Lock()
	ul := l.m[id]
	if ul == nil {
		ul = &userLock{}
		l.m[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
