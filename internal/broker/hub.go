package broker

import (
	"context"
	"sync"

	"airspace/internal/metrics"
)

// Hub 是进程内的 Broker。组在第一个成员加入时创建，最后一个成员离开时回收。
type Hub struct {
	mu     sync.RWMutex
	groups map[string]*group
	closed bool
}

type group struct {
	mu      sync.Mutex
	members map[Subscriber]struct{}
}

func NewHub() *Hub { return &Hub{groups: make(map[string]*group)} }

// Join 重复加入同一组是空操作。
func (h *Hub) Join(name string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	g := h.groups[name]
	if g == nil {
		g = &group{members: make(map[Subscriber]struct{})}
		h.groups[name] = g
		metrics.BrokerGroups.Inc()
	}
	g.mu.Lock()
	g.members[s] = struct{}{}
	g.mu.Unlock()
}

// Leave 对不在组内的订阅者也是安全的。
func (h *Hub) Leave(name string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groups[name]
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.members, s)
	empty := len(g.members) == 0
	g.mu.Unlock()
	if empty {
		delete(h.groups, name)
		metrics.BrokerGroups.Dec()
	}
}

// Broadcast 送达本进程内的成员，永远返回 nil。
func (h *Hub) Broadcast(_ context.Context, name string, payload []byte) error {
	h.Deliver(name, payload)
	return nil
}

// Deliver 在组锁内遍历成员，既保证快照语义，也保证同组内的 FIFO。
// 返回成功入队的成员数。
func (h *Hub) Deliver(name string, payload []byte) int {
	h.mu.RLock()
	g := h.groups[name]
	h.mu.RUnlock()
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for s := range g.members {
		if s.Send(payload) {
			n++
		} else {
			metrics.BrokerDropped.Inc()
		}
	}
	return n
}

func (h *Hub) Online(name string) int {
	h.mu.RLock()
	g := h.groups[name]
	h.mu.RUnlock()
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Groups 返回当前存活的组数。
func (h *Hub) Groups() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// Close 清空所有组，之后的 Join 被忽略。
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	metrics.BrokerGroups.Sub(float64(len(h.groups)))
	h.groups = make(map[string]*group)
	h.closed = true
	return nil
}
