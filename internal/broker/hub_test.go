package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	mu   sync.Mutex
	got  []string
	full bool
}

func (f *fakeSub) Send(p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.got = append(f.got, string(p))
	return true
}

func (f *fakeSub) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func TestGroupNames(t *testing.T) {
	assert.Equal(t, "chat_lobby", RoomGroup("lobby"))
	assert.Equal(t, "user_42", UserGroup(42))
}

func TestHub_BroadcastReachesOnlyMembers(t *testing.T) {
	h := NewHub()
	x, y, z := &fakeSub{}, &fakeSub{}, &fakeSub{}
	h.Join("chat_a", x)
	h.Join("chat_a", y)
	h.Join("chat_b", z)

	require.NoError(t, h.Broadcast(context.Background(), "chat_a", []byte("hi")))
	assert.Equal(t, []string{"hi"}, x.messages())
	assert.Equal(t, []string{"hi"}, y.messages())
	assert.Empty(t, z.messages())
	assert.Equal(t, 2, h.Online("chat_a"))
}

func TestHub_JoinTwiceDeliversOnce(t *testing.T) {
	h := NewHub()
	x := &fakeSub{}
	h.Join("g", x)
	h.Join("g", x)
	assert.Equal(t, 1, h.Deliver("g", []byte("once")))
	assert.Equal(t, []string{"once"}, x.messages())
}

func TestHub_LeaveBeforeBroadcast(t *testing.T) {
	h := NewHub()
	x, y := &fakeSub{}, &fakeSub{}
	h.Join("g", x)
	h.Join("g", y)
	h.Leave("g", x)

	assert.Equal(t, 1, h.Deliver("g", []byte("after")))
	assert.Empty(t, x.messages())

	// 重复离开与从未加入的离开都是安全的
	h.Leave("g", x)
	h.Leave("missing", x)

	h.Leave("g", y)
	assert.Zero(t, h.Groups(), "empty groups are reclaimed")
	assert.Zero(t, h.Deliver("g", []byte("nobody")))
}

func TestHub_FullSubscriberIsSkipped(t *testing.T) {
	h := NewHub()
	slow, ok := &fakeSub{full: true}, &fakeSub{}
	h.Join("g", slow)
	h.Join("g", ok)
	assert.Equal(t, 1, h.Deliver("g", []byte("x")))
	assert.Equal(t, []string{"x"}, ok.messages())
}

func TestHub_FIFOWithinGroup(t *testing.T) {
	h := NewHub()
	x := &fakeSub{}
	h.Join("g", x)

	want := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		p := fmt.Sprintf("m%d", i)
		want = append(want, p)
		h.Deliver("g", []byte(p))
	}
	assert.Equal(t, want, x.messages())
}

func TestHub_ConcurrentMembershipAndBroadcast(t *testing.T) {
	h := NewHub()
	stable := &fakeSub{}
	h.Join("g", stable)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := &fakeSub{}
			for j := 0; j < 50; j++ {
				h.Join("g", s)
				h.Leave("g", s)
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Deliver("g", []byte(fmt.Sprintf("%d-%d", i, j)))
			}
		}(i)
	}
	wg.Wait()

	got := stable.messages()
	assert.Len(t, got, 8*50)
	seen := make(map[string]bool, len(got))
	for _, m := range got {
		assert.False(t, seen[m], "duplicate delivery of %s", m)
		seen[m] = true
	}
	assert.Equal(t, 1, h.Online("g"))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	h.Join("g", &fakeSub{})
	require.NoError(t, h.Close())
	assert.Zero(t, h.Groups())

	h.Join("g", &fakeSub{})
	assert.Zero(t, h.Online("g"))
}
