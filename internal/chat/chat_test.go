package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"airspace/internal/broker"
	"airspace/internal/clock"
	"airspace/internal/events"
	"airspace/internal/media"
	"airspace/internal/service"
	"airspace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type inbox struct {
	mu  sync.Mutex
	got []map[string]any
}

func (i *inbox) Send(p []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return false
	}
	i.mu.Lock()
	i.got = append(i.got, m)
	i.mu.Unlock()
	return true
}

func (i *inbox) frames() []map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]map[string]any(nil), i.got...)
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sinkRecorder) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *sinkRecorder) kinds() map[events.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[events.Kind]int)
	for _, e := range s.events {
		out[e.Kind]++
	}
	return out
}

type fakeStore struct{ saved []media.Kind }

func (f *fakeStore) Save(kind media.Kind, dataURL string) (string, error) {
	if dataURL == "bad" {
		return "", media.ErrInvalidData
	}
	f.saved = append(f.saved, kind)
	return "/media/" + string(kind) + ".bin", nil
}

type env struct {
	db    *gorm.DB
	hub   *broker.Hub
	sink  *sinkRecorder
	store *fakeStore
	chat  *Service
	ctx   context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := testutil.NewDB(t)
	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)}
	loc, err := time.LoadLocation("Asia/Karachi")
	require.NoError(t, err)
	ledger := service.NewLedger(gdb, clk, loc, service.NewSiteConfigs(gdb))
	hub := broker.NewHub()
	sink := &sinkRecorder{}
	store := &fakeStore{}
	return &env{
		db:    gdb,
		hub:   hub,
		sink:  sink,
		store: store,
		chat:  NewService(service.NewMessageService(gdb, ledger), hub, sink, store, loc),
		ctx:   context.Background(),
	}
}

func TestPost_BroadcastsAndNotifiesMentions(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	bob := testutil.CreateUser(t, e.db, "bob")
	carol := testutil.CreateUser(t, e.db, "carol")
	dave := testutil.CreateUser(t, e.db, "dave")

	room, other := &inbox{}, &inbox{}
	aliceNote, bobNote, daveNote := &inbox{}, &inbox{}, &inbox{}
	e.hub.Join(broker.RoomGroup("lobby"), room)
	e.hub.Join(broker.RoomGroup("other"), other)
	e.hub.Join(broker.UserGroup(alice.ID), aliceNote)
	e.hub.Join(broker.UserGroup(bob.ID), bobNote)
	e.hub.Join(broker.UserGroup(dave.ID), daveNote)

	res, post := e.chat.Post(e.ctx, carol.ID, PostInput{Room: "lobby", Content: "@alice @bob @ghost hi", Image: "data:image/png;base64,AA=="})
	require.True(t, res.OK(), res.Err)
	require.NotNil(t, post)
	assert.Nil(t, res.Reply)

	frames := room.frames()
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, TypeChatMessage, f["type"])
	assert.Equal(t, "carol", f["username"])
	assert.Equal(t, "@alice @bob @ghost hi", f["message"])
	assert.Equal(t, "BRONZE", f["tier"])
	assert.Equal(t, "14:05", f["timestamp"], "formatted in the business timezone")
	assert.Equal(t, "/media/image.bin", f["image_url"])
	assert.Nil(t, f["audio_url"])
	assert.Nil(t, f["reply_context"])
	assert.Equal(t, float64(0), f["likes"])
	assert.Empty(t, other.frames())

	for _, box := range []*inbox{aliceNote, bobNote} {
		notes := box.frames()
		require.Len(t, notes, 1)
		assert.Equal(t, TypeNotification, notes[0]["type"])
		assert.Equal(t, "@carol mentioned you!", notes[0]["message"])
		assert.Equal(t, "carol", notes[0]["sender"])
	}
	assert.Empty(t, daveNote.frames())

	assert.Equal(t, []media.Kind{media.Image}, e.store.saved)
	kinds := e.sink.kinds()
	assert.Equal(t, 1, kinds[events.MessagePosted])
	assert.Equal(t, 1, kinds[events.RewardGranted])
}

func TestPost_InvalidIsSilent(t *testing.T) {
	e := newEnv(t)
	u := testutil.CreateUser(t, e.db, "alice")
	room := &inbox{}
	e.hub.Join(broker.RoomGroup("lobby"), room)

	res, post := e.chat.Post(e.ctx, u.ID, PostInput{Room: "lobby", Content: ""})
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Nil(t, post)
	assert.Nil(t, res.Reply)

	res, _ = e.chat.Post(e.ctx, u.ID, PostInput{Room: "lobby", Content: "pic", Image: "bad"})
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Empty(t, room.frames())
	assert.Empty(t, e.sink.kinds())
}

func TestPost_StorageFailureIsReported(t *testing.T) {
	e := newEnv(t)
	u := testutil.CreateUser(t, e.db, "alice")
	sqlDB, err := e.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	res, _ := e.chat.Post(e.ctx, u.ID, PostInput{Room: "lobby", Content: "hi"})
	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.Reply)

	var f map[string]any
	require.NoError(t, json.Unmarshal(res.Reply, &f))
	assert.Equal(t, TypeCommandFailed, f["type"])
	assert.Equal(t, CmdNewMessage, f["command"])
}

func TestDeleteForEveryone_BroadcastsToMessageRoom(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	bob := testutil.CreateUser(t, e.db, "bob")
	_, post := e.chat.Post(e.ctx, alice.ID, PostInput{Room: "lobby", Content: "oops"})
	require.NotNil(t, post)

	lobby := &inbox{}
	e.hub.Join(broker.RoomGroup("lobby"), lobby)

	res := e.chat.DeleteForEveryone(e.ctx, bob.ID, post.View.ID)
	assert.Equal(t, StatusForbidden, res.Status)
	assert.Empty(t, lobby.frames())

	res = e.chat.DeleteForEveryone(e.ctx, alice.ID, post.View.ID)
	require.True(t, res.OK())
	res = e.chat.DeleteForEveryone(e.ctx, alice.ID, post.View.ID)
	require.True(t, res.OK())

	frames := lobby.frames()
	require.Len(t, frames, 1, "repeat delete does not rebroadcast")
	assert.Equal(t, TypeMessageDeleted, frames[0]["type"])
	assert.Equal(t, float64(post.View.ID), frames[0]["msg_id"])

	res = e.chat.DeleteForEveryone(e.ctx, alice.ID, 9999)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.Reply)
}

func TestDeleteForMe_NoBroadcast(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	bob := testutil.CreateUser(t, e.db, "bob")
	_, post := e.chat.Post(e.ctx, alice.ID, PostInput{Room: "lobby", Content: "hi"})

	lobby := &inbox{}
	e.hub.Join(broker.RoomGroup("lobby"), lobby)
	res := e.chat.DeleteForMe(e.ctx, bob.ID, post.View.ID)
	assert.True(t, res.OK())
	assert.Empty(t, lobby.frames())
}

func TestEdit_Broadcasts(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	_, post := e.chat.Post(e.ctx, alice.ID, PostInput{Room: "lobby", Content: "tpyo"})

	lobby := &inbox{}
	e.hub.Join(broker.RoomGroup("lobby"), lobby)
	res := e.chat.Edit(e.ctx, alice.ID, post.View.ID, "typo")
	require.True(t, res.OK())

	frames := lobby.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, TypeMessageEdited, frames[0]["type"])
	assert.Equal(t, "typo", frames[0]["new_content"])
	assert.Equal(t, 1, e.sink.kinds()[events.MessageEdited])
}

func TestClearHistory_RepliesToSender(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	e.chat.Post(e.ctx, alice.ID, PostInput{Room: "lobby", Content: "hi"})

	res := e.chat.ClearHistory(e.ctx, alice.ID, "lobby")
	require.True(t, res.OK())
	assert.JSONEq(t, `{"type":"history_cleared"}`, string(res.Reply))

	res = e.chat.ClearHistory(e.ctx, alice.ID, "missing")
	assert.Equal(t, StatusNotFound, res.Status)
}

func TestVote_EmitsAuraGrants(t *testing.T) {
	e := newEnv(t)
	alice := testutil.CreateUser(t, e.db, "alice")
	bob := testutil.CreateUser(t, e.db, "bob")
	_, post := e.chat.Post(e.ctx, alice.ID, PostInput{Room: "lobby", Content: "hi"})
	before := e.sink.kinds()[events.RewardGranted]

	res, vote := e.chat.Vote(e.ctx, bob.ID, post.View.ID, "like")
	require.True(t, res.OK())
	assert.Equal(t, int64(1), vote.Likes)
	assert.Equal(t, before+2, e.sink.kinds()[events.RewardGranted], "first like bonus and like")

	res, _ = e.chat.Vote(e.ctx, alice.ID, post.View.ID, "like")
	assert.Equal(t, StatusInvalid, res.Status)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{service.ErrEmptyMessage, StatusInvalid},
		{service.ErrForbidden, StatusForbidden},
		{service.ErrRoomNotFound, StatusNotFound},
		{errors.Join(errors.New("wrapped"), service.ErrNotFound), StatusNotFound},
		{media.ErrTooLarge, StatusInvalid},
		{errors.New("connection reset"), StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
