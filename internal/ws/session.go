package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"airspace/internal/broker"
	"airspace/internal/chat"
	"airspace/internal/metrics"
	"airspace/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	commandTimeout = 15 * time.Second
	sendBuffer     = 256
)

// State 是会话的生命周期：Connecting -> Joined/Subscribed -> Closed。
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateSubscribed:
		return "subscribed"
	default:
		return "closed"
	}
}

// Commands 是房间会话需要的命令处理，由 chat.Service 实现。
type Commands interface {
	Post(ctx context.Context, actorID uint, in chat.PostInput) (chat.Result, *service.PostResult)
	DeleteForMe(ctx context.Context, actorID, messageID uint) chat.Result
	DeleteForEveryone(ctx context.Context, actorID, messageID uint) chat.Result
	Edit(ctx context.Context, actorID, messageID uint, newContent string) chat.Result
	ClearHistory(ctx context.Context, actorID uint, room string) chat.Result
}

// Session 对应一条 websocket 连接。cmds 为 nil 时是只收不发的通知会话。
type Session struct {
	conn     *websocket.Conn
	broker   broker.Broker
	cmds     Commands
	userID   uint
	username string
	room     string
	groups   []string

	send      chan []byte
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSession(conn *websocket.Conn, b broker.Broker, cmds Commands, userID uint, username, room string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:     conn,
		broker:   b,
		cmds:     cmds,
		userID:   userID,
		username: username,
		room:     room,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if room != "" {
		s.groups = []string{broker.RoomGroup(room)}
	} else {
		s.groups = []string{broker.UserGroup(userID)}
	}
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// Send 实现 broker.Subscriber。队列满说明客户端读得太慢，直接断开它。
func (s *Session) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		// 调用方持有组锁，异步关闭避免重入 broker。
		go s.Close()
		return false
	}
}

// Run 加入组并阻塞到连接结束，所有退出路径都会执行 Close。
func (s *Session) Run() {
	defer s.Close()
	for _, g := range s.groups {
		s.broker.Join(g, s)
	}
	next := StateSubscribed
	if s.cmds != nil {
		next = StateJoined
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(next)) {
		return
	}
	metrics.WsConnections.Inc()
	defer metrics.WsConnections.Dec()

	go s.writePump()
	s.readPump()
}

// Close 离开全部组并关闭连接，只执行一次。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
		for _, g := range s.groups {
			s.broker.Leave(g, s)
		}
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) readPump() {
	limit := int64(4 << 10)
	if s.cmds != nil {
		// base64 附件
		limit = 16 << 20
	}
	s.conn.SetReadLimit(limit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Uint("user_id", s.userID).Msg("ws read")
			}
			return
		}
		if s.cmds == nil {
			continue
		}
		in, err := DecodeInbound(data)
		if err != nil {
			log.Warn().Err(err).Uint("user_id", s.userID).Str("room", s.room).Msg("ws bad frame")
			continue
		}
		s.dispatch(in)
	}
}

// dispatch 处理单条命令，失败只记录日志，连接保持打开。
func (s *Session) dispatch(in Inbound) {
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()

	var r chat.Result
	switch in.Command {
	case chat.CmdNewMessage:
		r, _ = s.cmds.Post(ctx, s.userID, chat.PostInput{
			Room:      s.room,
			Content:   in.Message,
			Image:     in.Image,
			Audio:     in.Audio,
			ReplyToID: in.ReplyID.Ptr(),
		})
	case chat.CmdDeleteMe:
		r = s.cmds.DeleteForMe(ctx, s.userID, uint(in.MsgID))
	case chat.CmdDeleteEveryone:
		r = s.cmds.DeleteForEveryone(ctx, s.userID, uint(in.MsgID))
	case chat.CmdEditMessage:
		r = s.cmds.Edit(ctx, s.userID, uint(in.MsgID), in.NewContent)
	case chat.CmdClearHistory:
		r = s.cmds.ClearHistory(ctx, s.userID, s.room)
	}
	if !r.OK() {
		ev := log.Warn()
		if r.Status == chat.StatusFailed {
			ev = log.Error()
		}
		ev.Err(r.Err).Str("command", r.Command).Str("status", string(r.Status)).
			Uint("user_id", s.userID).Str("room", s.room).Msg("ws command rejected")
	}
	if r.Reply != nil {
		s.Send(r.Reply)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
