// Package chat 把连接上的命令落到消息存储与奖励账本，再把结果广播给房间组与用户通知组。
// websocket 会话与 HTTP 写接口共用这里的逻辑，提及通知因此对两种来源都生效。
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"airspace/internal/broker"
	"airspace/internal/events"
	"airspace/internal/media"
	"airspace/internal/metrics"
	"airspace/internal/service"

	"github.com/rs/zerolog/log"
)

// 客户端命令。
const (
	CmdNewMessage     = "new_message"
	CmdDeleteMe       = "delete_me"
	CmdDeleteEveryone = "delete_everyone"
	CmdEditMessage    = "edit_message"
	CmdClearHistory   = "clear_history"
	CmdVote           = "vote"
)

// Status 是一条命令的结果分类，只有 StatusFailed 会回给发送者。
type Status string

const (
	StatusOK        Status = "ok"
	StatusInvalid   Status = "invalid"
	StatusForbidden Status = "forbidden"
	StatusNotFound  Status = "not_found"
	StatusFailed    Status = "failed"
)

// Result 描述一条命令的处理结果。Reply 非空时只发给发送者本人。
type Result struct {
	Command string
	Status  Status
	Err     error
	Reply   []byte
}

func (r Result) OK() bool { return r.Status == StatusOK }

// PostInput 与 new_message 帧的字段一一对应；Image、Audio 是 data URL。
type PostInput struct {
	Room      string
	Content   string
	Image     string
	Audio     string
	ReplyToID *uint
}

type Service struct {
	msgs   *service.MessageService
	broker broker.Broker
	sink   events.Sink
	media  media.Store
	loc    *time.Location
}

func NewService(msgs *service.MessageService, b broker.Broker, sink events.Sink, store media.Store, loc *time.Location) *Service {
	if sink == nil {
		sink = events.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{msgs: msgs, broker: b, sink: sink, media: store, loc: loc}
}

// Post 保存附件与消息，广播 chat_message，并给每个被提及的用户发通知。
func (s *Service) Post(ctx context.Context, actorID uint, in PostInput) (Result, *service.PostResult) {
	p := service.PostParams{Room: in.Room, AuthorID: actorID, Content: in.Content, ReplyToID: in.ReplyToID}
	var err error
	if p.ImageURL, err = s.saveMedia(media.Image, in.Image); err != nil {
		return s.done(CmdNewMessage, err), nil
	}
	if p.AudioURL, err = s.saveMedia(media.Audio, in.Audio); err != nil {
		return s.done(CmdNewMessage, err), nil
	}

	res, err := s.msgs.Post(ctx, p)
	if err != nil {
		return s.done(CmdNewMessage, err), nil
	}

	room := res.View.Room
	s.broadcast(ctx, broker.RoomGroup(room), encode(NewChatMessageFrame(res.View, s.loc)))
	note := encode(NotificationFrame{
		Type:    TypeNotification,
		Message: fmt.Sprintf("@%s mentioned you!", res.View.Username),
		Sender:  res.View.Username,
	})
	for _, m := range res.Mentions {
		s.broadcast(ctx, broker.UserGroup(m.UserID), note)
		metrics.NotificationsTotal.Inc()
	}

	s.emit(ctx, events.Event{Kind: events.MessagePosted, At: res.View.CreatedAt, UserID: actorID, Room: room, MessageID: res.View.ID})
	s.emitGrants(ctx, res.Grants)
	return s.done(CmdNewMessage, nil), res
}

func (s *Service) saveMedia(kind media.Kind, dataURL string) (string, error) {
	if dataURL == "" {
		return "", nil
	}
	if s.media == nil {
		return "", fmt.Errorf("%s attachments disabled: %w", kind, media.ErrInvalidData)
	}
	return s.media.Save(kind, dataURL)
}

// DeleteForEveryone 把墓碑广播到消息实际所在的房间，重复删除不再广播。
func (s *Service) DeleteForEveryone(ctx context.Context, actorID, messageID uint) Result {
	res, err := s.msgs.SoftDelete(ctx, messageID, actorID)
	if err != nil {
		return s.done(CmdDeleteEveryone, err)
	}
	if res.Changed {
		s.broadcast(ctx, broker.RoomGroup(res.Room), encode(MessageDeletedFrame{Type: TypeMessageDeleted, MsgID: res.MessageID}))
		s.emit(ctx, events.Event{Kind: events.MessageDeleted, At: time.Now(), UserID: actorID, Room: res.Room, MessageID: res.MessageID})
	}
	return s.done(CmdDeleteEveryone, nil)
}

// DeleteForMe 只影响 actor 自己的视图，不广播。
func (s *Service) DeleteForMe(ctx context.Context, actorID, messageID uint) Result {
	_, err := s.msgs.HideForSelf(ctx, messageID, actorID)
	return s.done(CmdDeleteMe, err)
}

func (s *Service) Edit(ctx context.Context, actorID, messageID uint, newContent string) Result {
	res, err := s.msgs.Edit(ctx, messageID, actorID, newContent)
	if err != nil {
		return s.done(CmdEditMessage, err)
	}
	s.broadcast(ctx, broker.RoomGroup(res.Room), encode(MessageEditedFrame{Type: TypeMessageEdited, MsgID: res.MessageID, NewContent: res.Content}))
	s.emit(ctx, events.Event{Kind: events.MessageEdited, At: time.Now(), UserID: actorID, Room: res.Room, MessageID: res.MessageID})
	return s.done(CmdEditMessage, nil)
}

// ClearHistory 隐藏房间内全部现有消息，只回 history_cleared 给发送者。
func (s *Service) ClearHistory(ctx context.Context, actorID uint, room string) Result {
	if _, err := s.msgs.ClearHistory(ctx, room, actorID); err != nil {
		return s.done(CmdClearHistory, err)
	}
	r := s.done(CmdClearHistory, nil)
	r.Reply = encode(HistoryClearedFrame{Type: TypeHistoryCleared})
	return r
}

// Vote 切换赞/踩并上报 aura 变动。
func (s *Service) Vote(ctx context.Context, actorID, messageID uint, kind string) (Result, service.VoteResult) {
	res, err := s.msgs.Vote(ctx, messageID, actorID, kind)
	if err != nil {
		return s.done(CmdVote, err), res
	}
	s.emitGrants(ctx, res.Grants)
	return s.done(CmdVote, nil), res
}

// EmitGrants 供 HTTP 层上报领取奖励等非消息路径产生的变动。
func (s *Service) EmitGrants(ctx context.Context, grants []service.Grant) {
	s.emitGrants(ctx, grants)
}

func (s *Service) emitGrants(ctx context.Context, grants []service.Grant) {
	now := time.Now()
	for _, g := range grants {
		if g.Amount == 0 {
			continue
		}
		s.emit(ctx, events.Event{
			Kind: events.RewardGranted, At: now, UserID: g.UserID,
			Source: g.Source, Reward: g.Kind, Amount: g.Amount, Multiplier: g.Multiplier,
		})
	}
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Msg("event sink publish failed")
	}
}

// broadcast 的失败只影响其他订阅者是否收到，不回滚已提交的写入。
func (s *Service) broadcast(ctx context.Context, group string, payload []byte) {
	if err := s.broker.Broadcast(ctx, group, payload); err != nil {
		log.Error().Err(err).Str("group", group).Msg("broadcast failed")
	}
}

// done 统计命令结果；存储类失败附带 command_failed 回执。
func (s *Service) done(cmd string, err error) Result {
	r := Result{Command: cmd, Status: Classify(err), Err: err}
	metrics.CommandsTotal.WithLabelValues(cmd, string(r.Status)).Inc()
	if r.Status == StatusFailed {
		r.Reply = encode(CommandFailedFrame{Type: TypeCommandFailed, Command: cmd, Error: "temporarily unavailable, please retry"})
	}
	return r
}

// Classify 把业务错误映射到命令结果。
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, service.ErrForbidden):
		return StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrRoomNotFound):
		return StatusNotFound
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidRoomName),
		errors.Is(err, service.ErrMessageDeleted),
		errors.Is(err, service.ErrSelfVote),
		errors.Is(err, service.ErrUnknownVote),
		errors.Is(err, media.ErrInvalidData),
		errors.Is(err, media.ErrTooLarge),
		errors.Is(err, media.ErrKind):
		return StatusInvalid
	default:
		return StatusFailed
	}
}
