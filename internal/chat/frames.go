package chat

import (
	"encoding/json"
	"time"

	"airspace/internal/service"
)

// 服务端推送帧的 type 字段。
const (
	TypeChatMessage    = "chat_message"
	TypeMessageDeleted = "message_deleted"
	TypeMessageEdited  = "message_edited"
	TypeHistoryCleared = "history_cleared"
	TypeNotification   = "send_notification"
	TypeCommandFailed  = "command_failed"
)

type ReplyFrame struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// ChatMessageFrame 中缺省的 URL 与回复以 null 输出。
type ChatMessageFrame struct {
	Type         string      `json:"type"`
	ID           uint        `json:"id"`
	Username     string      `json:"username"`
	Message      string      `json:"message"`
	Tier         string      `json:"tier"`
	Aura         int         `json:"aura"`
	Timestamp    string      `json:"timestamp"`
	ImageURL     *string     `json:"image_url"`
	AudioURL     *string     `json:"audio_url"`
	FileURL      *string     `json:"file_url,omitempty"`
	UserAvatar   *string     `json:"user_avatar"`
	ReplyContext *ReplyFrame `json:"reply_context"`
	Likes        int64       `json:"likes"`
	Dislikes     int64       `json:"dislikes"`
}

type MessageDeletedFrame struct {
	Type  string `json:"type"`
	MsgID uint   `json:"msg_id"`
}

type MessageEditedFrame struct {
	Type       string `json:"type"`
	MsgID      uint   `json:"msg_id"`
	NewContent string `json:"new_content"`
}

type HistoryClearedFrame struct {
	Type string `json:"type"`
}

type NotificationFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

type CommandFailedFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// NewChatMessageFrame 的时间戳按业务时区格式化为 HH:MM。
func NewChatMessageFrame(v service.MessageView, loc *time.Location) ChatMessageFrame {
	if loc == nil {
		loc = time.UTC
	}
	f := ChatMessageFrame{
		Type:       TypeChatMessage,
		ID:         v.ID,
		Username:   v.Username,
		Message:    v.Content,
		Tier:       v.Tier,
		Aura:       v.Aura,
		Timestamp:  v.CreatedAt.In(loc).Format("15:04"),
		ImageURL:   optional(v.ImageURL),
		AudioURL:   optional(v.AudioURL),
		FileURL:    optional(v.FileURL),
		UserAvatar: optional(v.AvatarURL),
		Likes:      v.Likes,
		Dislikes:   v.Dislikes,
	}
	if v.Reply != nil {
		f.ReplyContext = &ReplyFrame{Username: v.Reply.Username, Message: v.Reply.Message}
	}
	return f
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// 帧类型都是固定结构体，不会失败
		panic(err)
	}
	return b
}
