package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"airspace/internal/chat"
)

var ErrUnknownCommand = errors.New("ws: unknown command")

// ID 同时接受数字与数字字符串，前端从 DOM dataset 取到的 id 是字符串。
type ID uint

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("ws: bad id %s", b)
	}
	*id = ID(v)
	return nil
}

// Ptr 为零时返回 nil。
func (id ID) Ptr() *uint {
	if id == 0 {
		return nil
	}
	v := uint(id)
	return &v
}

// Inbound 是客户端发来的帧，command 决定使用哪些字段。
type Inbound struct {
	Command    string `json:"command"`
	Message    string `json:"message"`
	Image      string `json:"image"`
	Audio      string `json:"audio"`
	ReplyID    ID     `json:"reply_id"`
	MsgID      ID     `json:"msg_id"`
	NewContent string `json:"new_content"`
}

// DecodeInbound 校验命令类型以及该命令必需的字段。
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("ws: decode frame: %w", err)
	}
	switch in.Command {
	case chat.CmdNewMessage, chat.CmdClearHistory:
	case chat.CmdDeleteMe, chat.CmdDeleteEveryone, chat.CmdEditMessage:
		if in.MsgID == 0 {
			return in, fmt.Errorf("ws: %s without msg_id", in.Command)
		}
	default:
		return in, fmt.Errorf("%w %q", ErrUnknownCommand, in.Command)
	}
	return in, nil
}
