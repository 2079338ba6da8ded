package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 业务层通用错误，handler 与 chat 层根据错误类型映射到 HTTP 状态码或命令结果。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = errors.New("room not found")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrEmptyMessage       = errors.New("empty message")
	ErrMessageDeleted     = errors.New("message deleted")
	ErrInvalidRoomName    = errors.New("invalid room name")
	ErrSelfVote           = errors.New("self vote")
	ErrUnknownVote        = errors.New("unknown vote type")
	ErrUnknownAd          = errors.New("unknown ad type")
	ErrUnknownTheme       = errors.New("unknown theme")
	ErrUnknownBoard       = errors.New("unknown leaderboard")
	ErrInvalidConfig      = errors.New("invalid site config")
)

// notFound 把 gorm 的未找到错误统一映射为 ErrNotFound。
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
