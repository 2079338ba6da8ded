// Package events 定义核心对外发出的“奖励发放”与“消息变更”事件，以及投递它们的 Sink。
// Sink 只读消费，投递失败由调用方记录日志，不影响命令本身。
package events

import (
	"context"
	"errors"
	"time"

	"airspace/internal/metrics"
)

type Kind string

const (
	RewardGranted  Kind = "reward.granted"
	MessagePosted  Kind = "message.posted"
	MessageDeleted Kind = "message.deleted"
	MessageEdited  Kind = "message.edited"
)

// Event 是投递到外部的扁平记录；奖励事件填 Source/Reward/Amount，消息事件填 Room/MessageID。
type Event struct {
	Kind       Kind      `json:"kind"`
	At         time.Time `json:"at"`
	UserID     uint      `json:"user_id"`
	Room       string    `json:"room,omitempty"`
	MessageID  uint      `json:"message_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Reward     string    `json:"reward,omitempty"`
	Amount     int       `json:"amount,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty"`
}

type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi 依次投递给每个 Sink，汇总全部错误。
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics 把奖励事件计入 Prometheus。
type Metrics struct{}

func (Metrics) Publish(_ context.Context, e Event) error {
	switch e.Kind {
	case RewardGranted:
		metrics.RewardsGranted.WithLabelValues(e.Source, e.Reward).Add(float64(abs(e.Amount)))
	case MessagePosted:
		metrics.WsMessagesTotal.Inc()
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
