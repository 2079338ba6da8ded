// Package broker 维护按组名划分的在线订阅者集合，并把事件扇出给组内成员。
// 组分两类：房间组（正在看某个房间的连接）与用户组（某个用户的通知连接）。
package broker

import (
	"context"
	"strconv"
)

// Subscriber 是一个在线连接。Send 不能阻塞，队列满时返回 false。
type Subscriber interface {
	Send(payload []byte) bool
}

// Broker 的实现必须保证：广播只送达调用时刻的成员，同一组内按调用顺序送达。
type Broker interface {
	Join(group string, s Subscriber)
	Leave(group string, s Subscriber)
	Broadcast(ctx context.Context, group string, payload []byte) error
	Online(group string) int
	Close() error
}

// RoomGroup 返回房间组名。
func RoomGroup(room string) string { return "chat_" + room }

// UserGroup 返回用户通知组名。
func UserGroup(userID uint) string { return "user_" + strconv.FormatUint(uint64(userID), 10) }
