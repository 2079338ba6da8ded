package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel 是多实例共用的广播频道。
const DefaultChannel = "airspace:broker"

type frame struct {
	Group   string `json:"g"`
	Payload []byte `json:"p"`
}

// Redis 把广播经由一个 Redis 频道转发给所有实例，每个实例只投递给自己的本地成员。
// Join、Leave 与 Online 只看本地 Hub。
type Redis struct {
	local   *Hub
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	wg      sync.WaitGroup
	once    sync.Once
}

// NewRedis 订阅 channel 并启动接收循环，订阅确认失败时返回错误。
func NewRedis(ctx context.Context, client *redis.Client, channel string, local *Hub) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if local == nil {
		local = NewHub()
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broker: subscribe %s: %w", channel, err)
	}
	r := &Redis{local: local, client: client, channel: channel, pubsub: ps}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *Redis) loop() {
	defer r.wg.Done()
	// 单个 goroutine 顺序投递，保持同组 FIFO。
	for m := range r.pubsub.Channel() {
		var f frame
		if err := json.Unmarshal([]byte(m.Payload), &f); err != nil {
			log.Warn().Err(err).Str("channel", r.channel).Msg("broker: bad frame")
			continue
		}
		r.local.Deliver(f.Group, f.Payload)
	}
}

func (r *Redis) Join(group string, s Subscriber)  { r.local.Join(group, s) }
func (r *Redis) Leave(group string, s Subscriber) { r.local.Leave(group, s) }
func (r *Redis) Online(group string) int          { return r.local.Online(group) }

// Broadcast 只发布到频道，本实例的成员也经由订阅收到。
func (r *Redis) Broadcast(ctx context.Context, group string, payload []byte) error {
	b, err := json.Marshal(frame{Group: group, Payload: payload})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// Close 退订并等待接收循环退出，然后关闭本地 Hub。
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		err = r.pubsub.Close()
		r.wg.Wait()
		_ = r.local.Close()
	})
	return err
}
