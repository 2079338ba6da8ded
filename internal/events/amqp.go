package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher 是 *amqp.Channel 的发布子集。
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP 把事件以持久化 JSON 发布到 topic exchange，routing key 为事件类型。
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Publisher
	exchange string
}

// DialAMQP 建立连接并声明 durable topic exchange。
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: declare %s: %w", exchange, err)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange}, nil
}

// NewAMQP 使用已经打开的 channel。
func NewAMQP(ch Publisher, exchange string) *AMQP {
	return &AMQP{ch: ch, exchange: exchange}
}

// Publish 串行发布，amqp channel 不支持并发写。
func (a *AMQP) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("amqp: marshal %s: %w", e.Kind, err)
	}
	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ts.UTC(),
		Type:         string(e.Kind),
		Body:         body,
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.PublishWithContext(ctx, a.exchange, string(e.Kind), false, false, pub); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", e.Kind, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
