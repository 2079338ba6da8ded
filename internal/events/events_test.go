package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"airspace/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPublish struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublisher struct {
	calls []recordedPublish
	err   error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.calls = append(f.calls, recordedPublish{exchange: exchange, key: key, msg: msg})
	return f.err
}

type recordingSink struct {
	got []Event
	err error
}

func (r *recordingSink) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestAMQP_PublishesPersistentJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQP(pub, "airspace.events")
	at := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	err := sink.Publish(context.Background(), Event{Kind: RewardGranted, At: at, UserID: 7, Source: "message", Reward: "xp", Amount: 10})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)

	call := pub.calls[0]
	assert.Equal(t, "airspace.events", call.exchange)
	assert.Equal(t, "reward.granted", call.key)
	assert.Equal(t, amqp.Persistent, call.msg.DeliveryMode)
	assert.Equal(t, "application/json", call.msg.ContentType)
	assert.True(t, call.msg.Timestamp.Equal(at))

	var back Event
	require.NoError(t, json.Unmarshal(call.msg.Body, &back))
	assert.Equal(t, uint(7), back.UserID)
	assert.Equal(t, 10, back.Amount)
}

func TestAMQP_WrapsPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	sink := NewAMQP(&fakePublisher{err: boom}, "x")
	err := sink.Publish(context.Background(), Event{Kind: MessagePosted})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, sink.Close())
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("down")
	a, b := &recordingSink{}, &recordingSink{err: boom}
	c := &recordingSink{}
	err := Multi{a, b, c}.Publish(context.Background(), Event{Kind: MessageDeleted, MessageID: 3})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1)

	assert.NoError(t, Multi{a}.Publish(context.Background(), Event{Kind: MessageEdited}))
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

func TestMetrics_CountsRewards(t *testing.T) {
	c := metrics.RewardsGranted.WithLabelValues("unlike", "aura")
	before := testutil.ToFloat64(c)
	require.NoError(t, Metrics{}.Publish(context.Background(), Event{Kind: RewardGranted, Source: "unlike", Reward: "aura", Amount: -15}))
	assert.Equal(t, before+15, testutil.ToFloat64(c))
}
