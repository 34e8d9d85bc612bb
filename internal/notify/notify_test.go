package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/chatd/pkg/cache"
)

type recordingSink struct {
	events []*Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e *Event, _ []byte) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func TestPublishFillsIdentity(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher(sink)

	require.NoError(t, p.Publish(context.Background(), Event{Type: UserOnline, UserID: 7}))
	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.OccurredAt.IsZero())
	assert.Equal(t, UserOnline, e.Type)
}

func TestNotifySwallowsErrors(t *testing.T) {
	p := NewPublisher(&recordingSink{err: errors.New("down")})
	assert.Error(t, p.Publish(context.Background(), Event{Type: UserOffline}))
	assert.NotPanics(t, func() { p.Notify(context.Background(), Event{Type: UserOffline}) })
}

func TestCacheSinkRoundTrip(t *testing.T) {
	store := cache.NewMemory(nil)
	defer store.Close()
	p := NewPublisher(NewCacheSink(store, "events"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Event, 1)
	ready := make(chan struct{})
	go func() {
		sub, err := store.Subscribe(ctx, "events")
		if !assert.NoError(t, err) {
			return
		}
		defer sub.Close()
		close(ready)
		msg := <-sub.Channel()
		e, err := Decode([]byte(msg.Payload))
		assert.NoError(t, err)
		got <- e
	}()
	<-ready

	require.NoError(t, p.Publish(ctx, Event{Type: MessageCreated, RoomID: 3, UserID: 1, Payload: map[string]any{"content": "hi"}}))

	select {
	case e := <-got:
		assert.Equal(t, MessageCreated, e.Type)
		assert.Equal(t, int64(3), e.RoomID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	store := cache.NewMemory(nil)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, store, "events", func(*Event) {})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != MessageDeleted || e.RoomID != 9 {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisher(NewKafkaSinkFromProducer(producer, "chatd.events"))
	require.NoError(t, p.Publish(context.Background(), Event{Type: MessageDeleted, RoomID: 9, UserID: 1}))
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Type: UserOnline, UserID: 1}), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(&AMQPSink{channel: ch, exchange: "chatd.events"})

	require.NoError(t, p.Publish(context.Background(), Event{Type: MessageUpdated, RoomID: 2, UserID: 5}))
	assert.Equal(t, "chatd.events", ch.exchange)
	assert.Equal(t, string(MessageUpdated), ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.NotEmpty(t, ch.msg.MessageId)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestNewSink(t *testing.T) {
	sink, err := NewSink(nil, nil)
	require.NoError(t, err)
	assert.IsType(t, NoopSink{}, sink)

	_, err = NewSink(&Config{Driver: DriverRedis}, nil)
	assert.Error(t, err)

	sink, err = NewSink(&Config{Driver: DriverRedis, Channel: "x"}, cache.NewMemory(nil))
	require.NoError(t, err)
	assert.IsType(t, &CacheSink{}, sink)

	_, err = NewSink(&Config{Driver: DriverKafka}, nil)
	assert.Error(t, err)
	_, err = NewSink(&Config{Driver: DriverRabbitMQ}, nil)
	assert.Error(t, err)
	_, err = NewSink(&Config{Driver: "sqs"}, nil)
	assert.Error(t, err)
}

func TestQueuedNotifyDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher(sink, WithQueue(16))

	for i := int64(1); i <= 5; i++ {
		p.Notify(context.Background(), Event{Type: MessageCreated, RoomID: 1, UserID: i})
	}
	require.NoError(t, p.Close())

	require.Len(t, sink.events, 5)
	for i, e := range sink.events {
		assert.Equal(t, int64(i+1), e.UserID)
	}

	// 关闭后的事件直接丢弃
	p.Notify(context.Background(), Event{Type: MessageCreated})
	assert.Len(t, sink.events, 5)
	assert.NoError(t, p.Close())
}
