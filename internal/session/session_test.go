package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/chatd/internal/event"
	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/presence"
	"github.com/tokmz/chatd/internal/store"
	"github.com/tokmz/chatd/pkg/cache"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

// fakeAuth 令牌即 "uid:username"
type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, token string) (*store.User, error) {
	switch token {
	case "expired":
		return nil, pkgerrors.ErrTokenExpired
	case "inactive":
		return nil, pkgerrors.ErrUserInactive
	}
	uid, name, ok := strings.Cut(token, ":")
	if !ok {
		return nil, pkgerrors.ErrInvalidToken
	}
	id, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken
	}
	return &store.User{ID: id, Username: name, IsActive: true}, nil
}

type fakeRooms struct {
	members map[int64][]int64
}

func (f fakeRooms) RoomByID(_ context.Context, id int64) (*store.ChatRoom, error) {
	if _, ok := f.members[id]; !ok {
		return nil, store.ErrNotFound
	}
	return &store.ChatRoom{ID: id}, nil
}

func (f fakeRooms) IsParticipant(_ context.Context, roomID, userID int64) (bool, error) {
	for _, id := range f.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeDB struct {
	mu     sync.Mutex
	saved  []*store.Message
	fail   bool
	open   atomic.Int32
	nextID int64
}

func (db *fakeDB) opener(context.Context) Persistence {
	db.open.Add(1)
	return &fakePersistence{db: db}
}

func (db *fakeDB) setFail(v bool) {
	db.mu.Lock()
	db.fail = v
	db.mu.Unlock()
}

func (db *fakeDB) count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.saved)
}

type fakePersistence struct {
	db     *fakeDB
	closed atomic.Bool
}

func (p *fakePersistence) CreateMessage(_ context.Context, roomID, userID int64, content string) (*store.Message, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if p.db.fail {
		return nil, errors.New("disk full")
	}
	p.db.nextID++
	m := &store.Message{ID: p.db.nextID, RoomID: roomID, UserID: userID, Content: content, CreatedAt: time.Now()}
	p.db.saved = append(p.db.saved, m)
	return m, nil
}

func (p *fakePersistence) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.db.open.Add(-1)
	}
}

type fixture struct {
	server   *httptest.Server
	handler  *Handler
	registry *hub.Registry
	presence *presence.Tracker
	messages *msgcache.Cache
	db       *fakeDB
}

// backends 夹具使用的缓存存储，可在创建前替换
type backends struct {
	presence cache.Store
	messages cache.Store
}

func newFixture(t *testing.T, cfg *Config, wraps ...func(*backends)) *fixture {
	t.Helper()
	backend := cache.NewMemory(nil)
	t.Cleanup(func() { _ = backend.Close() })
	b := &backends{presence: backend, messages: backend}
	for _, wrap := range wraps {
		wrap(b)
	}

	f := &fixture{
		registry: hub.New(),
		presence: presence.New(b.presence),
		messages: msgcache.New(b.messages, nil),
		db:       &fakeDB{},
	}
	f.handler = NewHandler(Deps{
		Registry: f.registry,
		Presence: f.presence,
		Messages: f.messages,
		Auth:     fakeAuth{},
		Rooms:    fakeRooms{members: map[int64][]int64{1: {10, 20}, 2: {30}}},
		Open:     f.db.opener,
	}, WithConfig(cfg))

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/ws/"), 10, 64)
		f.handler.Serve(w, r, roomID, r.URL.Query().Get("token"))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T, roomID int64, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/" + strconv.FormatInt(roomID, 10) + "?token=" + token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) *event.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := event.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func write(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func expectClose(t *testing.T, c *websocket.Conn, code int, reason string) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, code, ce.Code)
	assert.Equal(t, reason, ce.Text)
}

func TestRejectsBeforeAccept(t *testing.T) {
	f := newFixture(t, nil)
	cases := []struct {
		name   string
		room   int64
		token  string
		reason string
	}{
		{"invalid token", 1, "garbage", reasonInvalidToken},
		{"expired token", 1, "expired", reasonTokenExpired},
		{"inactive user", 1, "inactive", reasonUserInactive},
		{"missing room", 9, "10:alice", reasonRoomNotFound},
		{"not a participant", 2, "10:alice", reasonNotParticipant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := f.dial(t, tc.room, tc.token)
			expectClose(t, c, websocket.ClosePolicyViolation, tc.reason)
		})
	}

	assert.Eventually(t, func() bool { return f.db.open.Load() == 0 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, f.registry.Stats().TotalConnections)
	users, err := f.presence.OnlineUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestParticipancyCanBeDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnforceParticipancy = false
	f := newFixture(t, cfg)

	c := f.dial(t, 2, "10:alice")
	assert.Equal(t, event.TypeConnected, read(t, c).Type)
}

func TestMessageAckAndBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a := f.dial(t, 1, "10:alice")
	connected := read(t, a)
	require.Equal(t, event.TypeConnected, connected.Type)
	assert.Empty(t, connected.Data["active_users"])

	b := f.dial(t, 1, "20:bob")
	require.Equal(t, event.TypeConnected, read(t, b).Type)
	joined := read(t, a)
	require.Equal(t, event.TypeUserJoined, joined.Type)
	assert.Equal(t, "bob", joined.String("username"))

	online, err := f.presence.IsOnline(ctx, 10)
	require.NoError(t, err)
	assert.True(t, online)

	write(t, a, `{"type":"message","content":"hello"}`)

	ack := read(t, a)
	require.Equal(t, event.TypeMessageSent, ack.Type)
	id, ok := ack.Int64("message_id")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	for _, c := range []*websocket.Conn{a, b} {
		msg := read(t, c)
		require.Equal(t, event.TypeMessage, msg.Type)
		assert.Equal(t, "hello", msg.String("content"))
		assert.Equal(t, "alice", msg.String("username"))
		uid, _ := msg.Int64("user_id")
		assert.Equal(t, int64(10), uid)
	}
	assert.Equal(t, 1, f.db.count())

	require.NoError(t, a.Close())
	left := read(t, b)
	assert.Equal(t, event.TypeUserLeft, left.Type)

	assert.Eventually(t, func() bool {
		online, err := f.presence.IsOnline(ctx, 10)
		return err == nil && !online && f.db.open.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMessageAppendsToWarmCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a := f.dial(t, 1, "10:alice")
	read(t, a)

	write(t, a, `{"type":"message","content":"cold"}`)
	read(t, a)
	read(t, a)
	_, hit, err := f.messages.ReadRecent(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, hit)

	earlier := f.db.saved[0].Snapshot("alice")
	require.NoError(t, f.messages.ReplaceWithSnapshot(ctx, 1, []model.Message{earlier}))

	write(t, a, `{"type":"message","content":"warm"}`)
	read(t, a)
	read(t, a)
	msgs, hit, err := f.messages.ReadRecent(ctx, 1, 10)
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, msgs, 2)
	assert.Equal(t, "warm", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Username)
	assert.Equal(t, "cold", msgs[1].Content)
}

func TestControlFrames(t *testing.T) {
	f := newFixture(t, nil)
	a := f.dial(t, 1, "10:alice")
	read(t, a)

	write(t, a, `{"type":"ping"}`)
	assert.Equal(t, event.TypePong, read(t, a).Type)

	write(t, a, `not json`)
	e := read(t, a)
	require.Equal(t, event.TypeError, e.Type)
	assert.Equal(t, errInvalidFormat, e.String("message"))

	write(t, a, `{"type":"shout"}`)
	e = read(t, a)
	require.Equal(t, event.TypeError, e.Type)
	assert.Equal(t, "Unknown event type: shout", e.String("message"))

	write(t, a, `{"type":"message","content":"   "}`)
	e = read(t, a)
	require.Equal(t, event.TypeError, e.Type)
	assert.Equal(t, errEmptyContent, e.String("message"))
	assert.Zero(t, f.db.count())

	// 连接仍可用
	write(t, a, `{"type":"ping"}`)
	assert.Equal(t, event.TypePong, read(t, a).Type)
}

func TestContentTooLong(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxContentLength = 5
	f := newFixture(t, cfg)
	a := f.dial(t, 1, "10:alice")
	read(t, a)

	write(t, a, `{"type":"message","content":"你好世界！"}`)
	assert.Equal(t, event.TypeMessageSent, read(t, a).Type)
	read(t, a)

	write(t, a, `{"type":"message","content":"toolong"}`)
	e := read(t, a)
	require.Equal(t, event.TypeError, e.Type)
	assert.Equal(t, errContentTooBig, e.String("message"))
	assert.Equal(t, 1, f.db.count())
}

func TestSaveFailureKeepsConnection(t *testing.T) {
	f := newFixture(t, nil)
	a := f.dial(t, 1, "10:alice")
	b := f.dial(t, 1, "20:bob")
	read(t, a)
	read(t, a)
	read(t, b)

	f.db.setFail(true)
	write(t, a, `{"type":"message","content":"lost"}`)
	e := read(t, a)
	require.Equal(t, event.TypeError, e.Type)
	assert.Equal(t, errSaveFailed, e.String("message"))

	f.db.setFail(false)
	write(t, a, `{"type":"message","content":"kept"}`)
	assert.Equal(t, event.TypeMessageSent, read(t, a).Type)

	// b 未收到失败的那条
	msg := read(t, b)
	require.Equal(t, event.TypeMessage, msg.Type)
	assert.Equal(t, "kept", msg.String("content"))
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t, nil)
	a := f.dial(t, 1, "10:alice")
	b := f.dial(t, 1, "20:bob")
	read(t, a)
	read(t, a)
	read(t, b)

	write(t, a, `{"type":"typing"}`)
	typing := read(t, b)
	require.Equal(t, event.TypeTyping, typing.Type)
	assert.True(t, typing.Bool("is_typing"))

	write(t, a, `{"type":"typing","is_typing":false}`)
	typing = read(t, b)
	require.Equal(t, event.TypeTyping, typing.Type)
	assert.False(t, typing.Bool("is_typing"))

	write(t, a, `{"type":"ping"}`)
	assert.Equal(t, event.TypePong, read(t, a).Type)
}

func TestMultiDevicePresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	phone := f.dial(t, 1, "10:alice")
	laptop := f.dial(t, 1, "10:alice")
	read(t, phone)
	read(t, laptop)

	require.Eventually(t, func() bool {
		n, err := f.presence.ConnectionCount(ctx, 10)
		return err == nil && n == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, phone.Close())
	assert.Eventually(t, func() bool {
		n, err := f.presence.ConnectionCount(ctx, 10)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	online, err := f.presence.IsOnline(ctx, 10)
	require.NoError(t, err)
	assert.True(t, online)
}

// brokenStore 缓存读写全部失败
type brokenStore struct {
	cache.Store
}

var errCacheDown = errors.New("cache down")

func (brokenStore) Exists(context.Context, string) (bool, error) { return false, errCacheDown }

func (brokenStore) Tx(context.Context, func(cache.Tx)) error { return errCacheDown }

func (brokenStore) LRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, errCacheDown
}

func TestCacheFailureDoesNotBlockDelivery(t *testing.T) {
	f := newFixture(t, nil, func(b *backends) {
		b.messages = brokenStore{Store: b.messages}
	})
	a := f.dial(t, 1, "10:alice")
	b := f.dial(t, 1, "20:bob")
	read(t, a)
	read(t, a)
	read(t, b)

	write(t, a, `{"type":"message","content":"still here"}`)

	ack := read(t, a)
	require.Equal(t, event.TypeMessageSent, ack.Type)
	for _, c := range []*websocket.Conn{a, b} {
		msg := read(t, c)
		require.Equal(t, event.TypeMessage, msg.Type)
		assert.Equal(t, "still here", msg.String("content"))
	}
	assert.Equal(t, 1, f.db.count())

	write(t, a, `{"type":"ping"}`)
	assert.Equal(t, event.TypePong, read(t, a).Type)
}

// slowRemoveStore 延迟集合删除
type slowRemoveStore struct {
	cache.Store
	delay time.Duration
}

func (s slowRemoveStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	time.Sleep(s.delay)
	return s.Store.SRem(ctx, key, members...)
}

func TestShutdownWaitsForSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(b *backends) {
		b.presence = slowRemoveStore{Store: b.presence, delay: 100 * time.Millisecond}
	})
	a := f.dial(t, 1, "10:alice")
	b := f.dial(t, 1, "20:bob")
	read(t, a)
	read(t, a)
	read(t, b)

	n, err := f.handler.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 返回时清理已完成，无需轮询
	users, err := f.presence.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, f.registry.Stats().TotalConnections)
	assert.Zero(t, f.db.open.Load())

	expectClose(t, a, websocket.CloseGoingAway, reasonShutdown)

	late := f.dial(t, 1, "20:bob")
	expectClose(t, late, websocket.CloseGoingAway, reasonShutdown)
}

func TestShutdownHonoursDeadline(t *testing.T) {
	f := newFixture(t, nil, func(b *backends) {
		b.presence = slowRemoveStore{Store: b.presence, delay: 300 * time.Millisecond}
	})
	a := f.dial(t, 1, "10:alice")
	read(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.handler.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = f.handler.Shutdown(context.Background())
	require.NoError(t, err)
	online, err := f.presence.IsOnline(context.Background(), 10)
	require.NoError(t, err)
	assert.False(t, online)
}
