package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tokmz/chatd/internal/auth"
	"github.com/tokmz/chatd/internal/event"
	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/presence"
	"github.com/tokmz/chatd/internal/session"
	"github.com/tokmz/chatd/internal/store"
	"github.com/tokmz/chatd/pkg/cache"
	"github.com/tokmz/chatd/pkg/orm"
)

type env struct {
	t        *testing.T
	srv      *Server
	store    *store.Store
	tokens   *auth.TokenManager
	registry *hub.Registry
	messages *msgcache.Cache
}

func newEnv(t *testing.T, tweaks ...func(*Config)) *env {
	t.Helper()
	cfg := orm.DefaultConfig()
	cfg.DSN = "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	cfg.LogLevel = "silent"
	cfg.MaxOpenConns = 1
	db, err := orm.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orm.Close(db) })

	st := store.New(db)
	require.NoError(t, st.Migrate(context.Background()))

	backend := cache.NewMemory(nil)
	t.Cleanup(func() { _ = backend.Close() })

	authCfg := auth.DefaultConfig()
	authCfg.Secret = "0123456789abcdef0123456789abcdef"
	tokens := auth.NewTokenManager(authCfg)
	authenticator := auth.NewAuthenticator(tokens, st)

	registry := hub.New()
	tracker := presence.New(backend)
	messages := msgcache.New(backend, nil)
	sessions := session.NewHandler(session.Deps{
		Registry: registry,
		Presence: tracker,
		Messages: messages,
		Auth:     authenticator,
		Rooms:    st,
		Open:     func(ctx context.Context) session.Persistence { return st.Session(ctx) },
	})

	srvCfg := DefaultConfig()
	srvCfg.Mode = "test"
	for _, tweak := range tweaks {
		tweak(srvCfg)
	}
	srv := New(Deps{
		Store:     st,
		Tokens:    tokens,
		Passwords: auth.NewPasswordHasher(bcrypt.MinCost),
		Auth:      authenticator,
		Registry:  registry,
		Presence:  tracker,
		Messages:  messages,
		Sessions:  sessions,
	}, srvCfg)

	return &env{t: t, srv: srv, store: st, tokens: tokens, registry: registry, messages: messages}
}

type result struct {
	Status int
	Header http.Header
	Code   int             `json:"code"`
	Data   json.RawMessage `json:"data"`
	Msg    string          `json:"message"`
	Trace  string          `json:"trace_id"`
}

func (e *env) do(method, path, token string, body any, headers ...string) *result {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	res := &result{Status: w.Code, Header: w.Header()}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), res))
	}
	return res
}

func (r *result) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// user 注册并登录，返回用户 ID 与令牌
func (e *env) user(name string) (int64, string) {
	e.t.Helper()
	res := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "secret-" + name,
	})
	require.Equal(e.t, http.StatusOK, res.Status, res.Msg)
	var u store.User
	res.decode(e.t, &u)

	res = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": name, "password": "secret-" + name,
	})
	require.Equal(e.t, http.StatusOK, res.Status, res.Msg)
	var tok tokenResp
	res.decode(e.t, &tok)
	return u.ID, tok.AccessToken
}

func (e *env) room(token string, members ...int64) int64 {
	e.t.Helper()
	res := e.do(http.MethodPost, "/api/v1/rooms", token, map[string]any{
		"name": "general", "is_group": true, "participant_ids": members,
	})
	require.Equal(e.t, http.StatusOK, res.Status, res.Msg)
	var room roomResp
	res.decode(e.t, &room)
	return room.ID
}

func (e *env) post(roomID, userID int64, content string) *store.Message {
	e.t.Helper()
	sess := e.store.Session(context.Background())
	defer sess.Close()
	m, err := sess.CreateMessage(context.Background(), roomID, userID, content)
	require.NoError(e.t, err)
	return m
}

type recorder struct {
	id string

	mu     sync.Mutex
	events []*event.Envelope
}

func (r *recorder) ID() string { return r.id }
func (r *recorder) Close()     {}

func (r *recorder) Send(data []byte) error {
	env, err := event.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	return nil
}

func (r *recorder) last() *event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestRegisterAndLogin(t *testing.T) {
	e := newEnv(t)
	uid, token := e.user("alice")
	assert.NotZero(t, uid)

	claims, err := e.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	res := e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret-x",
	})
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, 1005, res.Code)

	res = e.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "al", "email": "bad", "password": "x",
	})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, 1001, res.Code)

	res = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, 2004, res.Code)

	u, err := e.store.UserByID(context.Background(), uid)
	require.NoError(t, err)
	assert.NotNil(t, u.LastLogin)

	require.NoError(t, e.store.SetUserActive(context.Background(), uid, false))
	res = e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "secret-alice",
	})
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, 2003, res.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)

	res := e.do(http.MethodGet, "/api/v1/users/online", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, 1002, res.Code)

	res = e.do(http.MethodGet, "/api/v1/users/online", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, 2001, res.Code)

	_, token := e.user("alice")
	res = e.do(http.MethodGet, "/api/v1/users/online", token, nil)
	assert.Equal(t, http.StatusOK, res.Status)
	var online onlineResp
	res.decode(t, &online)
	assert.Zero(t, online.Count)
}

func TestLatestMessagesReadThrough(t *testing.T) {
	e := newEnv(t)
	aliceID, alice := e.user("alice")
	bobID, bob := e.user("bob")
	_, carol := e.user("carol")
	roomID := e.room(alice, bobID)

	e.post(roomID, aliceID, "one")
	e.post(roomID, bobID, "two")
	e.post(roomID, aliceID, "three")

	path := "/api/v1/rooms/" + itoa(roomID) + "/messages/latest"
	res := e.do(http.MethodGet, path, bob, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Msg)
	var first latestResp
	res.decode(t, &first)
	assert.Equal(t, msgcache.SourceStorage, first.Source)
	require.Len(t, first.Messages, 3)
	assert.Equal(t, "three", first.Messages[0].Content)
	assert.Equal(t, "bob", first.Messages[1].Username)

	res = e.do(http.MethodGet, path, alice, nil)
	var second latestResp
	res.decode(t, &second)
	assert.Equal(t, msgcache.SourceCache, second.Source)
	assert.Equal(t, first.Messages, second.Messages)

	res = e.do(http.MethodGet, path+"?limit=2", alice, nil)
	var limited latestResp
	res.decode(t, &limited)
	assert.Len(t, limited.Messages, 2)

	res = e.do(http.MethodGet, path+"?limit=51", alice, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(http.MethodGet, path, carol, nil)
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, 3002, res.Code)

	res = e.do(http.MethodGet, "/api/v1/rooms/999/messages/latest", alice, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, 3001, res.Code)
}

func TestEditAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	aliceID, alice := e.user("alice")
	bobID, bob := e.user("bob")
	roomID := e.room(alice, bobID)
	m := e.post(roomID, aliceID, "draft")

	watcher := &recorder{id: "watcher"}
	_, err := e.registry.Register(watcher, roomID, bobID, "bob")
	require.NoError(t, err)

	latest := "/api/v1/rooms/" + itoa(roomID) + "/messages/latest"
	e.do(http.MethodGet, latest, alice, nil)
	_, hit, err := e.messages.ReadRecent(ctx, roomID, 50)
	require.NoError(t, err)
	require.True(t, hit)

	path := "/api/v1/messages/" + itoa(m.ID)
	res := e.do(http.MethodPut, path, bob, map[string]string{"content": "hijack"})
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, 3004, res.Code)

	res = e.do(http.MethodPut, path, alice, map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, res.Status)

	res = e.do(http.MethodPut, path, alice, map[string]string{"content": "final"})
	require.Equal(t, http.StatusOK, res.Status, res.Msg)
	var updated model.Message
	res.decode(t, &updated)
	assert.Equal(t, "final", updated.Content)
	assert.NotNil(t, updated.UpdatedAt)

	_, hit, err = e.messages.ReadRecent(ctx, roomID, 50)
	require.NoError(t, err)
	assert.False(t, hit)

	ev := watcher.last()
	assert.Equal(t, event.TypeMessageUpdated, ev.Type)
	assert.Equal(t, "final", ev.String("content"))

	res = e.do(http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Msg)
	ev = watcher.last()
	assert.Equal(t, event.TypeMessageDeleted, ev.Type)
	id, _ := ev.Int64("message_id")
	assert.Equal(t, m.ID, id)

	res = e.do(http.MethodGet, latest, alice, nil)
	var list latestResp
	res.decode(t, &list)
	assert.Empty(t, list.Messages)

	res = e.do(http.MethodDelete, path, alice, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	res = e.do(http.MethodPut, path, alice, map[string]string{"content": "again"})
	assert.Equal(t, http.StatusBadRequest, res.Status)
	res = e.do(http.MethodPut, "/api/v1/messages/4242", alice, map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, 3003, res.Code)
}

func TestDeleteRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	aliceID, alice := e.user("alice")
	_, bob := e.user("bob")
	roomID := e.room(alice)
	e.post(roomID, aliceID, "hello")
	e.do(http.MethodGet, "/api/v1/rooms/"+itoa(roomID)+"/messages/latest", alice, nil)

	res := e.do(http.MethodDelete, "/api/v1/rooms/"+itoa(roomID), bob, nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = e.do(http.MethodDelete, "/api/v1/rooms/"+itoa(roomID), alice, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Msg)

	_, err := e.store.RoomByID(ctx, roomID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, hit, err := e.messages.ReadRecent(ctx, roomID, 10)
	require.NoError(t, err)
	assert.False(t, hit)

	res = e.do(http.MethodDelete, "/api/v1/rooms/"+itoa(roomID), alice, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestCreateRoomUnknownParticipant(t *testing.T) {
	e := newEnv(t)
	_, alice := e.user("alice")
	res := e.do(http.MethodPost, "/api/v1/rooms", alice, map[string]any{
		"name": "ghosts", "participant_ids": []int64{999},
	})
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestDiagnostics(t *testing.T) {
	e := newEnv(t)

	res := e.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.Status)
	var h healthResp
	res.decode(t, &h)
	assert.Equal(t, healthResp{Status: "ok", Database: "ok", Cache: "ok"}, h)

	_, err := e.registry.Register(&recorder{id: "c1"}, 3, 1, "alice")
	require.NoError(t, err)
	res = e.do(http.MethodGet, "/ws/stats", "", nil)
	var st hub.Stats
	res.decode(t, &st)
	assert.Equal(t, 1, st.TotalConnections)
	assert.Equal(t, hub.RoomStats{Connections: 1, Users: 1}, st.Rooms[3])

	res = e.do(http.MethodGet, "/cache/stats", "", nil)
	var cs msgcache.Stats
	res.decode(t, &cs)
	assert.Equal(t, msgcache.Stats{RedisConnected: true, TTL: 3600, MaxMessagesPerRoom: 50}, cs)

	uid, token := e.user("bob")
	res = e.do(http.MethodGet, "/api/v1/users/"+itoa(uid)+"/presence", token, nil)
	var p presenceResp
	res.decode(t, &p)
	assert.Equal(t, presenceResp{UserID: uid}, p)
}

func TestRequestIDAndCORS(t *testing.T) {
	e := newEnv(t)

	res := e.do(http.MethodGet, "/ws/stats", "", nil, "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", res.Trace)
	assert.Equal(t, "req-123", res.Header.Get("X-Request-ID"))

	res = e.do(http.MethodGet, "/ws/stats", "", nil)
	assert.NotEmpty(t, res.Trace)

	res = e.do(http.MethodOptions, "/api/v1/rooms", "", nil,
		"Origin", "https://app.example.com", "Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestMatchAnyWildcard(t *testing.T) {
	patterns := []string{"https://*.example.com"}
	assert.True(t, matchAnyWildcard("https://app.example.com", patterns))
	assert.False(t, matchAnyWildcard("https://.example.com", patterns))
	assert.False(t, matchAnyWildcard("https://evil.com", patterns))
}

func TestWebsocketRejectsBadRoomID(t *testing.T) {
	e := newEnv(t)
	res := e.do(http.MethodGet, "/ws/abc?token=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestAuthRateLimit(t *testing.T) {
	e := newEnv(t, func(c *Config) {
		c.AuthRateLimit = 2
		c.AuthRateWindow = time.Hour
	})
	login := map[string]string{"username": "nobody", "password": "whatever"}

	for i := 0; i < 2; i++ {
		res := e.do(http.MethodPost, "/api/v1/auth/login", "", login)
		assert.Equal(t, http.StatusUnauthorized, res.Status)
	}
	res := e.do(http.MethodPost, "/api/v1/auth/login", "", login)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, 1006, res.Code)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))

	// 未配置受信代理时忽略 X-Forwarded-For
	res = e.do(http.MethodPost, "/api/v1/auth/login", "", login, "X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
}

func TestWindowLimiterResets(t *testing.T) {
	l := newWindowLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	ok, _ := l.allow("a")
	assert.True(t, ok)
	ok, retry := l.allow("a")
	assert.False(t, ok)
	assert.Positive(t, retry)
	ok, _ = l.allow("b")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.allow("a")
	assert.True(t, ok)
}

func TestCompression(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.CompressMinLength = 256 })
	u1, tok := e.user("alice")
	roomID := e.room(tok)
	for i := 0; i < 20; i++ {
		e.post(roomID, u1, strings.Repeat("payload ", 8))
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		e.srv.Handler().ServeHTTP(w, req)
		return w
	}

	w := get("/api/v1/rooms/" + itoa(roomID) + "/messages/latest")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	var res result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, 200, res.Code)

	// 小响应不压缩
	w = get("/api/v1/users/" + itoa(u1) + "/presence")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.True(t, json.Valid(w.Body.Bytes()))
}
