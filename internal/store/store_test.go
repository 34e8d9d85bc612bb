package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/chatd/pkg/orm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := orm.DefaultConfig()
	cfg.DSN = "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	cfg.LogLevel = "silent"
	cfg.MaxOpenConns = 1
	db, err := orm.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orm.Close(db) })

	s := New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func createUser(t *testing.T, s *Store, name string) *User {
	t.Helper()
	u := &User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := createUser(t, s, "alice")
	assert.NotZero(t, alice.ID)
	assert.True(t, alice.IsActive)

	got, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	err = s.CreateUser(ctx, &User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.UserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	require.NoError(t, s.TouchLastLogin(ctx, alice.ID, now))
	got, err = s.UserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.WithinDuration(t, now, *got.LastLogin, time.Second)

	require.NoError(t, s.SetUserActive(ctx, alice.ID, false))
	got, err = s.UserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, s.SetUserActive(ctx, 999, true), ErrNotFound)
}

func TestRooms(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := createUser(t, s, "alice")
	bob := createUser(t, s, "bob")
	carol := createUser(t, s, "carol")

	room := &ChatRoom{Name: "general", IsGroup: true}
	require.NoError(t, s.CreateRoom(ctx, room, alice.ID, []int64{bob.ID, alice.ID}))
	assert.NotZero(t, room.ID)

	ids, err := s.Participants(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, ids)

	ok, err := s.IsParticipant(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsParticipant(ctx, room.ID, carol.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.CreateRoom(ctx, &ChatRoom{Name: "ghosts"}, alice.ID, []int64{12345})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := createUser(t, s, "alice")
	room := &ChatRoom{Name: "dm"}
	require.NoError(t, s.CreateRoom(ctx, room, alice.ID, nil))

	sess := s.Session(ctx)
	defer sess.Close()

	var created []*Message
	for _, content := range []string{"one", "two", "three"} {
		m, err := sess.CreateMessage(ctx, room.ID, alice.ID, content)
		require.NoError(t, err)
		assert.False(t, m.IsDeleted)
		assert.Nil(t, m.UpdatedAt)
		created = append(created, m)
	}

	latest, err := s.LatestMessages(ctx, room.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "three", latest[0].Content)
	assert.Equal(t, "two", latest[1].Content)
	assert.Equal(t, "alice", latest[0].Username)

	require.NoError(t, s.UpdateMessageContent(ctx, created[0], "uno"))
	m, err := s.MessageByID(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "uno", m.Content)
	assert.NotNil(t, m.UpdatedAt)

	require.NoError(t, s.SoftDeleteMessage(ctx, created[2]))
	latest, err = s.LatestMessages(ctx, room.ID, 50)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "two", latest[0].Content)

	_, err = s.MessageByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRoomCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := createUser(t, s, "alice")
	room := &ChatRoom{Name: "tmp"}
	require.NoError(t, s.CreateRoom(ctx, room, alice.ID, nil))

	sess := s.Session(ctx)
	m, err := sess.CreateMessage(ctx, room.ID, alice.ID, "bye")
	sess.Close()
	require.NoError(t, err)
	require.NoError(t, s.DB().Create(&Attachment{MessageID: m.ID, FileURL: "/f.png", FileType: "image/png"}).Error)

	require.NoError(t, s.DeleteRoom(ctx, room.ID))

	_, err = s.RoomByID(ctx, room.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	var count int64
	require.NoError(t, s.DB().Model(&Message{}).Where("room_id = ?", room.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, s.DB().Model(&Attachment{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, s.DB().Model(&RoomParticipant{}).Count(&count).Error)
	assert.Zero(t, count)

	assert.ErrorIs(t, s.DeleteRoom(ctx, room.ID), ErrNotFound)
}

func TestSessionCloseReleases(t *testing.T) {
	s := newTestStore(t)
	a := s.Session(context.Background())
	b := s.Session(context.Background())
	assert.Equal(t, int64(2), s.OpenSessions())

	a.Close()
	a.Close()
	assert.Equal(t, int64(1), s.OpenSessions())
	b.Close()
	assert.Zero(t, s.OpenSessions())
}

func TestPurgeDeletedMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := createUser(t, s, "alice")
	room := &ChatRoom{Name: "retention"}
	require.NoError(t, s.CreateRoom(ctx, room, alice.ID, nil))

	sess := s.Session(ctx)
	defer sess.Close()
	var msgs []*Message
	for _, content := range []string{"old", "recent", "kept"} {
		m, err := sess.CreateMessage(ctx, room.ID, alice.ID, content)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	require.NoError(t, s.DB().Create(&Attachment{MessageID: msgs[0].ID, FileURL: "/a.png", FileType: "image/png"}).Error)

	require.NoError(t, s.SoftDeleteMessage(ctx, msgs[0]))
	require.NoError(t, s.SoftDeleteMessage(ctx, msgs[1]))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.DB().Model(msgs[0]).Update("updated_at", old).Error)

	n, err := s.PurgeDeletedMessages(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.MessageByID(ctx, msgs[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.MessageByID(ctx, msgs[1].ID)
	assert.NoError(t, err)
	var count int64
	require.NoError(t, s.DB().Model(&Attachment{}).Count(&count).Error)
	assert.Zero(t, count)

	n, err = s.PurgeDeletedMessages(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}
