package store

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Session 单个实时连接持有的持久层会话，必须在连接结束时 Close
type Session struct {
	store *Store
	db    *gorm.DB
	once  sync.Once
}

// Session 打开会话，ctx 贯穿会话内的全部查询
func (s *Store) Session(ctx context.Context) *Session {
	s.open.Add(1)
	return &Session{
		store: s,
		db:    s.db.Session(&gorm.Session{Context: ctx}),
	}
}

// CreateMessage 持久化新消息
func (ss *Session) CreateMessage(ctx context.Context, roomID, userID int64, content string) (*Message, error) {
	m := &Message{RoomID: roomID, UserID: userID, Content: content}
	if err := ss.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, translate(err)
	}
	return m, nil
}

// Close 释放会话，重复调用无副作用
func (ss *Session) Close() {
	ss.once.Do(func() {
		ss.store.open.Add(-1)
	})
}
