// Package model 实时层与存储层共享的快照类型
package model

import "time"

// Message 消息快照，缓存与事件载荷共用
type Message struct {
	ID        int64      `json:"id"`
	RoomID    int64      `json:"room_id"`
	UserID    int64      `json:"user_id"`
	Username  string     `json:"username,omitempty"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	IsDeleted bool       `json:"is_deleted"`
}

// Member 房间在线成员
type Member struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
