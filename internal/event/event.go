// Package event 实时通道事件定义
//
// 出站事件是带类型标签的联合体，每种事件一个结构体；只有在 Encode 时才转换为
// {"type","data","timestamp"} 形式的通用映射。
package event

import (
	"time"

	"github.com/tokmz/chatd/internal/model"
)

// Type 事件类型标签
type Type string

const (
	TypeMessage        Type = "message"
	TypeMessageSent    Type = "message_sent"
	TypeMessageUpdated Type = "message_updated"
	TypeMessageDeleted Type = "message_deleted"
	TypeTyping         Type = "typing"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeConnected      Type = "connected"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
)

// Event 出站事件
type Event interface {
	Type() Type
	data() map[string]any
}

// Message 房间内新消息，发送者本人也会收到
type Message struct {
	Message model.Message
}

func (Message) Type() Type { return TypeMessage }

func (e Message) data() map[string]any { return snapshotData(e.Message) }

// MessageSent 发送者私有确认
type MessageSent struct {
	MessageID int64
	Timestamp time.Time
}

func (MessageSent) Type() Type { return TypeMessageSent }

func (e MessageSent) data() map[string]any {
	return map[string]any{
		"message_id": e.MessageID,
		"timestamp":  formatTime(e.Timestamp),
	}
}

// MessageUpdated 消息被编辑
type MessageUpdated struct {
	Message model.Message
}

func (MessageUpdated) Type() Type { return TypeMessageUpdated }

func (e MessageUpdated) data() map[string]any { return snapshotData(e.Message) }

// MessageDeleted 消息被软删除
type MessageDeleted struct {
	MessageID int64
	RoomID    int64
	UserID    int64
}

func (MessageDeleted) Type() Type { return TypeMessageDeleted }

func (e MessageDeleted) data() map[string]any {
	return map[string]any{
		"message_id": e.MessageID,
		"room_id":    e.RoomID,
		"user_id":    e.UserID,
	}
}

// Typing 输入状态
type Typing struct {
	UserID   int64
	Username string
	IsTyping bool
}

func (Typing) Type() Type { return TypeTyping }

func (e Typing) data() map[string]any {
	return map[string]any{
		"user_id":   e.UserID,
		"username":  e.Username,
		"is_typing": e.IsTyping,
	}
}

// UserJoined 有用户进入房间
type UserJoined struct {
	UserID   int64
	Username string
}

func (UserJoined) Type() Type { return TypeUserJoined }

func (e UserJoined) data() map[string]any {
	return map[string]any{
		"user_id":  e.UserID,
		"username": e.Username,
		"message":  e.Username + " joined the chat",
	}
}

// UserLeft 有用户离开房间
type UserLeft struct {
	UserID   int64
	Username string
}

func (UserLeft) Type() Type { return TypeUserLeft }

func (e UserLeft) data() map[string]any {
	return map[string]any{
		"user_id":  e.UserID,
		"username": e.Username,
		"message":  e.Username + " left the chat",
	}
}

// Connected 接入成功，携带当前房间成员
type Connected struct {
	RoomID      int64
	ActiveUsers []model.Member
}

func (Connected) Type() Type { return TypeConnected }

func (e Connected) data() map[string]any {
	users := make([]map[string]any, 0, len(e.ActiveUsers))
	for _, m := range e.ActiveUsers {
		users = append(users, map[string]any{
			"user_id":  m.UserID,
			"username": m.Username,
		})
	}
	return map[string]any{
		"room_id":      e.RoomID,
		"message":      "Connected to room",
		"active_users": users,
	}
}

// Error 私有错误通知
type Error struct {
	Message string
	Details string
}

func (Error) Type() Type { return TypeError }

func (e Error) data() map[string]any {
	d := map[string]any{"message": e.Message}
	if e.Details != "" {
		d["details"] = e.Details
	}
	return d
}

// Pong ping 的回应
type Pong struct{}

func (Pong) Type() Type { return TypePong }

func (Pong) data() map[string]any { return map[string]any{} }

func snapshotData(m model.Message) map[string]any {
	var updated any
	if m.UpdatedAt != nil {
		updated = formatTime(*m.UpdatedAt)
	}
	d := map[string]any{
		"id":         m.ID,
		"room_id":    m.RoomID,
		"user_id":    m.UserID,
		"content":    m.Content,
		"created_at": formatTime(m.CreatedAt),
		"updated_at": updated,
		"is_deleted": m.IsDeleted,
	}
	if m.Username != "" {
		d["username"] = m.Username
	}
	return d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
