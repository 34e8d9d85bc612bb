package store

import (
	"time"

	"github.com/tokmz/chatd/internal/model"
)

// User 用户
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email        string     `gorm:"size:100;not null;uniqueIndex" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
}

// ChatRoom 聊天室，单聊或群聊
type ChatRoom struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	IsGroup   bool      `gorm:"not null;default:false" json:"is_group"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// RoomParticipant 房间成员
type RoomParticipant struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID   int64     `gorm:"not null;uniqueIndex:uq_room_user" json:"room_id"`
	UserID   int64     `gorm:"not null;uniqueIndex:uq_room_user;index" json:"user_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

// Message 消息，删除为软删除
type Message struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64      `gorm:"not null;index:idx_room_created,priority:1" json:"room_id"`
	UserID    int64      `gorm:"not null;index" json:"user_id"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time  `gorm:"not null;index:idx_room_created,priority:2" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
	IsDeleted bool       `gorm:"not null;default:false" json:"is_deleted"`

	Attachments []Attachment `gorm:"constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
}

// Attachment 消息附件
type Attachment struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID  int64     `gorm:"not null;index" json:"message_id"`
	FileURL    string    `gorm:"size:500;not null" json:"file_url"`
	FileType   string    `gorm:"size:50;not null" json:"file_type"`
	UploadedAt time.Time `gorm:"not null" json:"uploaded_at"`
}

// ContactStatus 联系人状态
type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactBlocked  ContactStatus = "blocked"
)

// Contact 用户之间的联系人关系
type Contact struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64         `gorm:"not null;uniqueIndex:unique_contact_relationship" json:"user_id"`
	ContactID int64         `gorm:"not null;uniqueIndex:unique_contact_relationship" json:"contact_id"`
	Status    ContactStatus `gorm:"size:20;not null;default:pending" json:"status"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt *time.Time    `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// Models 参与迁移的全部表
func Models() []any {
	return []any{&User{}, &ChatRoom{}, &RoomParticipant{}, &Message{}, &Attachment{}, &Contact{}}
}

// Snapshot 转为缓存与事件使用的快照
func (m *Message) Snapshot(username string) model.Message {
	var updated *time.Time
	if m.UpdatedAt != nil {
		t := m.UpdatedAt.UTC()
		updated = &t
	}
	return model.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: updated,
		IsDeleted: m.IsDeleted,
	}
}
