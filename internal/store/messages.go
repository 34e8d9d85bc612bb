package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tokmz/chatd/internal/model"
)

type messageRow struct {
	Message
	Username string
}

// LatestMessages 房间最近未删除的消息，按时间倒序，带作者用户名
func (s *Store) LatestMessages(ctx context.Context, roomID int64, limit int) ([]model.Message, error) {
	var rows []messageRow
	err := s.conn(ctx).
		Table("messages").
		Select("messages.*, users.username AS username").
		Joins("LEFT JOIN users ON users.id = messages.user_id").
		Where("messages.room_id = ? AND messages.is_deleted = ?", roomID, false).
		Order("messages.created_at DESC, messages.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]model.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Snapshot(rows[i].Username))
	}
	return out, nil
}

// MessageByID 按 ID 查询消息
func (s *Store) MessageByID(ctx context.Context, id int64) (*Message, error) {
	var m Message
	if err := s.conn(ctx).First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// UpdateMessageContent 修改消息内容并记录更新时间
func (s *Store) UpdateMessageContent(ctx context.Context, m *Message, content string) error {
	now := time.Now()
	err := s.conn(ctx).Model(m).Updates(map[string]any{
		"content":    content,
		"updated_at": now,
	}).Error
	if err != nil {
		return translate(err)
	}
	m.Content = content
	m.UpdatedAt = &now
	return nil
}

// SoftDeleteMessage 软删除消息
func (s *Store) SoftDeleteMessage(ctx context.Context, m *Message) error {
	now := time.Now()
	err := s.conn(ctx).Model(m).Updates(map[string]any{
		"is_deleted": true,
		"updated_at": now,
	}).Error
	if err != nil {
		return translate(err)
	}
	m.IsDeleted = true
	m.UpdatedAt = &now
	return nil
}

// PurgeDeletedMessages 物理删除在 before 之前被软删除的消息及其附件
func (s *Store) PurgeDeletedMessages(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&Message{}).Select("id").
			Where("is_deleted = ? AND updated_at < ?", true, before)
		if err := tx.Where("message_id IN (?)", expired).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		res := tx.Where("is_deleted = ? AND updated_at < ?", true, before).Delete(&Message{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, translate(err)
	}
	return purged, nil
}
