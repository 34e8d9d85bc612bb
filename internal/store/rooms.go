package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CreateRoom 新建房间并加入成员，creatorID 总是成员
func (s *Store) CreateRoom(ctx context.Context, room *ChatRoom, creatorID int64, participantIDs []int64) error {
	ids := make([]int64, 0, len(participantIDs)+1)
	seen := map[int64]struct{}{creatorID: {}}
	ids = append(ids, creatorID)
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return translate(s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
			return err
		}
		if count != int64(len(ids)) {
			return ErrNotFound
		}

		if err := tx.Create(room).Error; err != nil {
			return err
		}
		now := time.Now()
		members := make([]RoomParticipant, 0, len(ids))
		for _, id := range ids {
			members = append(members, RoomParticipant{RoomID: room.ID, UserID: id, JoinedAt: now})
		}
		return tx.Create(&members).Error
	}))
}

// RoomByID 按 ID 查询房间
func (s *Store) RoomByID(ctx context.Context, id int64) (*ChatRoom, error) {
	var r ChatRoom
	if err := s.conn(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// IsParticipant 用户是否为房间成员
func (s *Store) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// Participants 房间成员 ID
func (s *Store) Participants(ctx context.Context, roomID int64) ([]int64, error) {
	var ids []int64
	err := s.conn(ctx).Model(&RoomParticipant{}).
		Where("room_id = ?", roomID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, translate(err)
}

// DeleteRoom 删除房间及其成员、消息与附件
func (s *Store) DeleteRoom(ctx context.Context, roomID int64) error {
	return translate(s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ChatRoom{}, roomID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		messageIDs := tx.Model(&Message{}).Select("id").Where("room_id = ?", roomID)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("room_id = ?", roomID).Delete(&RoomParticipant{}).Error
	}))
}
