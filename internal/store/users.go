package store

import (
	"context"
	"time"
)

// CreateUser 新建用户，用户名或邮箱重复时返回 ErrDuplicate
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.IsActive = true
	return translate(s.conn(ctx).Create(u).Error)
}

// UserByID 按 ID 查询
func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := s.conn(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// UserByUsername 按用户名查询
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := s.conn(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// TouchLastLogin 更新最后登录时间
func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	res := s.conn(ctx).Model(&User{}).Where("id = ?", id).Update("last_login", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserActive 启用或停用用户
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	res := s.conn(ctx).Model(&User{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
