// Package store 关系型持久层
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("store: duplicate")
)

// Store 持久层入口
type Store struct {
	db *gorm.DB

	open atomic.Int64
}

// New 基于已打开的数据库创建
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 底层连接
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate 创建或更新全部表结构
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping 检查数据库连通性
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// OpenSessions 尚未关闭的会话数
func (s *Store) OpenSessions() int64 {
	return s.open.Load()
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
