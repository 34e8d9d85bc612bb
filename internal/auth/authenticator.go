package auth

import (
	"context"
	"errors"

	"github.com/tokmz/chatd/internal/store"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

// UserLookup 按 ID 查询用户
type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*store.User, error)
}

// Authenticator 令牌校验 + 用户查询
type Authenticator struct {
	tokens *TokenManager
	users  UserLookup
}

// NewAuthenticator 创建鉴权器
func NewAuthenticator(tokens *TokenManager, users UserLookup) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate 返回令牌对应的有效用户。
// 错误为 pkg/errors 业务错误：ErrInvalidToken、ErrTokenExpired、ErrUserNotFound、ErrUserInactive。
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, pkgerrors.ErrTokenExpired.WithError(err)
		}
		return nil, pkgerrors.ErrInvalidToken.WithError(err)
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, pkgerrors.ErrInvalidToken.WithError(err)
	}

	user, err := a.users.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pkgerrors.ErrUserNotFound
		}
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	if !user.IsActive {
		return nil, pkgerrors.ErrUserInactive
	}
	return user, nil
}
