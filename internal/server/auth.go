package server

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/store"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

type registerReq struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email,max=100"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

func (s *Server) register(c *gin.Context, req *registerReq) (*store.User, error) {
	hash, err := s.Passwords.Hash(req.Password)
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	u := &store.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := s.Store.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, pkgerrors.ErrConflict.WithMessage("username or email already registered")
		}
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	s.logger.InfoContext(c.Request.Context(), "user registered", zap.Int64("uid", u.ID))
	return u, nil
}

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *Server) login(c *gin.Context, req *loginReq) (*tokenResp, error) {
	ctx := c.Request.Context()
	u, err := s.Store.UserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pkgerrors.ErrBadCredentials
		}
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	if !s.Passwords.Verify(req.Password, u.PasswordHash) {
		return nil, pkgerrors.ErrBadCredentials
	}
	if !u.IsActive {
		return nil, pkgerrors.ErrUserInactive
	}

	token, err := s.Tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	if err := s.Store.TouchLastLogin(ctx, u.ID, time.Now()); err != nil {
		s.logger.WarnContext(ctx, "update last login failed", zap.Int64("uid", u.ID), zap.Error(err))
	}
	return &tokenResp{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.Tokens.TTL() / time.Second),
	}, nil
}
