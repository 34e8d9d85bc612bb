package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/chatd/internal/hub"
	"github.com/tokmz/chatd/internal/msgcache"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

func (s *Server) wsStats(*gin.Context) (*hub.Stats, error) {
	st := s.Registry.Stats()
	return &st, nil
}

func (s *Server) cacheStats(c *gin.Context) (*msgcache.Stats, error) {
	st := s.Messages.Stats(c.Request.Context())
	return &st, nil
}

type onlineResp struct {
	UserIDs []int64 `json:"user_ids"`
	Count   int     `json:"count"`
}

func (s *Server) onlineUsers(c *gin.Context) (*onlineResp, error) {
	ids, err := s.Presence.OnlineUsers(c.Request.Context())
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	return &onlineResp{UserIDs: ids, Count: len(ids)}, nil
}

type presenceResp struct {
	UserID      int64 `json:"user_id"`
	Online      bool  `json:"online"`
	Connections int64 `json:"connections"`
}

func (s *Server) userPresence(c *gin.Context) (*presenceResp, error) {
	ctx := c.Request.Context()
	uid, err := pathID(c, "user_id")
	if err != nil {
		return nil, err
	}
	online, err := s.Presence.IsOnline(ctx, uid)
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	n, err := s.Presence.ConnectionCount(ctx, uid)
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	return &presenceResp{UserID: uid, Online: online, Connections: n}, nil
}

type healthResp struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// health 数据库不可用时返回 503；缓存不可用只降级
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResp{Status: "ok", Database: "ok", Cache: "ok"}
	if !s.Messages.Stats(ctx).RedisConnected {
		resp.Cache = "unavailable"
		resp.Status = "degraded"
	}
	status := http.StatusOK
	if err := s.Store.Ping(ctx); err != nil {
		resp.Database = "unavailable"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	respond(c, status, &Response{Code: status, Data: resp, Message: resp.Status})
}
