package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/internal/msgcache"
	"github.com/tokmz/chatd/internal/store"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

type createRoomReq struct {
	Name           string  `json:"name" binding:"required,max=100"`
	IsGroup        bool    `json:"is_group"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

type roomResp struct {
	*store.ChatRoom
	Participants []int64 `json:"participants"`
}

func (s *Server) createRoom(c *gin.Context, req *createRoomReq) (*roomResp, error) {
	ctx := c.Request.Context()
	user := currentUser(c)
	room := &store.ChatRoom{Name: req.Name, IsGroup: req.IsGroup}
	if err := s.Store.CreateRoom(ctx, room, user.ID, req.ParticipantIDs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pkgerrors.ErrBadRequest.WithMessage("participant not found")
		}
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	members, err := s.Store.Participants(ctx, room.ID)
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	s.logger.InfoContext(ctx, "room created", zap.Int64("room_id", room.ID), zap.Int("participants", len(members)))
	return &roomResp{ChatRoom: room, Participants: members}, nil
}

func (s *Server) deleteRoom(c *gin.Context) error {
	ctx := c.Request.Context()
	roomID, err := pathID(c, "room_id")
	if err != nil {
		return err
	}
	if err := s.requireParticipant(ctx, roomID, currentUser(c).ID); err != nil {
		return err
	}
	if err := s.Store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pkgerrors.ErrRoomNotFound
		}
		return pkgerrors.ErrServer.WithError(err)
	}
	s.invalidate(ctx, roomID)
	return nil
}

type latestReq struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=50"`
}

type latestResp struct {
	Messages []model.Message `json:"messages"`
	Source   msgcache.Source `json:"source"`
}

// latestMessages 最近消息，缓存未命中时回源并回填
func (s *Server) latestMessages(c *gin.Context, req *latestReq) (*latestResp, error) {
	ctx := c.Request.Context()
	roomID, err := pathID(c, "room_id")
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, roomID, currentUser(c).ID); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}
	msgs, src, err := s.Messages.Recent(ctx, roomID, limit, func(ctx context.Context, n int) ([]model.Message, error) {
		return s.Store.LatestMessages(ctx, roomID, n)
	})
	if err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return &latestResp{Messages: msgs, Source: src}, nil
}

// requireParticipant 房间存在且用户是成员
func (s *Server) requireParticipant(ctx context.Context, roomID, userID int64) error {
	if _, err := s.Store.RoomByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return pkgerrors.ErrRoomNotFound
		}
		return pkgerrors.ErrServer.WithError(err)
	}
	ok, err := s.Store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return pkgerrors.ErrServer.WithError(err)
	}
	if !ok {
		return pkgerrors.ErrNotParticipant
	}
	return nil
}

func (s *Server) invalidate(ctx context.Context, roomID int64) {
	if err := s.Messages.Invalidate(ctx, roomID); err != nil {
		s.logger.WarnContext(ctx, "invalidate message cache failed", zap.Int64("room_id", roomID), zap.Error(err))
	}
}
