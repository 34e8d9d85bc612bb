package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/chatd/internal/event"
	"github.com/tokmz/chatd/internal/model"
	"github.com/tokmz/chatd/internal/notify"
	"github.com/tokmz/chatd/internal/store"
	pkgerrors "github.com/tokmz/chatd/pkg/errors"
)

type updateMessageReq struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) updateMessage(c *gin.Context, req *updateMessageReq) (*model.Message, error) {
	ctx := c.Request.Context()
	user := currentUser(c)
	m, err := s.authoredMessage(c, user.ID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, pkgerrors.ErrBadRequest.WithMessage("cannot edit deleted message")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, pkgerrors.ErrBadRequest.WithMessage("message content cannot be empty")
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(req.Content) > s.maxContentLength {
		return nil, pkgerrors.ErrBadRequest.WithMessage(fmt.Sprintf("message content exceeds %d characters", s.maxContentLength))
	}

	if err := s.Store.UpdateMessageContent(ctx, m, req.Content); err != nil {
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	snapshot := m.Snapshot(user.Username)

	s.invalidate(ctx, m.RoomID)
	s.Registry.Broadcast(m.RoomID, event.MessageUpdated{Message: snapshot}, "")
	s.Publisher.Notify(ctx, notify.Event{
		Type:    notify.MessageUpdated,
		RoomID:  m.RoomID,
		UserID:  user.ID,
		Payload: snapshot,
	})
	return &snapshot, nil
}

func (s *Server) deleteMessage(c *gin.Context) error {
	ctx := c.Request.Context()
	user := currentUser(c)
	m, err := s.authoredMessage(c, user.ID)
	if err != nil {
		return err
	}
	if m.IsDeleted {
		return pkgerrors.ErrMessageNotFound
	}
	if err := s.Store.SoftDeleteMessage(ctx, m); err != nil {
		return pkgerrors.ErrServer.WithError(err)
	}

	s.invalidate(ctx, m.RoomID)
	s.Registry.Broadcast(m.RoomID, event.MessageDeleted{MessageID: m.ID, RoomID: m.RoomID, UserID: m.UserID}, "")
	s.Publisher.Notify(ctx, notify.Event{
		Type:   notify.MessageDeleted,
		RoomID: m.RoomID,
		UserID: user.ID,
		Payload: map[string]int64{
			"message_id": m.ID,
		},
	})
	return nil
}

// authoredMessage 路径中的消息，且当前用户是作者
func (s *Server) authoredMessage(c *gin.Context, userID int64) (*store.Message, error) {
	id, err := pathID(c, "message_id")
	if err != nil {
		return nil, err
	}
	m, err := s.Store.MessageByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pkgerrors.ErrMessageNotFound
		}
		return nil, pkgerrors.ErrServer.WithError(err)
	}
	if m.UserID != userID {
		return nil, pkgerrors.ErrNotAuthor
	}
	return m, nil
}
