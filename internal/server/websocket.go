package server

import (
	"github.com/gin-gonic/gin"
)

// websocket 升级后由会话处理器接管，令牌通过 token 查询参数传入
func (s *Server) websocket(c *gin.Context) {
	roomID, err := pathID(c, "room_id")
	if err != nil {
		respondError(c, err)
		return
	}
	s.Sessions.Serve(c.Writer, c.Request, roomID, c.Query("token"))
}
