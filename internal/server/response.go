package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/chatd/pkg/errors"
	"github.com/tokmz/chatd/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func respond(c *gin.Context, status int, resp *Response) {
	resp.TraceID = logger.TraceIDFromContext(c.Request.Context())
	c.JSON(status, resp)
}

// success 成功响应
func success(c *gin.Context, data any) {
	respond(c, http.StatusOK, &Response{Code: http.StatusOK, Data: data, Message: "success"})
}

// respondError 业务错误按其 HTTP 状态码返回，未知错误归为 500
func respondError(c *gin.Context, err error) {
	biz := errors.From(err)
	if biz.HttpCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	respond(c, biz.HttpCode, &Response{Code: biz.Code, Message: biz.Message})
}

// abortError 中断后续处理并返回错误
func abortError(c *gin.Context, err error) {
	respondError(c, err)
	c.Abort()
}
