package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/chatd/pkg/errors"
)

// handle 自动绑定请求并输出统一响应
func handle[Req any, Resp any](fn func(*gin.Context, *Req) (*Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Req
		if err := bind(c, &req); err != nil {
			respondError(c, err)
			return
		}
		resp, err := fn(c, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		success(c, resp)
	}
}

// handleOnly 无请求参数
func handleOnly[Resp any](fn func(*gin.Context) (*Resp, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := fn(c)
		if err != nil {
			respondError(c, err)
			return
		}
		success(c, resp)
	}
}

// handle0 无响应数据
func handle0(fn func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			respondError(c, err)
			return
		}
		success(c, nil)
	}
}

// bind GET/DELETE 绑定查询参数，其余绑定 JSON 请求体
func bind(c *gin.Context, obj any) error {
	var err error
	switch c.Request.Method {
	case http.MethodGet, http.MethodDelete:
		err = c.ShouldBindQuery(obj)
	default:
		err = c.ShouldBindJSON(obj)
	}
	if err != nil {
		return errors.ErrBadRequest.WithError(err).WithMessage("invalid request: " + err.Error())
	}
	return nil
}

// pathID 解析正整数路径参数
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrBadRequest.WithMessage("invalid " + name)
	}
	return id, nil
}
