package errors

import "net/http"

/*
	内置错误码
	1xxx 通用错误
	2xxx 认证错误
	3xxx 聊天业务错误
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, http.StatusInternalServerError, "internal server error", nil)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, http.StatusBadRequest, "bad request", nil)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, http.StatusUnauthorized, "could not validate credentials", nil)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, http.StatusForbidden, "forbidden", nil)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, http.StatusNotFound, "resource not found", nil)
	// ErrConflict 资源冲突
	ErrConflict = New(1005, http.StatusConflict, "resource already exists", nil)
	// ErrTooManyRequests 请求过于频繁
	ErrTooManyRequests = New(1006, http.StatusTooManyRequests, "too many requests", nil)
)

var (
	// ErrInvalidToken 令牌无效
	ErrInvalidToken = New(2001, http.StatusUnauthorized, "invalid token", nil)
	// ErrTokenExpired 令牌过期
	ErrTokenExpired = New(2002, http.StatusUnauthorized, "token expired", nil)
	// ErrUserInactive 用户已停用
	ErrUserInactive = New(2003, http.StatusForbidden, "inactive user", nil)
	// ErrBadCredentials 用户名或密码错误
	ErrBadCredentials = New(2004, http.StatusUnauthorized, "incorrect username or password", nil)
	// ErrUserNotFound 令牌对应的用户不存在
	ErrUserNotFound = New(2005, http.StatusUnauthorized, "user not found", nil)
)

var (
	// ErrRoomNotFound 聊天室不存在
	ErrRoomNotFound = New(3001, http.StatusNotFound, "room not found", nil)
	// ErrNotParticipant 不是聊天室成员
	ErrNotParticipant = New(3002, http.StatusForbidden, "not a participant of this room", nil)
	// ErrMessageNotFound 消息不存在
	ErrMessageNotFound = New(3003, http.StatusNotFound, "message not found", nil)
	// ErrNotAuthor 不是消息作者
	ErrNotAuthor = New(3004, http.StatusForbidden, "only the author can modify this message", nil)
)
