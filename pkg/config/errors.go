package config

import (
	"net/http"

	"github.com/tokmz/chatd/pkg/errors"
)

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(1101, http.StatusInternalServerError, "config file not found", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(1102, http.StatusInternalServerError, "config read failed", nil)
	// ErrConfigDecode 配置解析失败
	ErrConfigDecode = errors.New(1103, http.StatusInternalServerError, "config decode failed", nil)
)
