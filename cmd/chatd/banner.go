package main

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

const banner = `
  ____ _           _      _
 / ___| |__   __ _| |_ __| |   chatd %s
| |   | '_ \ / _' | __/ _' |   http: %s
| |___| | | | (_| | || (_| |   ws:   %s/ws/{room_id}?token=...
 \____|_| |_|\__,_|\__\__,_|
`

// printBanner 打印启动信息
func printBanner(out io.Writer, addr string) {
	open := addr
	switch {
	case strings.HasPrefix(addr, ":"):
		open = "127.0.0.1" + addr
	case !strings.Contains(addr, ":"):
		open = "127.0.0.1:" + addr
	}
	fmt.Fprintf(out, banner, version, "http://"+open, "ws://"+open)
	fmt.Fprintf(out, "Go version: %s | OS: %s/%s\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
