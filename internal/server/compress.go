package server

import (
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// gzipWriter 先缓冲到 minLength，超过才启用压缩
type gzipWriter struct {
	gin.ResponseWriter
	gz        *gzip.Writer
	minLength int
	buf       []byte
	decided   bool
	compress  bool
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	if w.decided {
		if w.compress {
			return w.gz.Write(data)
		}
		return w.ResponseWriter.Write(data)
	}

	w.buf = append(w.buf, data...)
	if len(w.buf) < w.minLength {
		return len(data), nil
	}
	w.decided, w.compress = true, true
	h := w.ResponseWriter.Header()
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	if _, err := w.gz.Write(w.buf); err != nil {
		return 0, err
	}
	w.buf = nil
	return len(data), nil
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// finish 未达阈值的响应原样写出
func (w *gzipWriter) finish() error {
	if !w.decided {
		w.decided = true
		if len(w.buf) > 0 {
			_, err := w.ResponseWriter.Write(w.buf)
			w.buf = nil
			return err
		}
		return nil
	}
	if w.compress {
		return w.gz.Close()
	}
	return nil
}

// compress 对接受 gzip 的客户端压缩响应体
func compress(level, minLength int) gin.HandlerFunc {
	pool := sync.Pool{
		New: func() any {
			gz, err := gzip.NewWriterLevel(io.Discard, level)
			if err != nil {
				gz = gzip.NewWriter(io.Discard)
			}
			return gz
		},
	}
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		gz := pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)
		w := &gzipWriter{ResponseWriter: c.Writer, gz: gz, minLength: minLength}
		c.Writer = w
		defer func() {
			_ = w.finish()
			gz.Reset(io.Discard)
			pool.Put(gz)
		}()

		c.Next()
	}
}
