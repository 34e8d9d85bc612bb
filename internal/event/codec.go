package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedFrame 入站帧不是合法的 JSON 对象
var ErrMalformedFrame = errors.New("event: malformed frame")

// Envelope 出站帧
type Envelope struct {
	Type      Type           `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// Encode 以当前时间编码事件
func Encode(e Event) ([]byte, error) {
	return EncodeAt(e, time.Now())
}

// EncodeAt 以指定时间编码事件
func EncodeAt(e Event, at time.Time) ([]byte, error) {
	env := Envelope{
		Type:      e.Type(),
		Data:      e.data(),
		Timestamp: formatTime(at),
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", e.Type(), err)
	}
	return b, nil
}

// MustEncode 编码失败时 panic，仅用于载荷可确定序列化的场景
func MustEncode(e Event) []byte {
	b, err := Encode(e)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeEnvelope 解析出站帧，供客户端与测试使用
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return &env, nil
}

// Int64 读取整数字段
func (e *Envelope) Int64(key string) (int64, bool) {
	switch v := e.Data[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// String 读取字符串字段
func (e *Envelope) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Bool 读取布尔字段
func (e *Envelope) Bool(key string) bool {
	b, _ := e.Data[key].(bool)
	return b
}

// Frame 入站帧
type Frame struct {
	Type     Type   `json:"type"`
	Content  string `json:"content"`
	IsTyping *bool  `json:"is_typing"`
}

// Typing 缺省视为正在输入
func (f Frame) Typing() bool {
	return f.IsTyping == nil || *f.IsTyping
}

// ParseFrame 解析入站帧，类型校验由调用方完成
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Known 入站帧类型是否受支持
func (f Frame) Known() bool {
	switch f.Type {
	case TypeMessage, TypeTyping, TypePing:
		return true
	}
	return false
}
