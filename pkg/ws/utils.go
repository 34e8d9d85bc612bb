package ws

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// connIDCounter 连接 ID 计数器
var connIDCounter atomic.Uint64

// generateID 生成唯一 ID（时间戳 + 计数器 + 随机数）
func generateID(prefix string, counter *atomic.Uint64) string {
	timestamp := time.Now().UnixNano()
	count := counter.Add(1)

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// 降级到时间戳 + 计数器，计数器已保证唯一
		return fmt.Sprintf("%s_%d_%d", prefix, timestamp, count)
	}
	return fmt.Sprintf("%s_%d_%d_%s", prefix, timestamp, count, hex.EncodeToString(b))
}

// NewConnID 生成连接 ID
func NewConnID() string {
	return generateID("conn", &connIDCounter)
}
