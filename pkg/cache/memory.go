package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	gocache "github.com/patrickmn/go-cache"
)

// memoryStore 内存存储实现（单进程）
// 键空间与过期交给 go-cache，集合值使用 golang-set
type memoryStore struct {
	mu        sync.Mutex // 保护复合操作
	items     *gocache.Cache
	keyPrefix string

	subMu     sync.RWMutex
	subs      map[string]map[*memorySubscription]struct{}
	subBuffer int
	closed    bool
}

// memList 列表值，原地修改以保留过期时间
type memList struct {
	items []string
}

// NewMemory 创建内存存储
func NewMemory(cfg *MemoryConfig) Store {
	return newMemoryStore(&Config{Driver: DriverMemory, Memory: cfg})
}

func newMemoryStore(cfg *Config) *memoryStore {
	mc := cfg.Memory
	if mc == nil {
		mc = DefaultMemoryConfig()
	}
	if mc.SubscribeBuffer <= 0 {
		mc.SubscribeBuffer = 64
	}
	return &memoryStore{
		items:     gocache.New(gocache.NoExpiration, mc.CleanupInterval),
		keyPrefix: cfg.KeyPrefix,
		subs:      make(map[string]map[*memorySubscription]struct{}),
		subBuffer: mc.SubscribeBuffer,
	}
}

func (m *memoryStore) buildKey(key string) string {
	return m.keyPrefix + key
}

// expiration 取剩余过期时间，无过期返回 NoExpiration
func (m *memoryStore) expiration(fullKey string) time.Duration {
	_, exp, found := m.items.GetWithExpiration(fullKey)
	if !found || exp.IsZero() {
		return gocache.NoExpiration
	}
	if d := time.Until(exp); d > 0 {
		return d
	}
	return time.Nanosecond
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.items.Get(m.buildKey(key))
	if !found {
		return "", ErrNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrWrongType
	}
	return s, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value, ttl)
	return nil
}

func (m *memoryStore) set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.items.Set(m.buildKey(key), value, ttl)
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.del(keys...)
	return nil
}

func (m *memoryStore) del(keys ...string) {
	for _, k := range keys {
		m.items.Delete(m.buildKey(k))
	}
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.items.Get(m.buildKey(key))
	return found, nil
}

func (m *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key, ttl)
	return nil
}

// expire 键不存在时无操作，ttl <= 0 时删除
func (m *memoryStore) expire(key string, ttl time.Duration) {
	fullKey := m.buildKey(key)
	v, found := m.items.Get(fullKey)
	if !found {
		return
	}
	if ttl <= 0 {
		m.items.Delete(fullKey)
		return
	}
	m.items.Set(fullKey, v, ttl)
}

func (m *memoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fullKey := m.buildKey(key)
	if _, found := m.items.Get(fullKey); !found {
		return 0, ErrNotFound
	}
	d := m.expiration(fullKey)
	if d == gocache.NoExpiration {
		return -1, nil
	}
	return d, nil
}

// list 取列表值，create 为 true 时不存在则创建
func (m *memoryStore) list(key string, create bool) (*memList, error) {
	fullKey := m.buildKey(key)
	v, found := m.items.Get(fullKey)
	if !found {
		if !create {
			return nil, nil
		}
		l := &memList{}
		m.items.Set(fullKey, l, gocache.NoExpiration)
		return l, nil
	}
	l, ok := v.(*memList)
	if !ok {
		return nil, ErrWrongType
	}
	return l, nil
}

func (m *memoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lpush(key, values...)
}

func (m *memoryStore) lpush(key string, values ...string) (int64, error) {
	l, err := m.list(key, true)
	if err != nil {
		return 0, err
	}
	// LPUSH a b c 结果为 c b a
	head := make([]string, 0, len(values)+len(l.items))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	l.items = append(head, l.items...)
	return int64(len(l.items)), nil
}

func (m *memoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpush(key, values...)
}

func (m *memoryStore) rpush(key string, values ...string) (int64, error) {
	l, err := m.list(key, true)
	if err != nil {
		return 0, err
	}
	l.items = append(l.items, values...)
	return int64(len(l.items)), nil
}

func (m *memoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ltrim(key, start, stop)
}

func (m *memoryStore) ltrim(key string, start, stop int64) error {
	l, err := m.list(key, false)
	if err != nil || l == nil {
		return err
	}
	from, to, ok := normalizeRange(start, stop, int64(len(l.items)))
	if !ok {
		m.del(key)
		return nil
	}
	l.items = append([]string(nil), l.items[from:to+1]...)
	return nil
}

func (m *memoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.list(key, false)
	if err != nil || l == nil {
		return []string{}, err
	}
	from, to, ok := normalizeRange(start, stop, int64(len(l.items)))
	if !ok {
		return []string{}, nil
	}
	out := make([]string, to-from+1)
	copy(out, l.items[from:to+1])
	return out, nil
}

func (m *memoryStore) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.list(key, false)
	if err != nil || l == nil {
		return 0, err
	}
	return int64(len(l.items)), nil
}

// setValue 取集合值，create 为 true 时不存在则创建
func (m *memoryStore) setValue(key string, create bool) (mapset.Set, error) {
	fullKey := m.buildKey(key)
	v, found := m.items.Get(fullKey)
	if !found {
		if !create {
			return nil, nil
		}
		s := mapset.NewThreadUnsafeSet()
		m.items.Set(fullKey, s, gocache.NoExpiration)
		return s, nil
	}
	s, ok := v.(mapset.Set)
	if !ok {
		return nil, ErrWrongType
	}
	return s, nil
}

func (m *memoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sadd(key, members...)
}

func (m *memoryStore) sadd(key string, members ...string) (int64, error) {
	s, err := m.setValue(key, true)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, member := range members {
		if s.Add(member) {
			added++
		}
	}
	return added, nil
}

func (m *memoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.srem(key, members...)
}

func (m *memoryStore) srem(key string, members ...string) (int64, error) {
	s, err := m.setValue(key, false)
	if err != nil || s == nil {
		return 0, err
	}
	var removed int64
	for _, member := range members {
		if s.Contains(member) {
			s.Remove(member)
			removed++
		}
	}
	if s.Cardinality() == 0 {
		m.del(key)
	}
	return removed, nil
}

func (m *memoryStore) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.setValue(key, false)
	if err != nil || s == nil {
		return 0, err
	}
	return int64(s.Cardinality()), nil
}

func (m *memoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.setValue(key, false)
	if err != nil || s == nil {
		return []string{}, err
	}
	out := make([]string, 0, s.Cardinality())
	for _, v := range s.ToSlice() {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.setValue(key, false)
	if err != nil || s == nil {
		return false, err
	}
	return s.Contains(member), nil
}

// Tx 持有存储锁顺序执行排队命令
func (m *memoryStore) Tx(_ context.Context, fn func(tx Tx)) error {
	tx := &memoryTx{}
	fn(tx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		if err := op(m); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryStore) Publish(_ context.Context, channel, payload string) error {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}

	msg := Message{Channel: channel, Payload: payload}
	for sub := range m.subs[channel] {
		sub.deliver(msg)
	}
	return nil
}

func (m *memoryStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	sub := &memorySubscription{
		store:    m,
		channels: channels,
		ch:       make(chan Message, m.subBuffer),
	}
	for _, c := range channels {
		if m.subs[c] == nil {
			m.subs[c] = make(map[*memorySubscription]struct{})
		}
		m.subs[c][sub] = struct{}{}
	}
	return sub, nil
}

func (m *memoryStore) unsubscribe(sub *memorySubscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, c := range sub.channels {
		delete(m.subs[c], sub)
		if len(m.subs[c]) == 0 {
			delete(m.subs, c)
		}
	}
}

func (m *memoryStore) Ping(context.Context) error {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.subMu.Lock()
	subs := m.subs
	m.subs = make(map[string]map[*memorySubscription]struct{})
	m.closed = true
	m.subMu.Unlock()

	seen := make(map[*memorySubscription]struct{})
	for _, set := range subs {
		for sub := range set {
			if _, ok := seen[sub]; !ok {
				seen[sub] = struct{}{}
				sub.closeChan()
			}
		}
	}
	m.items.Flush()
	return nil
}

// memoryTx 排队的写命令
type memoryTx struct {
	ops []func(m *memoryStore) error
}

func (t *memoryTx) add(op func(m *memoryStore) error) {
	t.ops = append(t.ops, op)
}

func (t *memoryTx) Set(key, value string, ttl time.Duration) {
	t.add(func(m *memoryStore) error { m.set(key, value, ttl); return nil })
}

func (t *memoryTx) Del(keys ...string) {
	t.add(func(m *memoryStore) error { m.del(keys...); return nil })
}

func (t *memoryTx) Expire(key string, ttl time.Duration) {
	t.add(func(m *memoryStore) error { m.expire(key, ttl); return nil })
}

func (t *memoryTx) LPush(key string, values ...string) {
	t.add(func(m *memoryStore) error { _, err := m.lpush(key, values...); return err })
}

func (t *memoryTx) LPushX(key string, values ...string) {
	t.add(func(m *memoryStore) error {
		l, err := m.list(key, false)
		if err != nil || l == nil {
			return err
		}
		_, err = m.lpush(key, values...)
		return err
	})
}

func (t *memoryTx) RPush(key string, values ...string) {
	t.add(func(m *memoryStore) error { _, err := m.rpush(key, values...); return err })
}

func (t *memoryTx) LTrim(key string, start, stop int64) {
	t.add(func(m *memoryStore) error { return m.ltrim(key, start, stop) })
}

func (t *memoryTx) SAdd(key string, members ...string) {
	t.add(func(m *memoryStore) error { _, err := m.sadd(key, members...); return err })
}

func (t *memoryTx) SRem(key string, members ...string) {
	t.add(func(m *memoryStore) error { _, err := m.srem(key, members...); return err })
}

// memorySubscription 进程内订阅
type memorySubscription struct {
	store    *memoryStore
	channels []string
	ch       chan Message
	once     sync.Once
	mu       sync.RWMutex
	closed   bool
}

// deliver 订阅者消费过慢时丢弃消息
func (s *memorySubscription) deliver(msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *memorySubscription) Channel() <-chan Message {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.store.unsubscribe(s)
	s.closeChan()
	return nil
}

func (s *memorySubscription) closeChan() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// normalizeRange 按 Redis 规则换算列表下标，返回闭区间
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
