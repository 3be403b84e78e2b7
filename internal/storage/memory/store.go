// Package memory 提供进程内的键值和发布订阅后端，用于开发环境和测试。
package memory

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/tylaig/msatempmail/internal/storage"
)

// ErrWrongType 对列表键执行字符串操作，或反之
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// subscriptionBuffer 每个订阅缓冲的消息数，满了之后新消息被丢弃
const subscriptionBuffer = 64

type entry struct {
	value     []byte
	list      []string
	isList    bool
	expiresAt time.Time // 零值表示永不过期
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store 使用内存保存带过期时间的键值数据，并提供进程内的发布订阅。
//
// 过期的键在访问时惰性删除，后台清理协程定期回收剩余的过期键。
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time

	subsMu sync.RWMutex
	subs   map[*subscription]struct{}

	cleanupInterval time.Duration
	stop            chan struct{}
	closeOnce       sync.Once
}

var _ storage.Backend = (*Store)(nil)

// Option 配置内存存储
type Option func(*Store)

// WithClock 替换时钟，测试中用来模拟时间流逝
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCleanupInterval 设置后台清理间隔，0 表示不启动清理协程
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// NewStore 创建内存存储
func NewStore(opts ...Option) *Store {
	s := &Store{
		data:            make(map[string]*entry),
		now:             time.Now,
		subs:            make(map[*subscription]struct{}),
		cleanupInterval: time.Minute,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 启动定期清理
	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// cleanupLoop 定期清理过期条目
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.DeleteExpired()
		}
	}
}

// DeleteExpired 删除所有已过期的键，返回删除数量
func (s *Store) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.data {
		if e.expired(now) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前未过期的键数量
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// lookup 返回未过期的条目，调用方必须持有 s.mu
func (s *Store) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// SetEX 写入值，ttl 为 0 时永不过期
func (s *Store) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{
		value:     append([]byte(nil), value...),
		expiresAt: s.deadline(ttl),
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil, storage.ErrKeyNotFound
	}
	if e.isList {
		return nil, ErrWrongType
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lookup(key) != nil, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return 0, storage.ErrKeyNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Expire 设置过期时间，ttl 不为正时立即删除键
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.data, key)
		return true, nil
	}
	e.expiresAt = s.deadline(ttl)
	return true, nil
}

func (s *Store) ResetList(_ context.Context, key, head string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{
		list:      []string{head},
		isList:    true,
		expiresAt: s.deadline(ttl),
	}
	return nil
}

func (s *Store) PushExisting(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return false, nil
	}
	if !e.isList {
		return false, ErrWrongType
	}
	e.list = append(e.list, value)
	return true, nil
}

// Range 按 LRANGE 的规则读取列表，负数下标从末尾计算
func (s *Store) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if !e.isList {
		return nil, ErrWrongType
	}

	n := int64(len(e.list))
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
	if start > stop || start >= n {
		return []string{}, nil
	}
	return append([]string{}, e.list[start:stop+1]...), nil
}

func (s *Store) Ping(context.Context) error {
	select {
	case <-s.stop:
		return errors.New("memory store closed")
	default:
		return nil
	}
}

// Close 停止清理协程并关闭所有订阅
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)

		s.subsMu.Lock()
		for sub := range s.subs {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.subsMu.Unlock()
	})
	return nil
}

// Publish 把消息投递给所有模式匹配的订阅，订阅缓冲已满时丢弃
func (s *Store) Publish(_ context.Context, topic string, payload []byte) error {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for sub := range s.subs {
		if ok, _ := path.Match(sub.pattern, topic); !ok {
			continue
		}
		msg := storage.Message{Topic: topic, Payload: append([]byte(nil), payload...)}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// PSubscribe 按 glob 模式订阅
func (s *Store) PSubscribe(_ context.Context, pattern string) (storage.Subscription, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:   s,
		pattern: pattern,
		ch:      make(chan storage.Message, subscriptionBuffer),
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	select {
	case <-s.stop:
		return nil, errors.New("memory store closed")
	default:
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

type subscription struct {
	store   *Store
	pattern string
	ch      chan storage.Message
}

func (sub *subscription) Messages() <-chan storage.Message {
	return sub.ch
}

func (sub *subscription) Close() error {
	sub.store.subsMu.Lock()
	defer sub.store.subsMu.Unlock()

	if _, ok := sub.store.subs[sub]; ok {
		delete(sub.store.subs, sub)
		close(sub.ch)
	}
	return nil
}
