package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
)

const (
	mailboxKeyPrefix = "mailbox:"
	messageKeyPrefix = "message:"

	// mailboxHead 是邮箱列表的第一个元素，它的存在就是邮箱存在的标记。
	// 标记和邮件 ID 在同一个键里，所以总是同时过期。
	mailboxHead = "__head__"

	// DefaultOpTimeout 单次后端操作的默认超时
	DefaultOpTimeout = 3 * time.Second
)

// MailboxKey 返回邮箱在后端中的键
func MailboxKey(address string) string {
	return mailboxKeyPrefix + address
}

// MessageKey 返回邮件记录在后端中的键
func MessageKey(id string) string {
	return messageKeyPrefix + id
}

// MailboxStore 维护 地址 -> 邮件 ID 列表 和 邮件 ID -> 邮件记录 两种映射，都带过期时间。
//
// 每个方法都在 opTimeout 内完成，超时按后端错误返回，不重试。
type MailboxStore struct {
	kv        KV
	opTimeout time.Duration
	log       *zap.Logger
}

// NewMailboxStore 创建邮箱存储
func NewMailboxStore(kv KV, opTimeout time.Duration, log *zap.Logger) *MailboxStore {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxStore{kv: kv, opTimeout: opTimeout, log: log}
}

func (s *MailboxStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// CreateMailbox 创建或重置邮箱：清空邮件列表并从现在开始计算 ttl
func (s *MailboxStore) CreateMailbox(ctx context.Context, address string, ttl time.Duration) (time.Duration, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("create mailbox %s: ttl must be positive", address)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.kv.ResetList(ctx, MailboxKey(address), mailboxHead, ttl); err != nil {
		return 0, fmt.Errorf("create mailbox %s: %w", address, err)
	}
	return ttl, nil
}

// MailboxExists 报告邮箱是否存在且未过期
func (s *MailboxStore) MailboxExists(ctx context.Context, address string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.kv.Exists(ctx, MailboxKey(address))
	if err != nil {
		return false, fmt.Errorf("check mailbox %s: %w", address, err)
	}
	return ok, nil
}

// RemainingTTL 返回邮箱剩余的生存时间，邮箱不存在时返回 ErrMailboxNotFound。
// 后端报告没有过期时间时返回 0。
func (s *MailboxStore) RemainingTTL(ctx context.Context, address string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ttl, err := s.kv.TTL(ctx, MailboxKey(address))
	if errors.Is(err, ErrKeyNotFound) {
		return 0, ErrMailboxNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mailbox ttl %s: %w", address, err)
	}
	return ttl, nil
}

// AppendMessage 保存邮件记录并把其 ID 追加到邮箱列表末尾。
//
// 先写邮件记录再追加 ID，读到 ID 的人一定能读到记录。邮箱不存在时返回
// ErrMailboxNotFound；若写入记录后邮箱恰好过期，会删除刚写入的记录。
func (s *MailboxStore) AppendMessage(ctx context.Context, address string, msg *domain.Message, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("append message %s: ttl must be positive", msg.ID)
	}

	exists, err := s.MailboxExists(ctx, address)
	if err != nil {
		return err
	}
	if !exists {
		return ErrMailboxNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.kv.SetEX(ctx, MessageKey(msg.ID), data, ttl); err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}

	pushed, err := s.kv.PushExisting(ctx, MailboxKey(address), msg.ID)
	if err != nil {
		return fmt.Errorf("append message %s to %s: %w", msg.ID, address, err)
	}
	if !pushed {
		if err := s.kv.Del(ctx, MessageKey(msg.ID)); err != nil {
			s.log.Warn("failed to remove orphaned message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		return ErrMailboxNotFound
	}
	return nil
}

// ListMessages 按写入顺序（最早的在前）返回邮箱中的邮件 ID。
//
// 邮箱存在但为空时返回空切片，不存在或已过期时返回 ErrMailboxNotFound。
func (s *MailboxStore) ListMessages(ctx context.Context, address string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	items, err := s.kv.Range(ctx, MailboxKey(address), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", address, err)
	}
	if len(items) == 0 || items[0] != mailboxHead {
		return nil, ErrMailboxNotFound
	}
	return append([]string{}, items[1:]...), nil
}

// GetMessage 读取邮件记录，不存在或已过期时返回 ErrMessageNotFound
func (s *MailboxStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, MessageKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, nil
}

// DeleteMailbox 立即删除邮箱及其列表，已有的邮件记录按各自的过期时间自然失效
func (s *MailboxStore) DeleteMailbox(ctx context.Context, address string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.kv.Del(ctx, MailboxKey(address)); err != nil {
		return fmt.Errorf("delete mailbox %s: %w", address, err)
	}
	return nil
}

// Ping 检查后端连接
func (s *MailboxStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.kv.Ping(ctx)
}
