package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/storage"
)

const (
	randomLocalPartLength = 6
	localPartAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"

	// 随机地址撞上已有邮箱时最多重试的次数
	maxProvisionAttempts = 5

	// 读取邮件列表时并发读取邮件记录的数量
	listFetchConcurrency = 8
)

// MailboxService 封装邮箱相关业务操作。
type MailboxService struct {
	store   MailboxStore
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.RWMutex
	cfg       config.MailboxConfig
	domainSet map[string]struct{}

	randomLocalPart func() (string, error)
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store MailboxStore, cfg *config.Config, log *zap.Logger, metrics *monitoring.Metrics) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MailboxService{
		store:           store,
		log:             log,
		metrics:         metrics,
		randomLocalPart: generateRandomLocalPart,
	}
	s.Reload(cfg)
	return s
}

// Reload 替换域名列表和生存时间配置，对之后的请求生效
func (s *MailboxService) Reload(cfg *config.Config) {
	domainSet := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domainSet[d] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Mailbox
	s.domainSet = domainSet
}

func (s *MailboxService) config() (config.MailboxConfig, map[string]struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.domainSet
}

// ProvisionInput 定义开通邮箱所需的输入。
type ProvisionInput struct {
	TTLSeconds int64  // 不大于 0 时使用默认值，超过上限时截断
	LocalPart  string // 可选：自定义前缀
	Domain     string // 可选：不在允许列表中时使用默认域名
}

// Provisioned 开通结果
type Provisioned struct {
	Address string `json:"address"`
	TTL     int64  `json:"ttl"`
}

// Provision 开通一个新的临时邮箱。
//
// 自定义前缀对应的邮箱已存在时会被重置，旧邮件列表被丢弃。
// 自定义前缀为空或格式不合法时生成随机前缀。
func (s *MailboxService) Provision(ctx context.Context, in ProvisionInput) (*Provisioned, error) {
	cfg, domainSet := s.config()

	selectedDomain := pickDomain(in.Domain, cfg.AllowedDomains, domainSet)
	ttl := clampTTL(in.TTLSeconds, cfg)

	if custom := strings.TrimSpace(in.LocalPart); custom != "" {
		err := domain.ValidateLocalPart(custom)
		if err == nil {
			return s.create(ctx, strings.ToLower(custom)+"@"+selectedDomain, ttl)
		}
		// 不合法的前缀改用随机前缀
		s.log.Debug("custom local part rejected, using random one",
			zap.String("local_part", custom),
			zap.Error(err),
		)
	}

	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		localPart, err := s.randomLocalPart()
		if err != nil {
			return nil, fmt.Errorf("generate local part: %w", err)
		}
		address := localPart + "@" + selectedDomain

		exists, err := s.store.MailboxExists(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		if !exists {
			return s.create(ctx, address, ttl)
		}
		s.log.Debug("random address already in use", zap.String("address", address))
	}
	return nil, fmt.Errorf("no free address after %d attempts", maxProvisionAttempts)
}

func (s *MailboxService) create(ctx context.Context, address string, ttl time.Duration) (*Provisioned, error) {
	effective, err := s.store.CreateMailbox(ctx, address, ttl)
	if err != nil {
		s.metrics.RecordError("backend", "mailbox")
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	s.metrics.RecordMailboxCreated()
	s.log.Info("mailbox provisioned",
		zap.String("address", address),
		zap.Duration("ttl", effective),
	)

	return &Provisioned{Address: address, TTL: domain.DurationSeconds(effective)}, nil
}

// MessageList 邮件列表，Expired 为 true 表示邮箱不存在或已过期
type MessageList struct {
	Messages []domain.MessageSummary `json:"messages"`
	Expired  bool                    `json:"expired,omitempty"`
}

// ListMessages 返回邮箱中的邮件摘要，最新的在前。
//
// 邮箱不存在或已过期时返回 Expired 为 true 的空列表而不是错误；
// 已过期的邮件记录被跳过。
func (s *MailboxService) ListMessages(ctx context.Context, address string) (*MessageList, error) {
	address = domain.NormalizeAddress(address)

	ids, err := s.store.ListMessages(ctx, address)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return &MessageList{Messages: []domain.MessageSummary{}, Expired: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	// 按从新到旧的顺序并发读取
	found := make([]*domain.Message, len(ids))
	var g errgroup.Group
	g.SetLimit(listFetchConcurrency)
	for i := range ids {
		idx, id := len(ids)-1-i, ids[i]
		g.Go(func() error {
			msg, err := s.store.GetMessage(ctx, id)
			if errors.Is(err, storage.ErrMessageNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[idx] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	list := &MessageList{Messages: make([]domain.MessageSummary, 0, len(found))}
	for _, msg := range found {
		if msg != nil {
			list.Messages = append(list.Messages, msg.Summary())
		}
	}
	return list, nil
}

// GetMessage 读取完整邮件，不存在时返回 storage.ErrMessageNotFound
func (s *MailboxService) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := s.store.GetMessage(ctx, strings.TrimSpace(id))
	if errors.Is(err, storage.ErrMessageNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return msg, nil
}

// DeleteMailbox 立即删除邮箱，已发出的邮件记录按自身过期时间失效
func (s *MailboxService) DeleteMailbox(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(address)
	if err := s.store.DeleteMailbox(ctx, address); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	s.metrics.RecordMailboxDeleted()
	s.log.Info("mailbox deleted", zap.String("address", address))
	return nil
}

// pickDomain 挑选合法的邮箱域名，请求的域名不被允许时使用第一个域名。
func pickDomain(requested string, allowed []string, domainSet map[string]struct{}) string {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if _, ok := domainSet[requested]; ok {
		return requested
	}
	return allowed[0]
}

// clampTTL 把请求的秒数换算为生存时间
func clampTTL(seconds int64, cfg config.MailboxConfig) time.Duration {
	if seconds <= 0 {
		return cfg.DefaultTTL
	}
	if cfg.MaxTTL > 0 && seconds > int64(cfg.MaxTTL/time.Second) {
		return cfg.MaxTTL
	}
	return time.Duration(seconds) * time.Second
}

// generateRandomLocalPart 生成 6 位小写字母数字前缀。
func generateRandomLocalPart() (string, error) {
	buf := make([]byte, randomLocalPartLength)
	alphabetSize := big.NewInt(int64(len(localPartAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = localPartAlphabet[n.Int64()]
	}
	return string(buf), nil
}
