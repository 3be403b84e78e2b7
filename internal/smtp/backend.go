// Package smtp 实现只接收邮件的 SMTP 服务，把收到的邮件交给投递流水线。
package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/parser"
	"github.com/tylaig/msatempmail/internal/service"
)

// Ingester 是 SMTP 会话依赖的投递入口，由 service.IngestService 实现
type Ingester interface {
	Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error)
}

var (
	errRelayDenied = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "relay access denied - domain not managed by this server",
	}
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errMessageTooLarge = &gosmtp.SMTPError{
		Code:         552,
		EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
		Message:      "message size exceeds limit",
	}
	errTemporaryFailure = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary storage failure, try again later",
	}
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往允许域名的邮件，不做任何中继。收件人邮箱是否存在由投递流水线判断，
// 不存在的邮箱被静默跳过，不会向发件方暴露哪些地址有效。
type Backend struct {
	ingest  Ingester
	limiter *ConnectionLimiter
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	domains  map[string]struct{}
	maxBytes int64
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingest Ingester, cfg *config.Config, log *zap.Logger, metrics *monitoring.Metrics) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Backend{
		ingest:  ingest,
		limiter: NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxConnRate),
		log:     log,
		metrics: metrics,
	}
	b.Reload(cfg)
	return b
}

// Reload 替换允许的域名和邮件大小上限
func (b *Backend) Reload(cfg *config.Config) {
	domains := make(map[string]struct{}, len(cfg.Mailbox.AllowedDomains))
	for _, d := range cfg.Mailbox.AllowedDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.domains = domains
	b.maxBytes = cfg.Ingest.MaxMessageBytes
}

func (b *Backend) domainAllowed(d string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.domains[d]
	return ok
}

func (b *Backend) messageLimit() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxBytes
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	if !b.limiter.Acquire() {
		b.metrics.RecordRateLimitBlock("smtp")
		return nil, errTooManyConnections
	}
	return &session{backend: b}, nil
}

type session struct {
	backend    *Backend
	from       string
	recipients []string
	released   bool
}

// Mail 处理 MAIL 命令，空的退信地址也被接受。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.NormalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受允许域名下的地址，其他域名一律返回 550，防止成为开放中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)

	_, recipientDomain, ok := domain.SplitAddress(addr)
	if !ok {
		return errInvalidRecipient
	}
	if !s.backend.domainAllowed(recipientDomain) {
		return errRelayDenied
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	limit := s.backend.messageLimit()
	if limit <= 0 {
		limit = 10 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > limit {
		return errMessageTooLarge
	}

	in := service.IngestInput{
		From:       domain.EnvelopeAddress{Address: s.from},
		Recipients: domain.Addresses(s.recipients...),
		RawBody:    raw,
	}

	// 邮件头无法解析时整封邮件按正文保存
	if parsed, err := parser.ParseMessage(bytes.NewReader(raw)); err == nil {
		in.Subject = parsed.Subject
		in.Headers = parsed.Headers
		in.RawBody = parsed.Body
		in.ContentType = parsed.ContentType
		in.TransferEncoding = parsed.TransferEncoding
		if s.from == "" {
			in.From = domain.EnvelopeAddress{Address: parsed.From}
		}
	} else {
		s.backend.log.Warn("failed to parse message header", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.backend.ingest.Ingest(ctx, in); err != nil {
		if errors.Is(err, service.ErrBackendUnavailable) {
			return errTemporaryFailure
		}
		return err
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if !s.released {
		s.released = true
		s.backend.limiter.Release()
	}
	return nil
}
