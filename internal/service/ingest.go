package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/monitoring"
	"github.com/tylaig/msatempmail/internal/parser"
	"github.com/tylaig/msatempmail/internal/storage"
)

// 单个收件人的投递结果
const (
	StatusDelivered = "delivered"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"

	ReasonNoAddress       = "no_address"
	ReasonMailboxNotFound = "mailbox_not_found"
)

// IngestInput 一封入站邮件，由 SMTP 会话或内部 HTTP 接口构造
type IngestInput struct {
	From             domain.EnvelopeAddress
	Recipients       domain.EnvelopeAddresses
	Subject          string
	Headers          map[string][]string
	RawBody          []byte
	ContentType      string
	TransferEncoding string

	// Text 与 HTML 由上游预先提取时直接使用，都为空才会调用正文提取
	Text string
	HTML string
}

// RecipientOutcome 单个收件人的处理结果
type RecipientOutcome struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IngestResult 一封邮件的整体处理结果
type IngestResult struct {
	Outcomes  []RecipientOutcome `json:"outcomes"`
	Delivered int                `json:"delivered"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
}

type ingestSettings struct {
	extractor   parser.Extractor
	mode        string
	concurrency int
	defaultTTL  time.Duration
}

// IngestService 把入站邮件写入收件人邮箱并通知在线查看者。
type IngestService struct {
	store     MailboxStore
	publisher Publisher
	log       *zap.Logger
	metrics   *monitoring.Metrics

	mu       sync.RWMutex
	settings ingestSettings

	now   func() time.Time
	newID func() string
}

// NewIngestService 创建投递服务
func NewIngestService(store MailboxStore, publisher Publisher, cfg *config.Config, log *zap.Logger, metrics *monitoring.Metrics) *IngestService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &IngestService{
		store:     store,
		publisher: publisher,
		log:       log,
		metrics:   metrics,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	s.Reload(cfg)
	return s
}

// Reload 替换提取模式、并发数和默认生存时间
func (s *IngestService) Reload(cfg *config.Config) {
	settings := ingestSettings{
		extractor:   parser.NewExtractor(cfg.Ingest.Extractor),
		mode:        cfg.Ingest.Extractor,
		concurrency: cfg.Ingest.Concurrency,
		defaultTTL:  cfg.Mailbox.DefaultTTL,
	}
	if settings.concurrency <= 0 {
		settings.concurrency = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *IngestService) current() ingestSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Ingest 把邮件投递给每个收件人。
//
// 正文只提取一次，收件人按规范化后的地址去重。收件人邮箱不存在时跳过。
// 任一收件人因存储或通知后端故障失败时返回包装 ErrBackendUnavailable 的错误，
// 结果中仍包含每个收件人的处理情况，失败不会中断其它收件人。
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	settings := s.current()

	start := time.Now()
	content := parser.Content{Text: in.Text, HTML: in.HTML}
	if content.Empty() && len(in.RawBody) > 0 {
		content = settings.extractor(in.RawBody, in.ContentType, in.TransferEncoding)
	}
	s.metrics.RecordEmailProcessingTime(settings.mode, time.Since(start))

	from := in.From.Resolve()
	raw := string(in.RawBody)
	date := s.now().UTC()

	recipients := uniqueRecipients(in.Recipients)
	result := &IngestResult{Outcomes: make([]RecipientOutcome, len(recipients))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.concurrency)
	for i, address := range recipients {
		if address == "" {
			result.Outcomes[i] = RecipientOutcome{Status: StatusSkipped, Reason: ReasonNoAddress}
			continue
		}
		g.Go(func() error {
			msg := &domain.Message{
				ID:      s.newID(),
				From:    from,
				To:      address,
				Subject: in.Subject,
				Text:    content.Text,
				HTML:    content.HTML,
				Raw:     raw,
				Headers: in.Headers,
				Date:    date,
			}
			result.Outcomes[i] = s.deliver(gctx, msg, settings.defaultTTL)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case StatusDelivered:
			result.Delivered++
		case StatusSkipped:
			result.Skipped++
		case StatusFailed:
			result.Failed++
			errs = append(errs, fmt.Errorf("%s: %s", outcome.Address, outcome.Reason))
		}
		s.metrics.RecordIngestOutcome(outcome.Status)
	}

	s.log.Info("email ingested",
		zap.String("from", from),
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered", result.Delivered),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)

	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %w", ErrBackendUnavailable, errors.Join(errs...))
	}
	return result, nil
}

// deliver 写入单个收件人邮箱，记录落盘后才发布通知
func (s *IngestService) deliver(ctx context.Context, msg *domain.Message, defaultTTL time.Duration) RecipientOutcome {
	outcome := RecipientOutcome{Address: msg.To}

	ttl, err := s.store.RemainingTTL(ctx, msg.To)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		outcome.Status = StatusSkipped
		outcome.Reason = ReasonMailboxNotFound
		s.log.Info("recipient skipped", zap.String("address", msg.To))
		return outcome
	}
	if err != nil {
		return s.failed(outcome, err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	if err := s.store.AppendMessage(ctx, msg.To, msg, ttl); err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			outcome.Status = StatusSkipped
			outcome.Reason = ReasonMailboxNotFound
			return outcome
		}
		return s.failed(outcome, err)
	}

	outcome.MessageID = msg.ID

	// 邮件已经保存，通知失败只影响在线查看者，刷新列表仍可看到
	if err := s.publisher.Publish(ctx, msg.To, msg); err != nil {
		return s.failed(outcome, fmt.Errorf("publish: %w", err))
	}

	outcome.Status = StatusDelivered
	return outcome
}

func (s *IngestService) failed(outcome RecipientOutcome, err error) RecipientOutcome {
	s.metrics.RecordError("backend", "ingest")
	s.log.Error("failed to deliver email",
		zap.String("address", outcome.Address),
		zap.Error(err),
	)
	outcome.Status = StatusFailed
	outcome.Reason = err.Error()
	return outcome
}

// uniqueRecipients 解析并去重收件人地址，保持原有顺序，无法解析的收件人保留为空字符串
func uniqueRecipients(list domain.EnvelopeAddresses) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, rcpt := range list {
		address := rcpt.Resolve()
		if address == "" {
			out = append(out, address)
			continue
		}
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}
