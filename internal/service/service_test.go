package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/storage"
	"github.com/tylaig/msatempmail/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockPublisher 模拟通知发布
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, address string, msg *domain.Message) error {
	args := m.Called(ctx, address, msg)
	return args.Error(0)
}

// stubPublisher 记录发布过的邮件
type stubPublisher struct {
	mu        sync.Mutex
	published []*domain.Message
}

func (p *stubPublisher) Publish(_ context.Context, _ string, msg *domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{
			AllowedDomains: []string{"example.test", "other.test"},
			DefaultTTL:     15 * time.Minute,
			MaxTTL:         time.Hour,
		},
		Ingest: config.IngestConfig{
			Extractor:   config.ExtractorHeuristic,
			Concurrency: 4,
		},
	}
}

type fixture struct {
	store   *storage.MailboxStore
	kv      *memory.Store
	clock   *fakeClock
	mailbox *MailboxService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)}
	kv := memory.NewStore(memory.WithClock(clock.Now), memory.WithCleanupInterval(0))
	t.Cleanup(func() { kv.Close() })

	store := storage.NewMailboxStore(kv, time.Second, zap.NewNop())
	return &fixture{
		store:   store,
		kv:      kv,
		clock:   clock,
		mailbox: NewMailboxService(store, testConfig(), zap.NewNop(), nil),
	}
}

func (f *fixture) ingest(t *testing.T, publisher Publisher) *IngestService {
	t.Helper()
	svc := NewIngestService(f.store, publisher, testConfig(), zap.NewNop(), nil)
	svc.now = f.clock.Now
	return svc
}

func (f *fixture) provision(t *testing.T, localPart string) string {
	t.Helper()
	out, err := f.mailbox.Provision(context.Background(), ProvisionInput{LocalPart: localPart})
	require.NoError(t, err)
	return out.Address
}
