package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/domain"
	"github.com/tylaig/msatempmail/internal/storage"
)

func TestMailboxService_Provision(t *testing.T) {
	ctx := context.Background()

	t.Run("随机地址使用默认域名和默认生存时间", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{})
		require.NoError(t, err)

		assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]{6}@example\.test$`), out.Address)
		assert.Equal(t, int64(900), out.TTL)

		list, err := f.mailbox.ListMessages(ctx, out.Address)
		require.NoError(t, err)
		assert.False(t, list.Expired)
		assert.Empty(t, list.Messages)
	})

	t.Run("自定义前缀和允许的域名", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{LocalPart: "Demo", Domain: "Other.Test", TTLSeconds: 60})
		require.NoError(t, err)
		assert.Equal(t, "demo@other.test", out.Address)
		assert.Equal(t, int64(60), out.TTL)
	})

	t.Run("不允许的域名回退到默认域名", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{LocalPart: "demo", Domain: "evil.test"})
		require.NoError(t, err)
		assert.Equal(t, "demo@example.test", out.Address)
	})

	t.Run("超过上限的生存时间被截断", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{LocalPart: "demo", TTLSeconds: 86400})
		require.NoError(t, err)
		assert.Equal(t, int64(3600), out.TTL)
	})

	t.Run("非法前缀改用随机前缀", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{LocalPart: "bad local!"})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]{6}@example\.test$`), out.Address)

		exists, err := f.store.MailboxExists(ctx, out.Address)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("超长前缀改用随机前缀", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.mailbox.Provision(ctx, ProvisionInput{LocalPart: strings.Repeat("a", 65)})
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]{6}@example\.test$`), out.Address)
	})

	t.Run("随机地址冲突时重新生成", func(t *testing.T) {
		f := newFixture(t)
		f.provision(t, "aaaaaa")

		candidates := []string{"aaaaaa", "bbbbbb"}
		f.mailbox.randomLocalPart = func() (string, error) {
			next := candidates[0]
			candidates = candidates[1:]
			return next, nil
		}

		out, err := f.mailbox.Provision(ctx, ProvisionInput{})
		require.NoError(t, err)
		assert.Equal(t, "bbbbbb@example.test", out.Address)
	})

	t.Run("重复开通会清空邮箱", func(t *testing.T) {
		f := newFixture(t)
		addr := f.provision(t, "demo")
		_, err := f.ingest(t, &stubPublisher{}).Ingest(ctx, IngestInput{
			Recipients: domain.Addresses(addr),
			Subject:    "first",
			Text:       "hello",
		})
		require.NoError(t, err)

		f.provision(t, "demo")

		list, err := f.mailbox.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.Empty(t, list.Messages)
	})
}

func TestMailboxService_ListMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("不存在的邮箱标记为过期", func(t *testing.T) {
		f := newFixture(t)

		list, err := f.mailbox.ListMessages(ctx, "nobody@example.test")
		require.NoError(t, err)
		assert.True(t, list.Expired)
		assert.NotNil(t, list.Messages)
		assert.Empty(t, list.Messages)
	})

	t.Run("最新的邮件在前", func(t *testing.T) {
		f := newFixture(t)
		addr := f.provision(t, "demo")
		ingest := f.ingest(t, &stubPublisher{})

		for _, subject := range []string{"one", "two", "three"} {
			_, err := ingest.Ingest(ctx, IngestInput{Recipients: domain.Addresses(addr), Subject: subject, Text: subject})
			require.NoError(t, err)
			f.clock.Advance(time.Second)
		}

		list, err := f.mailbox.ListMessages(ctx, "DEMO@example.test")
		require.NoError(t, err)
		require.Len(t, list.Messages, 3)
		assert.Equal(t, "three", list.Messages[0].Subject)
		assert.Equal(t, "one", list.Messages[2].Subject)
	})

	t.Run("跳过已失效的邮件记录", func(t *testing.T) {
		f := newFixture(t)
		addr := f.provision(t, "demo")
		result, err := f.ingest(t, &stubPublisher{}).Ingest(ctx, IngestInput{Recipients: domain.Addresses(addr), Text: "x"})
		require.NoError(t, err)

		require.NoError(t, f.kv.Del(ctx, storage.MessageKey(result.Outcomes[0].MessageID)))

		list, err := f.mailbox.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.False(t, list.Expired)
		assert.Empty(t, list.Messages)
	})

	t.Run("邮箱过期后列表标记为过期", func(t *testing.T) {
		f := newFixture(t)
		addr := f.provision(t, "demo")

		f.clock.Advance(15*time.Minute + time.Second)

		list, err := f.mailbox.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.True(t, list.Expired)
	})
}

func TestMailboxService_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	addr := f.provision(t, "demo")

	result, err := f.ingest(t, &stubPublisher{}).Ingest(ctx, IngestInput{
		From:       domain.EnvelopeAddress{Address: "sender@remote.test"},
		Recipients: domain.Addresses(addr),
		Subject:    "hi",
		Text:       "body",
		HTML:       "<p>body</p>",
	})
	require.NoError(t, err)
	id := result.Outcomes[0].MessageID

	t.Run("读取完整邮件", func(t *testing.T) {
		msg, err := f.mailbox.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "sender@remote.test", msg.From)
		assert.Equal(t, "<p>body</p>", msg.HTML)
	})

	t.Run("不存在的邮件", func(t *testing.T) {
		_, err := f.mailbox.GetMessage(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("删除邮箱", func(t *testing.T) {
		require.NoError(t, f.mailbox.DeleteMailbox(ctx, addr))

		list, err := f.mailbox.ListMessages(ctx, addr)
		require.NoError(t, err)
		assert.True(t, list.Expired)
	})
}

func TestMailboxService_Reload(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Mailbox.AllowedDomains = []string{"new.test"}
	cfg.Mailbox.DefaultTTL = 5 * time.Minute

	f.mailbox.Reload(cfg)

	out, err := f.mailbox.Provision(context.Background(), ProvisionInput{LocalPart: "demo", Domain: "example.test"})
	require.NoError(t, err)
	assert.Equal(t, "demo@new.test", out.Address)
	assert.Equal(t, int64(300), out.TTL)
}

// brokenStore 所有操作都失败
type brokenStore struct {
	MailboxStore
}

var errBroken = errors.New("connection refused")

func (brokenStore) CreateMailbox(context.Context, string, time.Duration) (time.Duration, error) {
	return 0, errBroken
}

func (brokenStore) ListMessages(context.Context, string) ([]string, error) {
	return nil, errBroken
}

func TestMailboxService_BackendUnavailable(t *testing.T) {
	svc := NewMailboxService(brokenStore{}, testConfig(), zap.NewNop(), nil)

	_, err := svc.Provision(context.Background(), ProvisionInput{LocalPart: "demo"})
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, errBroken)

	_, err = svc.ListMessages(context.Background(), "demo@example.test")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestGenerateRandomLocalPart(t *testing.T) {
	for i := 0; i < 20; i++ {
		local, err := generateRandomLocalPart()
		require.NoError(t, err)
		assert.Len(t, local, 6)
		assert.NoError(t, domain.ValidateLocalPart(local))
	}
}

func TestGenerateRandomLocalPart_Uniform(t *testing.T) {
	const draws = 60000
	counts := make(map[rune]int, len(localPartAlphabet))
	for i := 0; i < draws; i++ {
		local, err := generateRandomLocalPart()
		require.NoError(t, err)
		for _, c := range local {
			counts[c]++
		}
	}

	// 每个字符期望出现 10000 次，取模偏差会让前 4 个字符多出约 12%
	expected := float64(draws*randomLocalPartLength) / float64(len(localPartAlphabet))
	require.Len(t, counts, len(localPartAlphabet))
	for c, n := range counts {
		assert.InDelta(t, expected, float64(n), expected*0.05, "char %q", c)
	}
}
