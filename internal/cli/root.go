// Package cli 实现 mailctl 命令行工具。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tylaig/msatempmail/internal/config"
	"github.com/tylaig/msatempmail/internal/logger"
	"github.com/tylaig/msatempmail/internal/service"
	"github.com/tylaig/msatempmail/internal/storage"
	"github.com/tylaig/msatempmail/internal/storage/backend"
)

var rootCmd = &cobra.Command{
	Use:           "mailctl",
	Short:         "Operate a temporary mailbox deployment",
	Long:          "Provision and inspect mailboxes on the configured storage backend, and run the body extractor against local .eml files.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openMailboxes 按配置连接存储后端，返回邮箱服务和释放函数
func openMailboxes() (*service.MailboxService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{Level: "error", Development: cfg.Log.Development})
	if err != nil {
		log = zap.NewNop()
	}

	kv, err := backend.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewMailboxStore(kv, cfg.Redis.OpTimeout, log)
	svc := service.NewMailboxService(store, cfg, log, nil)
	return svc, func() {
		kv.Close()
		_ = log.Sync()
	}, nil
}
