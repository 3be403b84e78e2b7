package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/tylaig/msatempmail/internal/config"
)

// 单封邮件最多的收件人数
const maxRecipients = 50

// NewServer 创建只接收邮件的 SMTP 服务器
func NewServer(backend *Backend, cfg *config.Config) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.SMTP.BindAddr
	srv.Domain = cfg.SMTP.Domain
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = cfg.Ingest.MaxMessageBytes
	srv.MaxRecipients = maxRecipients
	return srv
}
