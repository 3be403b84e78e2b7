package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tylaig/msatempmail/internal/domain"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义临时邮箱的核心业务配置
type MailboxConfig struct {
	AllowedDomains []string      // 允许创建邮箱的域名列表，第一个为默认域名
	DefaultTTL     time.Duration // 邮箱默认生存时间，默认 15 分钟
	MaxTTL         time.Duration // 允许申请的最长生存时间，超过后截断
}

// IngestConfig 定义邮件投递流水线的配置
type IngestConfig struct {
	Extractor       string // 正文提取模式: "heuristic"（默认，兼容旧行为）或 "mime"
	Concurrency     int    // 单封邮件多收件人并发处理数
	MaxMessageBytes int64  // 单封邮件最大字节数
	InternalToken   string // /internal/save-email 的 Bearer 令牌
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	Enabled        bool   // 是否启动内置 SMTP 接收服务
	BindAddr       string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain         string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxConnections int    // 最大并发连接数
	MaxConnRate    int    // 每秒最多新建连接数
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address   string        // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password  string        // Redis 认证密码，留空表示无密码
	DB        int           // Redis 数据库编号，默认 0
	OpTimeout time.Duration // 单次操作超时，默认 3 秒
}

// StorageConfig 定义存储后端选择
type StorageConfig struct {
	Backend string // "redis"（默认）或 "memory"（开发环境）
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server  ServerConfig
	Mailbox MailboxConfig
	Ingest  IngestConfig
	SMTP    SMTPConfig
	CORS    CORSConfig
	Log     LogConfig
	Redis   RedisConfig
	Storage StorageConfig

	// File 为实际读取的配置文件路径（未使用配置文件时为空）
	File string
}

const (
	ExtractorHeuristic = "heuristic"
	ExtractorMIME      = "mime"

	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Load 从环境变量、.env 文件和可选的 YAML 配置文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（前缀 TEMPMAIL_，例如 TEMPMAIL_MAILBOX_DEFAULT_TTL）
//  2. .env 文件（如果存在）
//  3. TEMPMAIL_CONFIG_FILE 指向的配置文件
//  4. 默认值
//
// 每次调用都会构造新的 viper 实例，因此可以被配置监听器重复调用。
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	file := os.Getenv("TEMPMAIL_CONFIG_FILE")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return fromViper(v, file)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mailbox.allowed_domains", "localhost")
	v.SetDefault("mailbox.default_ttl", "15m")
	v.SetDefault("mailbox.max_ttl", "24h")
	v.SetDefault("ingest.extractor", ExtractorHeuristic)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_message_bytes", 10<<20)
	v.SetDefault("ingest.internal_token", "")
	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "localhost")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.max_conn_rate", 20)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.op_timeout", "3s")
	v.SetDefault("storage.backend", StorageRedis)
}

func fromViper(v *viper.Viper, file string) (*Config, error) {
	defaultTTL, err := time.ParseDuration(v.GetString("mailbox.default_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.default_ttl: %w", err)
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("mailbox.default_ttl must be positive")
	}

	maxTTL, err := time.ParseDuration(v.GetString("mailbox.max_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.max_ttl: %w", err)
	}
	if maxTTL < defaultTTL {
		maxTTL = defaultTTL
	}

	domainList := parseDomains(getList(v, "mailbox.allowed_domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.allowed_domains must not be empty")
	}
	for _, d := range domainList {
		if err := domain.ValidateDomain(d); err != nil {
			return nil, fmt.Errorf("invalid mailbox.allowed_domains entry %q: %w", d, err)
		}
	}

	extractor := strings.ToLower(strings.TrimSpace(v.GetString("ingest.extractor")))
	switch extractor {
	case ExtractorHeuristic, ExtractorMIME:
	default:
		return nil, fmt.Errorf("invalid ingest.extractor %q", extractor)
	}

	concurrency := v.GetInt("ingest.concurrency")
	if concurrency <= 0 {
		concurrency = 1
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("storage.backend")))
	switch backend {
	case StorageRedis, StorageMemory:
	default:
		return nil, fmt.Errorf("invalid storage.backend %q", backend)
	}

	opTimeout, err := time.ParseDuration(v.GetString("redis.op_timeout"))
	if err != nil || opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}

	corsOrigins := getList(v, "cors.allowed_origins")
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			AllowedDomains: domainList,
			DefaultTTL:     defaultTTL,
			MaxTTL:         maxTTL,
		},
		Ingest: IngestConfig{
			Extractor:       extractor,
			Concurrency:     concurrency,
			MaxMessageBytes: v.GetInt64("ingest.max_message_bytes"),
			InternalToken:   v.GetString("ingest.internal_token"),
		},
		SMTP: SMTPConfig{
			Enabled:        v.GetBool("smtp.enabled"),
			BindAddr:       v.GetString("smtp.bind_addr"),
			Domain:         v.GetString("smtp.domain"),
			MaxConnections: v.GetInt("smtp.max_connections"),
			MaxConnRate:    v.GetInt("smtp.max_conn_rate"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Redis: RedisConfig{
			Address:   v.GetString("redis.address"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			OpTimeout: opTimeout,
		},
		Storage: StorageConfig{
			Backend: backend,
		},
		File: file,
	}

	return cfg, nil
}

// getList 读取列表配置，兼容环境变量中的逗号分隔字符串和配置文件中的 YAML 数组
func getList(v *viper.Viper, key string) []string {
	switch val := v.Get(key).(type) {
	case string:
		return parseList(val)
	case []string:
		return parseList(strings.Join(val, ","))
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
		return parseList(strings.Join(items, ","))
	default:
		return nil
	}
}

// parseDomains 将域名列表统一转为小写
func parseDomains(out []string) []string {
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在，静默失败；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
