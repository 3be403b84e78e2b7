package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// 地址相关的错误定义
var (
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
)

// RFC 5322 长度限制
const (
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	// 自定义本地部分只允许字母、数字、点、下划线和连字符
	localPartRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// ValidateLocalPart 验证用户自定义的邮箱前缀
func ValidateLocalPart(localPart string) error {
	if localPart == "" {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}
	return nil
}

// NormalizeAddress 规范化邮箱地址：去除空白和尖括号并转为小写。
//
// 整个地址按大小写不敏感处理，A@Example.TEST 与 a@example.test 是同一个邮箱。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(strings.TrimSpace(addr))
}

// SplitAddress 拆分地址为本地部分和域名
func SplitAddress(addr string) (local, domain string, ok bool) {
	i := strings.LastIndexByte(addr, '@')
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}

// EnvelopeAddress 是信封中的一个地址。
//
// MTA 可能只给出裸地址字符串，也可能给出带 address/original/user/host
// 字段的结构体，Resolve 统一解析为规范化的裸地址。
type EnvelopeAddress struct {
	Address  string `json:"address,omitempty"`
	Original string `json:"original,omitempty"`
	User     string `json:"user,omitempty"`
	Host     string `json:"host,omitempty"`
}

// Resolve 返回规范化后的地址，无法解析时返回空字符串
func (a EnvelopeAddress) Resolve() string {
	switch {
	case strings.TrimSpace(a.Address) != "":
		return NormalizeAddress(a.Address)
	case strings.TrimSpace(a.Original) != "":
		return NormalizeAddress(a.Original)
	case a.User != "" && a.Host != "":
		return NormalizeAddress(a.User + "@" + a.Host)
	default:
		return ""
	}
}

// UnmarshalJSON 同时接受字符串和对象两种形式
func (a *EnvelopeAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = EnvelopeAddress{Address: s}
		return nil
	}

	type plain EnvelopeAddress
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("envelope address must be a string or an object: %w", err)
	}
	*a = EnvelopeAddress(p)
	return nil
}

// EnvelopeAddresses 收件人列表，JSON 中可以是单个地址或地址数组
type EnvelopeAddresses []EnvelopeAddress

// UnmarshalJSON 接受 null、单个地址或地址数组
func (l *EnvelopeAddresses) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []EnvelopeAddress
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	var single EnvelopeAddress
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = EnvelopeAddresses{single}
	return nil
}

// Addresses 把字符串地址转换为信封地址列表
func Addresses(addrs ...string) EnvelopeAddresses {
	out := make(EnvelopeAddresses, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, EnvelopeAddress{Address: addr})
	}
	return out
}
