package parser

import "strings"

// 正文提取模式
const (
	ModeHeuristic = "heuristic"
	ModeMIME      = "mime"
)

// Extractor 从邮件正文中提取纯文本和 HTML
type Extractor func(body []byte, contentType, transferEncoding string) Content

// NewExtractor 根据模式返回提取函数，未知模式使用边界扫描
func NewExtractor(mode string) Extractor {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeMIME:
		return ExtractMIME
	default:
		return func(body []byte, contentType, _ string) Content {
			return Extract(body, contentType)
		}
	}
}
