// Package parser 从原始邮件中提取主题、邮件头、纯文本和 HTML 正文。
package parser

import (
	"strings"
)

// Content 是一封邮件提取出的正文，两个字段都可能为空
type Content struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// Empty 报告是否既没有纯文本也没有 HTML
func (c Content) Empty() bool {
	return c.Text == "" && c.HTML == ""
}

const (
	mediaHTML  = "text/html"
	mediaPlain = "text/plain"

	headerContentType = "content-type:"
	headerCTE         = "content-transfer-encoding:"
	paramCharset      = "charset="
)

// Extract 以边界扫描的方式提取 text/html 和 text/plain 部分。
//
// 不做传输编码解码，base64 或 quoted-printable 的部分原样返回。
// 找不到边界或两部分都为空时，把整个正文按 HTML 或纯文本归类。
// 任何输入都不会出错，最坏情况下两个字段都为空。
func Extract(body []byte, contentType string) Content {
	raw := string(body)

	var out Content
	if boundary := Boundary(contentType); boundary != "" {
		out.HTML = cleanPart(findPart(raw, mediaHTML, boundary, false))
		out.Text = cleanPart(findPart(raw, mediaPlain, boundary, true))
	}

	if out.Empty() {
		out = classify(raw)
	}
	return out
}

// Boundary 从 Content-Type 中取出 boundary 参数。
//
// 参数名不区分大小写，等号两侧允许空白，值可以用单引号或双引号包裹，
// 遇到引号、空白或分号结束。
func Boundary(contentType string) string {
	lower := asciiLower(contentType)

	for from := 0; ; {
		i := strings.Index(lower[from:], "boundary")
		if i < 0 {
			return ""
		}
		pos := from + i + len("boundary")
		from = from + i + 1

		pos = skipSpace(contentType, pos)
		if pos >= len(contentType) || contentType[pos] != '=' {
			continue
		}
		pos = skipSpace(contentType, pos+1)
		if pos < len(contentType) && (contentType[pos] == '"' || contentType[pos] == '\'') {
			pos++
		}

		end := pos
		for end < len(contentType) && !isBoundaryStop(contentType[end]) {
			end++
		}
		if end > pos {
			return contentType[pos:end]
		}
	}
}

func isBoundaryStop(c byte) bool {
	switch c {
	case '"', '\'', ';':
		return true
	}
	return isSpace(c)
}

// findPart 找到第一个声明为 media 的部分，返回其头部之后到下一个边界之间的内容。
//
// stopAtContentType 为 true 时，遇到下一个 Content-Type: 也会结束。
func findPart(raw, media, boundary string, stopAtContentType bool) string {
	lower := asciiLower(raw)

	headerEnd := -1
	for from := 0; from < len(lower); {
		i := strings.Index(lower[from:], headerContentType)
		if i < 0 {
			break
		}
		pos := skipSpace(lower, from+i+len(headerContentType))
		if strings.HasPrefix(lower[pos:], media) {
			headerEnd = pos + len(media)
			break
		}
		from = from + i + 1
	}
	if headerEnd < 0 {
		return ""
	}

	start := blankLineEnd(raw, headerEnd)
	if start < 0 {
		return ""
	}

	// 边界来自发件人，只按字面量匹配
	end := len(raw)
	if i := strings.Index(lower[start:], "--"+asciiLower(boundary)); i >= 0 {
		end = start + i
	}
	if stopAtContentType {
		if i := strings.Index(lower[start:end], headerContentType); i >= 0 {
			end = start + i
		}
	}
	return raw[start:end]
}

// blankLineEnd 返回 from 之后第一个空行（\n\n 或 \n\r\n）结束的位置
func blankLineEnd(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] != '\n' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '\n' {
			return i + 2
		}
		if i+2 < len(s) && s[i+1] == '\r' && s[i+2] == '\n' {
			return i + 3
		}
	}
	return -1
}

// cleanPart 去掉混入正文的 Content-Type、Content-Transfer-Encoding 行和 charset 片段
func cleanPart(part string) string {
	if part == "" {
		return ""
	}
	part = removeThroughNewline(part, headerCTE)
	part = removeThroughNewline(part, headerContentType)
	part = removeToLineEnd(part, paramCharset)
	part = strings.Trim(part, "\r\n")
	return strings.TrimSpace(part)
}

// removeThroughNewline 删除每个 token 到其后第一个换行符（含）之间的内容，
// 后面没有换行符的 token 保持不变
func removeThroughNewline(s, token string) string {
	lower := asciiLower(s)

	var b strings.Builder
	last := 0
	for from := 0; from < len(s); {
		i := strings.Index(lower[from:], token)
		if i < 0 {
			break
		}
		start := from + i
		nl := strings.IndexByte(s[start+len(token):], '\n')
		if nl < 0 {
			break
		}
		end := start + len(token) + nl + 1
		b.WriteString(s[last:start])
		last = end
		from = end
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// removeToLineEnd 删除每个 token 到行尾（不含换行符）之间的内容
func removeToLineEnd(s, token string) string {
	lower := asciiLower(s)

	var b strings.Builder
	last := 0
	for from := 0; from < len(s); {
		i := strings.Index(lower[from:], token)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(token)
		for end < len(s) && s[end] != '\r' && s[end] != '\n' {
			end++
		}
		b.WriteString(s[last:start])
		last = end
		from = end
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// classify 把整个正文归为 HTML 或纯文本
func classify(raw string) Content {
	clean := strings.TrimSpace(raw)
	switch {
	case clean == "":
		return Content{}
	case strings.HasPrefix(clean, "<"),
		strings.Contains(clean, "<html"),
		strings.Contains(clean, "<body"),
		strings.Contains(clean, "<!DOCTYPE"):
		return Content{HTML: clean}
	default:
		return Content{Text: clean}
	}
}

// asciiLower 只转换 ASCII 字母，保证结果与原字符串按字节对齐
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && isSpace(s[pos]) {
		pos++
	}
	return pos
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
