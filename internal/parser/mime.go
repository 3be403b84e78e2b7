package parser

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// maxMultipartDepth 限制嵌套 multipart 的深度
const maxMultipartDepth = 10

// ExtractMIME 按 MIME 结构解析正文，解码 base64/quoted-printable 并转换字符集。
//
// 递归处理嵌套的 multipart，第一个 text/plain 和第一个 text/html 生效，附件被跳过。
// 解析不出任何内容时退回 Extract。
func ExtractMIME(body []byte, contentType, transferEncoding string) Content {
	var out Content

	mediaType, params, err := mime.ParseMediaType(contentType)
	switch {
	case err != nil:
		// 没有或无法解析 Content-Type 时按纯文本处理
		out.Text = strings.TrimSpace(decodeBody(bytes.NewReader(body), transferEncoding, ""))
	case strings.HasPrefix(mediaType, "multipart/"):
		if boundary := params["boundary"]; boundary != "" {
			walkMultipart(multipart.NewReader(bytes.NewReader(body), boundary), &out, 0)
		}
	default:
		text := strings.TrimSpace(decodeBody(bytes.NewReader(body), transferEncoding, params["charset"]))
		if mediaType == mediaHTML {
			out.HTML = text
		} else if strings.HasPrefix(mediaType, "text/") {
			out.Text = text
		}
	}

	if out.Empty() {
		return Extract(body, contentType)
	}
	return out
}

// walkMultipart 递归解析多部分正文，格式错误时保留已经得到的内容
func walkMultipart(mr *multipart.Reader, out *Content, depth int) {
	if depth >= maxMultipartDepth {
		return
	}

	for {
		// 使用 NextRawPart，传输编码由 decodeBody 统一处理
		part, err := mr.NextRawPart()
		if err != nil {
			return
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = mediaPlain
		}

		if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
			if dispType, _, _ := mime.ParseMediaType(disposition); dispType == "attachment" {
				continue
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				walkMultipart(multipart.NewReader(part, boundary), out, depth+1)
			}
			continue
		}

		switch mediaType {
		case mediaHTML:
			if out.HTML == "" {
				out.HTML = strings.TrimSpace(decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"]))
			}
		case mediaPlain:
			if out.Text == "" {
				out.Text = strings.TrimSpace(decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"]))
			}
		}
	}
}

// decodeBody 根据编码方式解码邮件体，解码失败时尽量返回已读到的内容
func decodeBody(reader io.Reader, transferEncoding string, charset string) string {
	var decoded io.Reader
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit、8bit、binary 以及未知编码都直接读取
		decoded = reader
	}

	body, _ := io.ReadAll(decoded)

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc, err := htmlindex.Get(charset); err == nil {
			if converted, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
				body = converted
			}
		}
	}

	return string(body)
}
