package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Parsed 是拆分后的原始邮件：解码后的邮件头加未经处理的正文
type Parsed struct {
	Subject          string
	From             string
	ContentType      string
	TransferEncoding string
	Headers          map[string][]string
	Body             []byte
}

// ParseMessage 读取一封 RFC 5322 邮件，拆出邮件头和原始正文。
//
// 正文不做任何解码，交给 Extractor 处理。
func ParseMessage(r io.Reader) (*Parsed, error) {
	br := bufio.NewReader(r)

	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	h := mail.Header{Header: message.Header{Header: hdr}}

	subject, err := h.Subject()
	if err != nil {
		subject = hdr.Get("Subject")
	}

	from := hdr.Get("From")
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}

	return &Parsed{
		Subject:          subject,
		From:             from,
		ContentType:      hdr.Get("Content-Type"),
		TransferEncoding: hdr.Get("Content-Transfer-Encoding"),
		Headers:          DecodeHeaders(hdr),
		Body:             body,
	}, nil
}

// DecodeHeaders 把邮件头转换为小写键的映射，并解码 RFC 2047 编码字。
//
// 无法解码的字段保留原值。
func DecodeHeaders(hdr textproto.Header) map[string][]string {
	out := make(map[string][]string, hdr.Len())

	mh := message.Header{Header: hdr}
	fields := mh.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		key := strings.ToLower(fields.Key())
		out[key] = append(out[key], value)
	}
	return out
}
