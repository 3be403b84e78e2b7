package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMIME(t *testing.T) {
	t.Run("解码 base64 和 quoted-printable", func(t *testing.T) {
		body := "--b1\r\n" +
			"Content-Type: text/plain; charset=iso-8859-1\r\n" +
			"Content-Transfer-Encoding: quoted-printable\r\n" +
			"\r\n" +
			"caf=E9\r\n" +
			"--b1\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"Content-Transfer-Encoding: base64\r\n" +
			"\r\n" +
			"PHA+aGk8L3A+\r\n" +
			"--b1--\r\n"

		got := ExtractMIME([]byte(body), `multipart/alternative; boundary="b1"`, "")
		assert.Equal(t, "café", got.Text)
		assert.Equal(t, "<p>hi</p>", got.HTML)
	})

	t.Run("递归解析嵌套结构并跳过附件", func(t *testing.T) {
		body := "--outer\r\n" +
			"Content-Type: text/plain; name=\"a.txt\"\r\n" +
			"Content-Disposition: attachment; filename=\"a.txt\"\r\n" +
			"\r\n" +
			"attached\r\n" +
			"--outer\r\n" +
			"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
			"\r\n" +
			"--inner\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"real text\r\n" +
			"--inner\r\n" +
			"Content-Type: text/html\r\n" +
			"\r\n" +
			"<b>real</b>\r\n" +
			"--inner--\r\n" +
			"--outer--\r\n"

		got := ExtractMIME([]byte(body), `multipart/mixed; boundary="outer"`, "")
		assert.Equal(t, "real text", got.Text)
		assert.Equal(t, "<b>real</b>", got.HTML)
	})

	t.Run("单部分正文按传输编码解码", func(t *testing.T) {
		got := ExtractMIME([]byte("aGVsbG8gd29ybGQ=\r\n"), "text/plain; charset=utf-8", "base64")
		assert.Equal(t, Content{Text: "hello world"}, got)
	})

	t.Run("单部分 HTML", func(t *testing.T) {
		got := ExtractMIME([]byte("<p>x</p>"), "text/html", "")
		assert.Equal(t, Content{HTML: "<p>x</p>"}, got)
	})

	t.Run("没有 Content-Type 时按纯文本处理", func(t *testing.T) {
		got := ExtractMIME([]byte("hello\n"), "", "")
		assert.Equal(t, Content{Text: "hello"}, got)
	})

	t.Run("解析不出内容时退回边界扫描", func(t *testing.T) {
		body := "no delimiter here <html><body>x</body></html>"

		got := ExtractMIME([]byte(body), "multipart/mixed; boundary=zz", "")
		assert.Equal(t, Content{HTML: body}, got)
	})

	t.Run("空正文", func(t *testing.T) {
		assert.True(t, ExtractMIME(nil, "text/plain", "").Empty())
	})
}
