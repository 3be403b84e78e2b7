package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 默认请求体大小限制
	DefaultBodyLimit = 10 * 1024 * 1024 // 10MB

	// SmallBodyLimit 普通 API 请求
	SmallBodyLimit = 1 * 1024 * 1024 // 1MB

	// ingestEnvelopeFactor 入站 JSON 同时携带原始正文、text、html 和邮件头
	ingestEnvelopeFactor = 3
	ingestHeadroom       = 256 * 1024
)

// IngestBodyLimit 根据单封邮件上限计算入站 JSON 请求体的上限，
// 保证 SMTP 能接收的邮件经 JSON 转发时不会被拒绝
func IngestBodyLimit(maxMessageBytes int64) int64 {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultBodyLimit
	}
	return maxMessageBytes*ingestEnvelopeFactor + ingestHeadroom
}

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultBodyLimit
	}

	return func(c *gin.Context) {
		// 检查 Content-Length 头
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":  http.StatusRequestEntityTooLarge,
				"msg":   fmt.Sprintf("请求体超过 %d 字节限制", maxBytes),
				"limit": maxBytes,
			})
			c.Abort()
			return
		}

		// 没有 Content-Length 时由读取端截断
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
