package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tylaig/msatempmail/internal/service"
	"github.com/tylaig/msatempmail/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{storage.ErrMessageNotFound, http.StatusNotFound, MsgMessageNotFound},
	{storage.ErrMailboxNotFound, http.StatusNotFound, MsgMailboxNotFound},
	{service.ErrBackendUnavailable, http.StatusServiceUnavailable, MsgBackendUnavailable},
}

// GetErrorMessage 获取错误对应的 HTTP 状态码和中文消息
func GetErrorMessage(err error) (int, string) {
	for _, e := range errorMessages {
		if errors.Is(err, e.err) {
			return e.status, e.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 按错误类型返回响应
func respondError(c *gin.Context, err error) {
	status, msg := GetErrorMessage(err)
	_ = c.Error(err)
	Error(c, status, msg)
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidAddress     = "邮箱地址格式不正确"
	MsgMailboxNotFound    = "邮箱不存在"
	MsgMessageNotFound    = "邮件不存在"
	MsgBackendUnavailable = "存储服务暂时不可用，请稍后重试"
	MsgInternalError      = "服务器内部错误，请稍后重试"
)
