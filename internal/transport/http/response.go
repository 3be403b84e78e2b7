package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一错误响应结构
//
// 成功响应直接返回业务数据，保持和现有前端、邮件服务器插件的约定一致。
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeBadRequest         = 400 // 请求参数错误
	CodeUnauthorized       = 401 // 未认证
	CodeNotFound           = 404 // 资源不存在
	CodeInternalError      = 500 // 服务器内部错误
	CodeServiceUnavailable = 503 // 后端暂时不可用
)

// OK 成功响应（200）
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// ServiceUnavailable 后端暂时不可用（503），调用方可以稍后重试
func ServiceUnavailable(c *gin.Context, msg string) {
	Error(c, http.StatusServiceUnavailable, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

// Error 通用错误响应（根据HTTP状态码自动选择）
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
		Data: nil,
	})
}
